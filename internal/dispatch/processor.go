package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/psouza/broadcastd/internal/config"
	"github.com/psouza/broadcastd/internal/gateway"
	"github.com/psouza/broadcastd/internal/models"
	"github.com/psouza/broadcastd/internal/storage"
)

const maxLogMessage = 4000

type blockOutcome int

const (
	outcomeSent blockOutcome = iota
	outcomeFailed
	outcomeGuarded
)

// Processor runs one claimed campaign job to a terminal or suspended
// state: recipients in list order from the persisted cursor, blocks in
// array order per recipient. One bad recipient never halts the campaign.
type Processor struct {
	store   storage.Storage
	gw      gateway.Dispatcher
	builder *gateway.Builder
	dedup   DedupCache
	cfg     config.WorkerConfig
	log     zerolog.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(min, max time.Duration) time.Duration
}

func NewProcessor(store storage.Storage, gw gateway.Dispatcher, dedup DedupCache, cfg config.WorkerConfig, log zerolog.Logger) *Processor {
	return &Processor{
		store:   store,
		gw:      gw,
		builder: gateway.NewBuilder(log),
		dedup:   dedup,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
		jitter:  jitterRange,
	}
}

type pacing struct {
	contactMin, contactMax time.Duration
	itemMin, itemMax       time.Duration
}

func (p *Processor) Run(ctx context.Context, jobID string) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Status.Terminal() {
		return nil
	}

	log := p.log.With().Str("job_id", job.ID).Str("job", job.Name).Logger()

	skip, err := p.claimSkipSet(ctx, job)
	if err != nil {
		return err
	}

	runID := job.RunID
	if runID == "" {
		runID = models.NewID("run")
	}
	running := models.JobRunning
	paused := false
	if err := p.store.PatchJob(ctx, job.ID, storage.JobPatch{
		Status: &running, IsPaused: &paused, RunID: &runID,
	}); err != nil {
		return fmt.Errorf("claim job %s: %w", job.ID, err)
	}

	contacts := models.NormalizeContacts(job.Payload.Contacts)
	pace := p.pacingFor(job.Payload.Delays)

	log.Info().
		Str("run_id", runID).
		Int("contacts", len(contacts)).
		Int("blocks", len(job.Payload.Blocks)).
		Int("cursor", job.ProgressContactIx).
		Msg("campaign run started")

	successes, failures := 0, 0
	for ix := job.ProgressContactIx; ix < len(contacts); ix++ {
		switch p.checkSignal(ctx, job.ID, log) {
		case models.JobPaused:
			log.Info().Int("cursor", ix).Msg("campaign paused")
			return nil
		case models.JobCanceled:
			log.Info().Int("cursor", ix).Msg("campaign canceled")
			return nil
		}

		contact := contacts[ix]
		if skip[contact.Number] {
			log.Debug().Str("number", contact.Number).Msg("recipient in skip set")
			p.advanceCursor(ctx, job.ID, ix+1, log)
			continue
		}

		sent, failed, err := p.processContact(ctx, job, runID, ix, contact, pace, log)
		successes += sent
		failures += failed
		if err != nil {
			// Aborted mid-recipient, usually worker shutdown: the cursor
			// stays on this recipient so a restart re-runs their remaining
			// blocks. The duplicate guard absorbs what already went out.
			return err
		}

		p.advanceCursor(ctx, job.ID, ix+1, log)

		if ix < len(contacts)-1 {
			if err := p.sleep(ctx, p.jitter(pace.contactMin, pace.contactMax)); err != nil {
				return err
			}
		}
	}

	status := models.JobFailed
	if successes > 0 || len(contacts) == 0 {
		status = models.JobDone
	}
	if err := p.store.PatchJob(ctx, job.ID, storage.JobPatch{
		Status: &status, IsPaused: &paused,
	}); err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}

	log.Info().
		Str("status", string(status)).
		Int("sent", successes).
		Int("failed", failures).
		Msg("campaign run finished")
	return nil
}

// claimSkipSet merges the retry-skip failures into the job's skip list,
// persisting the merged set and clearing the flag exactly once. Flipping
// the flag again re-triggers recomputation.
func (p *Processor) claimSkipSet(ctx context.Context, job *models.Job) (map[string]bool, error) {
	skip := make(map[string]bool)
	for _, n := range job.SkipNumbers {
		if norm := models.NormalizeNumber(n); norm != "" {
			skip[norm] = true
		}
	}
	for _, n := range job.Payload.SkipNumbers {
		if norm := models.NormalizeNumber(n); norm != "" {
			skip[norm] = true
		}
	}

	if !job.RetrySkipFailed {
		return skip, nil
	}

	failed, err := FailedNumbers(ctx, p.store, job.ID, job.RunID)
	if err != nil {
		return nil, fmt.Errorf("resolve failed recipients for %s: %w", job.ID, err)
	}
	for n := range failed {
		skip[n] = true
	}

	merged := make([]string, 0, len(skip))
	for n := range skip {
		merged = append(merged, n)
	}
	sort.Strings(merged)

	cleared := false
	if err := p.store.PatchJob(ctx, job.ID, storage.JobPatch{
		SkipNumbers: &merged, RetrySkipFailed: &cleared,
	}); err != nil {
		return nil, fmt.Errorf("persist skip set for %s: %w", job.ID, err)
	}
	return skip, nil
}

// checkSignal re-reads job state at the recipient boundary. Pause and
// cancel are cooperative: in-flight blocks for the current recipient
// finish before either takes effect.
func (p *Processor) checkSignal(ctx context.Context, jobID string, log zerolog.Logger) models.JobStatus {
	fresh, err := p.store.GetJob(ctx, jobID)
	if err != nil || fresh == nil {
		if err != nil {
			log.Warn().Err(err).Msg("signal check failed, continuing")
		}
		return models.JobRunning
	}
	switch {
	case fresh.Status == models.JobCanceled:
		paused := false
		canceled := models.JobCanceled
		if err := p.store.PatchJob(ctx, jobID, storage.JobPatch{Status: &canceled, IsPaused: &paused}); err != nil {
			log.Warn().Err(err).Msg("persist canceled state failed")
		}
		return models.JobCanceled
	case fresh.IsPaused || fresh.Status == models.JobPaused:
		pausedStatus := models.JobPaused
		if err := p.store.PatchJob(ctx, jobID, storage.JobPatch{Status: &pausedStatus}); err != nil {
			log.Warn().Err(err).Msg("persist paused state failed")
		}
		return models.JobPaused
	}
	return models.JobRunning
}

// processContact sends every block to one recipient. Block-level errors
// are logged and the next block proceeds; an unexpected panic is caught
// here so the cursor still advances past the recipient. A non-nil err
// means the recipient was aborted before all blocks went out.
func (p *Processor) processContact(ctx context.Context, job *models.Job, runID string, ix int, contact models.Contact, pace pacing, log zerolog.Logger) (successes, failures int, err error) {
	defer func() {
		if r := recover(); r != nil {
			failures++
			log.Error().Str("number", contact.Number).Interface("panic", r).Msg("recipient processing panicked")
			p.writeLog(ctx, job.ID, runID, contact, 0, models.LogError, 0,
				map[string]interface{}{"error": fmt.Sprintf("recipient processing panicked: %v", r)})
		}
	}()

	blocks := job.Payload.Blocks
	for bi, block := range blocks {
		outcome := p.processBlock(ctx, job, runID, contact, bi, block, log)
		switch outcome {
		case outcomeSent:
			successes++
		case outcomeFailed:
			failures++
		}

		if bi < len(blocks)-1 {
			wait := p.jitter(pace.itemMin, pace.itemMax)
			if block.ItemWait != nil && *block.ItemWait >= 0 {
				wait = time.Duration(*block.ItemWait) * time.Second
			}
			if err = p.sleep(ctx, wait); err != nil {
				return
			}
		}
	}
	return
}

func (p *Processor) processBlock(ctx context.Context, job *models.Job, runID string, contact models.Contact, bi int, block models.Block, log zerolog.Logger) blockOutcome {
	action, body, err := p.builder.Build(block, models.BareNumber(contact.Number), contact.Name)
	if err != nil {
		log.Error().Err(err).Str("number", contact.Number).Int("block", bi).Msg("payload build failed")
		p.writeLog(ctx, job.ID, runID, contact, 0, models.LogError, bi,
			map[string]interface{}{"error": err.Error()})
		return outcomeFailed
	}

	// Double pass: the builder may itself introduce placeholder-bearing
	// text. Whatever survives two passes is sent literally.
	now := p.now()
	body = gateway.ResolveTokens(body, contact.Name, now).(map[string]interface{})
	body = gateway.ResolveTokens(body, contact.Name, now).(map[string]interface{})

	if p.dedup.ShouldSuppress(job.ID, contact.Number, bi, action, body) {
		log.Info().Str("number", contact.Number).Int("block", bi).Msg("duplicate send suppressed")
		p.writeLog(ctx, job.ID, runID, contact, 0, models.LogInfo, bi,
			map[string]interface{}{"action": action, "guarded": true})
		return outcomeGuarded
	}

	res := p.gw.Send(ctx, job.Payload.Profile, action, body)

	level := models.LogInfo
	if !res.OK {
		level = models.LogError
	}
	p.writeLog(ctx, job.ID, runID, contact, res.Status, level, bi, logMessage(action, body, res))

	if res.OK {
		return outcomeSent
	}
	log.Warn().
		Str("number", contact.Number).
		Int("block", bi).
		Int("status", res.Status).
		Str("error", res.Error).
		Msg("send failed")
	return outcomeFailed
}

func (p *Processor) advanceCursor(ctx context.Context, jobID string, next int, log zerolog.Logger) {
	if err := p.store.PatchJob(ctx, jobID, storage.JobPatch{ProgressContactIx: &next}); err != nil {
		log.Warn().Err(err).Int("cursor", next).Msg("persist cursor failed")
	}
}

func (p *Processor) writeLog(ctx context.Context, jobID, runID string, contact models.Contact, status int, level models.LogLevel, blockIx int, message map[string]interface{}) {
	raw, _ := json.Marshal(message)
	entry := &models.DeliveryLog{
		ID:         models.NewID("log"),
		JobID:      jobID,
		RunID:      runID,
		Contact:    contact.Name,
		Number:     contact.Number,
		HTTPStatus: status,
		Level:      level,
		BlockIx:    blockIx,
		Message:    string(raw),
		CreatedAt:  p.now().UTC(),
	}
	if err := p.store.CreateDeliveryLog(ctx, entry); err != nil {
		p.log.Warn().Err(err).Str("job_id", jobID).Msg("delivery log write failed")
	}
}

// logMessage assembles the diagnostic document for a send, progressively
// truncated to fit the log store ceiling: full, then without the raw
// gateway response, then action/status/error only.
func logMessage(action string, body map[string]interface{}, res gateway.SendResult) map[string]interface{} {
	full := map[string]interface{}{
		"action":     action,
		"body":       body,
		"status":     res.Status,
		"connection": res.Connection,
	}
	if res.Response != "" {
		full["response"] = res.Response
	}
	if res.Error != "" {
		full["error"] = res.Error
	}
	if res.DryRun {
		full["dryRun"] = true
	}

	if fits(full) {
		return full
	}
	delete(full, "response")
	if fits(full) {
		return full
	}
	return map[string]interface{}{
		"action": action,
		"status": res.Status,
		"error":  res.Error,
	}
}

func fits(m map[string]interface{}) bool {
	raw, err := json.Marshal(m)
	return err == nil && len(raw) <= maxLogMessage
}

func (p *Processor) pacingFor(d models.Delays) pacing {
	out := pacing{
		contactMin: p.cfg.ContactDelayMin,
		contactMax: p.cfg.ContactDelayMax,
		itemMin:    p.cfg.ItemDelayMin,
		itemMax:    p.cfg.ItemDelayMax,
	}
	if d.ContactMin > 0 {
		out.contactMin = time.Duration(d.ContactMin) * time.Second
	}
	if d.ContactMax > 0 {
		out.contactMax = time.Duration(d.ContactMax) * time.Second
	}
	if d.ItemMin > 0 {
		out.itemMin = time.Duration(d.ItemMin) * time.Second
	}
	if d.ItemMax > 0 {
		out.itemMax = time.Duration(d.ItemMax) * time.Second
	}
	if out.contactMax < out.contactMin {
		out.contactMax = out.contactMin
	}
	if out.itemMax < out.itemMin {
		out.itemMax = out.itemMin
	}
	return out
}

func jitterRange(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
