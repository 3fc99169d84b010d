package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/psouza/broadcastd/internal/config"
	"github.com/psouza/broadcastd/internal/models"
	"github.com/psouza/broadcastd/internal/storage"
)

// Poller is the scheduler loop: one fixed-interval tick that promotes due
// scheduled jobs, picks queued jobs fairly across tenant groups and runs
// a Processor per selection. Overlapping ticks are skipped via the busy
// flag; a tick failure is logged and the loop keeps going.
type Poller struct {
	store       storage.Storage
	proc        *Processor
	interval    time.Duration
	concurrency int
	batchSize   int
	log         zerolog.Logger

	busy atomic.Bool
	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

func NewPoller(cfg config.WorkerConfig, store storage.Storage, proc *Processor, log zerolog.Logger) *Poller {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	batch := cfg.BatchSize
	if batch <= concurrency {
		// Fetch well beyond the concurrency limit so grouping sees
		// enough tenants to be fair.
		batch = concurrency * 10
	}
	return &Poller{
		store:       store,
		proc:        proc,
		interval:    cfg.PollInterval,
		concurrency: concurrency,
		batchSize:   batch,
		log:         log,
		stop:        make(chan struct{}),
		now:         time.Now,
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.log.Info().
		Dur("interval", p.interval).
		Int("concurrency", p.concurrency).
		Msg("starting campaign poller")

	p.recoverOrphans(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

func (p *Poller) Stop() {
	p.log.Info().Msg("stopping campaign poller")
	close(p.stop)
	p.wg.Wait()
	p.log.Info().Msg("campaign poller stopped")
}

func (p *Poller) tick(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		return
	}
	defer p.busy.Store(false)

	if err := p.promoteScheduled(ctx); err != nil {
		p.log.Error().Err(err).Msg("promote scheduled jobs failed")
	}

	notPaused := false
	queued, err := p.store.ListJobs(ctx, storage.JobFilter{
		Status:      models.JobQueued,
		Paused:      &notPaused,
		OldestFirst: true,
		Limit:       p.batchSize,
	})
	if err != nil {
		p.log.Error().Err(err).Msg("fetch queued jobs failed")
		return
	}

	selected := SelectFair(queued, p.concurrency)
	if len(selected) == 0 {
		return
	}

	var wg conc.WaitGroup
	for _, job := range selected {
		job := job
		wg.Go(func() {
			p.runJob(ctx, job)
		})
	}
	wg.Wait()
}

// runJob isolates one job's run: an error or panic marks that job failed
// and never affects its siblings in the tick. A worker shutdown is not a
// job defect: the interrupted job goes back to the queue with its cursor
// intact for the next worker.
func (p *Poller) runJob(ctx context.Context, job models.Job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("job_id", job.ID).Interface("panic", r).Msg("job processing panicked")
			p.markFailed(ctx, job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	err := p.proc.Run(ctx, job.ID)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		p.log.Info().Str("job_id", job.ID).Msg("job interrupted by shutdown, requeued")
		p.requeue(job.ID)
		return
	}
	p.log.Error().Err(err).Str("job_id", job.ID).Msg("job processing failed")
	p.markFailed(ctx, job.ID, err.Error())
}

// requeue runs on a fresh context; the worker context is already
// canceled when a shutdown interrupts a job.
func (p *Poller) requeue(jobID string) {
	queued := models.JobQueued
	if err := p.store.PatchJob(context.Background(), jobID, storage.JobPatch{Status: &queued}); err != nil {
		p.log.Error().Err(err).Str("job_id", jobID).Msg("requeue interrupted job failed")
	}
}

func (p *Poller) markFailed(ctx context.Context, jobID, reason string) {
	failed := models.JobFailed
	paused := false
	if err := p.store.PatchJob(ctx, jobID, storage.JobPatch{Status: &failed, IsPaused: &paused}); err != nil {
		p.log.Error().Err(err).Str("job_id", jobID).Str("reason", reason).Msg("mark job failed errored")
	}
}

// recoverOrphans requeues jobs a previous worker process left in running
// state. A single worker runs against the store, so anything still marked
// running at startup is not actually being processed; the retained cursor
// makes the requeue a resume, not a restart.
func (p *Poller) recoverOrphans(ctx context.Context) {
	running, err := p.store.ListJobs(ctx, storage.JobFilter{
		Status:      models.JobRunning,
		OldestFirst: true,
	})
	if err != nil {
		p.log.Error().Err(err).Msg("scan for orphaned jobs failed")
		return
	}

	queued := models.JobQueued
	for _, job := range running {
		if err := p.store.PatchJob(ctx, job.ID, storage.JobPatch{Status: &queued}); err != nil {
			p.log.Warn().Err(err).Str("job_id", job.ID).Msg("requeue orphaned job failed")
			continue
		}
		p.log.Info().
			Str("job_id", job.ID).
			Int("cursor", job.ProgressContactIx).
			Msg("orphaned running job requeued")
	}
}

func (p *Poller) promoteScheduled(ctx context.Context) error {
	notPaused := false
	now := p.now().UTC()
	due, err := p.store.ListJobs(ctx, storage.JobFilter{
		Status:      models.JobScheduled,
		Paused:      &notPaused,
		DueBefore:   &now,
		OldestFirst: true,
		Limit:       p.batchSize,
	})
	if err != nil {
		return err
	}

	queued := models.JobQueued
	for _, job := range due {
		if err := p.store.PatchJob(ctx, job.ID, storage.JobPatch{Status: &queued}); err != nil {
			p.log.Warn().Err(err).Str("job_id", job.ID).Msg("promote scheduled job failed")
			continue
		}
		p.log.Info().Str("job_id", job.ID).Str("job", job.Name).Msg("scheduled job promoted")
	}
	return nil
}

// SelectFair picks at most one job per tenant group, oldest first within
// each group, up to limit. Group diversity beats raw queue order so one
// tenant's backlog cannot starve the others.
func SelectFair(jobs []models.Job, limit int) []models.Job {
	if limit <= 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []models.Job
	for _, job := range jobs {
		key := job.Payload.Profile.GroupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, job)
		if len(out) == limit {
			break
		}
	}
	return out
}
