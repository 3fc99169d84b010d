package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/psouza/broadcastd/internal/config"
	"github.com/psouza/broadcastd/internal/models"
)

func queuedJob(id, company string, age time.Duration) *models.Job {
	now := time.Now().UTC()
	job := testJob(id, 1)
	job.Payload.Profile.CompanyID = company
	job.CreatedAt = now.Add(-age)
	return job
}

func TestSelectFairOnePerGroup(t *testing.T) {
	jobs := []models.Job{
		*queuedJob("a1", "acme", 50*time.Minute),
		*queuedJob("a2", "acme", 40*time.Minute),
		*queuedJob("b1", "blob", 30*time.Minute),
		*queuedJob("a3", "acme", 20*time.Minute),
		*queuedJob("b2", "blob", 10*time.Minute),
	}
	// Oldest first, as the poller fetches them.
	selected := SelectFair(jobs, 2)

	if len(selected) != 2 {
		t.Fatalf("selected %d jobs, want 2", len(selected))
	}
	if selected[0].ID != "a1" || selected[1].ID != "b1" {
		t.Errorf("want oldest job of each group [a1 b1], got [%s %s]", selected[0].ID, selected[1].ID)
	}
}

func TestSelectFairRespectsLimit(t *testing.T) {
	jobs := []models.Job{
		*queuedJob("a1", "acme", 3*time.Minute),
		*queuedJob("b1", "blob", 2*time.Minute),
		*queuedJob("c1", "corp", time.Minute),
	}
	if got := SelectFair(jobs, 2); len(got) != 2 {
		t.Errorf("limit not honored: %d", len(got))
	}
}

func TestSelectFairDefaultGroup(t *testing.T) {
	bare := testJob("x1", 1)
	bare.Payload.Profile = models.Profile{}
	bare2 := testJob("x2", 1)
	bare2.Payload.Profile = models.Profile{}

	selected := SelectFair([]models.Job{*bare, *bare2}, 5)
	if len(selected) != 1 {
		t.Errorf("profiles without identity share one group, selected %d", len(selected))
	}
}

func TestPollerTickPromotesAndRuns(t *testing.T) {
	store := newMemStore()
	past := time.Now().UTC().Add(-time.Minute)

	scheduled := testJob("sched", 1)
	scheduled.Status = models.JobScheduled
	scheduled.ScheduledFor = &past
	store.CreateJob(context.Background(), scheduled)

	queued := queuedJob("ready", "blob", time.Hour)
	store.CreateJob(context.Background(), queued)

	gw := &fakeGateway{}
	proc := testProcessor(store, gw)
	poller := NewPoller(config.WorkerConfig{
		PollInterval: time.Hour, // ticks driven manually
		Concurrency:  2,
		BatchSize:    40,
	}, store, proc, zerolog.Nop())

	poller.tick(context.Background())

	if got := store.job("ready").Status; got != models.JobDone {
		t.Errorf("queued job should have run to done, got %s", got)
	}
	// The scheduled job was promoted during this tick and runs on the
	// next one.
	if got := store.job("sched").Status; got != models.JobQueued {
		t.Errorf("due scheduled job should be promoted to queued, got %s", got)
	}

	poller.tick(context.Background())
	if got := store.job("sched").Status; got != models.JobDone {
		t.Errorf("promoted job should run on the following tick, got %s", got)
	}
}

func TestPollerTickIsolatesJobFailure(t *testing.T) {
	store := newMemStore()
	store.CreateJob(context.Background(), queuedJob("good", "acme", 2*time.Hour))

	bad := queuedJob("bad", "blob", time.Hour)
	store.CreateJob(context.Background(), bad)

	gw := &fakeGateway{}
	proc := testProcessor(store, gw)
	poller := NewPoller(config.WorkerConfig{Concurrency: 2, BatchSize: 40, PollInterval: time.Hour}, store, proc, zerolog.Nop())

	// The bad job vanishes between selection and run, so its processor
	// run errors out. That must not disturb the sibling.
	store.onGet = func(s *memStore, id string) {
		if id == "bad" {
			s.mu.Lock()
			delete(s.jobs, "bad")
			s.mu.Unlock()
		}
	}

	poller.tick(context.Background())

	if got := store.job("good").Status; got != models.JobDone {
		t.Errorf("sibling job must still complete, got %s", got)
	}
}

func TestRunJobRequeuesOnShutdown(t *testing.T) {
	store := newMemStore()
	store.CreateJob(context.Background(), testJob("job1", 2))
	gw := &fakeGateway{}
	proc := testProcessor(store, gw)
	poller := NewPoller(config.WorkerConfig{Concurrency: 2, BatchSize: 40, PollInterval: time.Hour}, store, proc, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	proc.sleep = func(c context.Context, _ time.Duration) error {
		cancel() // shutdown lands between recipients
		return c.Err()
	}

	poller.runJob(ctx, store.job("job1"))

	got := store.job("job1")
	if got.Status != models.JobQueued {
		t.Errorf("status = %s, want queued for the next worker", got.Status)
	}
	if got.ProgressContactIx != 1 {
		t.Errorf("cursor = %d, want 1", got.ProgressContactIx)
	}

	// A later tick on a fresh context finishes the remaining recipient.
	proc.sleep = func(context.Context, time.Duration) error { return nil }
	poller.tick(context.Background())
	if got := store.job("job1").Status; got != models.JobDone {
		t.Errorf("resumed job should finish, got %s", got)
	}
	if sent := gw.sent(); len(sent) != 2 {
		t.Errorf("sends = %v, want each recipient once", sent)
	}
}

func TestPollerRecoversOrphanedRunningJob(t *testing.T) {
	store := newMemStore()
	orphan := testJob("job1", 3)
	orphan.Status = models.JobRunning
	orphan.ProgressContactIx = 2
	orphan.RunID = "run_old"
	store.CreateJob(context.Background(), orphan)

	gw := &fakeGateway{}
	proc := testProcessor(store, gw)
	poller := NewPoller(config.WorkerConfig{Concurrency: 2, BatchSize: 40, PollInterval: time.Hour}, store, proc, zerolog.Nop())

	poller.recoverOrphans(context.Background())
	if got := store.job("job1").Status; got != models.JobQueued {
		t.Fatalf("orphaned job = %s, want queued", got)
	}

	poller.tick(context.Background())
	job := store.job("job1")
	if job.Status != models.JobDone {
		t.Errorf("status = %s, want done", job.Status)
	}
	if job.RunID != "run_old" {
		t.Errorf("run id = %s, must be retained across recovery", job.RunID)
	}
	sent := gw.sent()
	if len(sent) != 1 || !strings.HasSuffix(sent[0], "03") {
		t.Errorf("sends = %v, want only the recipient at the cursor", sent)
	}
}
