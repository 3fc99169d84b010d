package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psouza/broadcastd/internal/models"
	"github.com/psouza/broadcastd/internal/storage"
)

// memStore is an in-memory Storage for worker tests.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	logs []models.DeliveryLog

	// onGet, when set, runs before each GetJob and can mutate the store
	// to simulate an external pause/cancel.
	onGet func(s *memStore, id string)
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*models.Job)}
}

func (s *memStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	if s.onGet != nil {
		s.onGet(s, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) PatchJob(_ context.Context, id string, patch storage.JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.IsPaused != nil {
		job.IsPaused = *patch.IsPaused
	}
	if patch.ScheduledFor != nil {
		t := *patch.ScheduledFor
		job.ScheduledFor = &t
	}
	if patch.ProgressContactIx != nil {
		job.ProgressContactIx = *patch.ProgressContactIx
	}
	if patch.ProgressItemIx != nil {
		job.ProgressItemIx = *patch.ProgressItemIx
	}
	if patch.RunID != nil {
		job.RunID = *patch.RunID
	}
	if patch.RetrySkipFailed != nil {
		job.RetrySkipFailed = *patch.RetrySkipFailed
	}
	if patch.SkipNumbers != nil {
		job.SkipNumbers = append([]string(nil), (*patch.SkipNumbers)...)
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) ListJobs(_ context.Context, f storage.JobFilter) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, job := range s.jobs {
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		if f.Paused != nil && job.IsPaused != *f.Paused {
			continue
		}
		if f.DueBefore != nil && (job.ScheduledFor == nil || job.ScheduledFor.After(*f.DueBefore)) {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) CreateDeliveryLog(_ context.Context, entry *models.DeliveryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *memStore) ListLogsByJob(_ context.Context, jobID string, limit int) ([]models.DeliveryLog, error) {
	return s.filterLogs(func(l models.DeliveryLog) bool { return l.JobID == jobID }, limit), nil
}

func (s *memStore) ListLogsByRun(_ context.Context, runID string, limit int) ([]models.DeliveryLog, error) {
	return s.filterLogs(func(l models.DeliveryLog) bool { return l.RunID == runID }, limit), nil
}

func (s *memStore) filterLogs(keep func(models.DeliveryLog) bool, limit int) []models.DeliveryLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if keep(s.logs[i]) {
			out = append(out, s.logs[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

func (s *memStore) job(id string) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}
