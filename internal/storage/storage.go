package storage

import (
	"context"
	"time"

	"github.com/psouza/broadcastd/internal/models"
)

// JobFilter narrows ListJobs. Zero fields are ignored.
type JobFilter struct {
	Status      models.JobStatus
	Paused      *bool
	DueBefore   *time.Time
	OldestFirst bool
	Limit       int
}

// JobPatch is a partial update; nil fields are left untouched.
type JobPatch struct {
	Status            *models.JobStatus
	IsPaused          *bool
	ScheduledFor      *time.Time
	ProgressContactIx *int
	ProgressItemIx    *int
	RunID             *string
	RetrySkipFailed   *bool
	SkipNumbers       *[]string
}

type Storage interface {
	// Jobs
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	PatchJob(ctx context.Context, id string, patch JobPatch) error
	ListJobs(ctx context.Context, f JobFilter) ([]models.Job, error)

	// Delivery logs (append-only)
	CreateDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error
	ListLogsByJob(ctx context.Context, jobID string, limit int) ([]models.DeliveryLog, error)
	ListLogsByRun(ctx context.Context, runID string, limit int) ([]models.DeliveryLog, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
