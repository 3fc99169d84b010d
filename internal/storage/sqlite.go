package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/psouza/broadcastd/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'queued',
			is_paused INTEGER NOT NULL DEFAULT 0,
			scheduled_for DATETIME,
			progress_contact_ix INTEGER NOT NULL DEFAULT 0,
			progress_item_ix INTEGER NOT NULL DEFAULT 0,
			run_id TEXT NOT NULL DEFAULT '',
			retry_skip_failed INTEGER NOT NULL DEFAULT 0,
			skip_numbers TEXT NOT NULL DEFAULT '[]',
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_logs (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			contact TEXT NOT NULL DEFAULT '',
			number TEXT NOT NULL DEFAULT '',
			http_status INTEGER NOT NULL DEFAULT 0,
			level TEXT NOT NULL DEFAULT 'info',
			block_ix INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_pollable ON jobs(status, is_paused, created_at)
			WHERE status IN ('scheduled', 'queued')`,
		`CREATE INDEX IF NOT EXISTS idx_logs_job ON delivery_logs(job_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_run ON delivery_logs(run_id, created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Jobs ---

const jobColumns = `id, name, status, is_paused, scheduled_for, progress_contact_ix,
	progress_item_ix, run_id, retry_skip_failed, skip_numbers, payload, created_at, updated_at`

func (s *SQLiteStorage) CreateJob(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	skip, _ := json.Marshal(emptyIfNil(job.SkipNumbers))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, string(job.Status), boolToInt(job.IsPaused), job.ScheduledFor,
		job.ProgressContactIx, job.ProgressItemIx, job.RunID, boolToInt(job.RetrySkipFailed),
		string(skip), string(payload), job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStorage) PatchJob(ctx context.Context, id string, patch JobPatch) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.IsPaused != nil {
		sets = append(sets, "is_paused = ?")
		args = append(args, boolToInt(*patch.IsPaused))
	}
	if patch.ScheduledFor != nil {
		sets = append(sets, "scheduled_for = ?")
		args = append(args, *patch.ScheduledFor)
	}
	if patch.ProgressContactIx != nil {
		sets = append(sets, "progress_contact_ix = ?")
		args = append(args, *patch.ProgressContactIx)
	}
	if patch.ProgressItemIx != nil {
		sets = append(sets, "progress_item_ix = ?")
		args = append(args, *patch.ProgressItemIx)
	}
	if patch.RunID != nil {
		sets = append(sets, "run_id = ?")
		args = append(args, *patch.RunID)
	}
	if patch.RetrySkipFailed != nil {
		sets = append(sets, "retry_skip_failed = ?")
		args = append(args, boolToInt(*patch.RetrySkipFailed))
	}
	if patch.SkipNumbers != nil {
		skip, err := json.Marshal(emptyIfNil(*patch.SkipNumbers))
		if err != nil {
			return fmt.Errorf("marshal skip numbers: %w", err)
		}
		sets = append(sets, "skip_numbers = ?")
		args = append(args, string(skip))
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

func (s *SQLiteStorage) ListJobs(ctx context.Context, f JobFilter) ([]models.Job, error) {
	where := []string{"1 = 1"}
	var args []interface{}

	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Paused != nil {
		where = append(where, "is_paused = ?")
		args = append(args, boolToInt(*f.Paused))
	}
	if f.DueBefore != nil {
		where = append(where, "scheduled_for IS NOT NULL AND scheduled_for <= ?")
		args = append(args, *f.DueBefore)
	}

	order := "created_at DESC"
	if f.OldestFirst {
		order = "created_at ASC"
	}
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + order
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row interface{ Scan(...interface{}) error }) (*models.Job, error) {
	var job models.Job
	var status, skip, payload string
	var isPaused, retrySkip int
	var scheduledFor sql.NullTime

	err := row.Scan(&job.ID, &job.Name, &status, &isPaused, &scheduledFor,
		&job.ProgressContactIx, &job.ProgressItemIx, &job.RunID, &retrySkip,
		&skip, &payload, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	job.IsPaused = isPaused == 1
	job.RetrySkipFailed = retrySkip == 1
	if scheduledFor.Valid {
		t := scheduledFor.Time
		job.ScheduledFor = &t
	}
	if err := json.Unmarshal([]byte(skip), &job.SkipNumbers); err != nil {
		return nil, fmt.Errorf("decode skip numbers for job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
		return nil, fmt.Errorf("decode payload for job %s: %w", job.ID, err)
	}
	return &job, nil
}

// --- Delivery logs ---

func (s *SQLiteStorage) CreateDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_logs (id, job_id, run_id, contact, number, http_status, level, block_ix, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.JobID, entry.RunID, entry.Contact, entry.Number,
		entry.HTTPStatus, string(entry.Level), entry.BlockIx, entry.Message, entry.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) ListLogsByJob(ctx context.Context, jobID string, limit int) ([]models.DeliveryLog, error) {
	return s.listLogs(ctx, "job_id", jobID, limit)
}

func (s *SQLiteStorage) ListLogsByRun(ctx context.Context, runID string, limit int) ([]models.DeliveryLog, error) {
	return s.listLogs(ctx, "run_id", runID, limit)
}

func (s *SQLiteStorage) listLogs(ctx context.Context, col, val string, limit int) ([]models.DeliveryLog, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, run_id, contact, number, http_status, level, block_ix, message, created_at
		 FROM delivery_logs WHERE `+col+` = ? ORDER BY created_at DESC LIMIT ?`, val, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.DeliveryLog
	for rows.Next() {
		var l models.DeliveryLog
		var level string
		if err := rows.Scan(&l.ID, &l.JobID, &l.RunID, &l.Contact, &l.Number,
			&l.HTTPStatus, &level, &l.BlockIx, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Level = models.LogLevel(level)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
