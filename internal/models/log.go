package models

import "time"

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// DeliveryLog is one append-only row per send attempt, including guarded
// duplicates and per-recipient fatal errors. Message carries the capped
// diagnostic JSON.
type DeliveryLog struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	RunID      string    `json:"run_id"`
	Contact    string    `json:"contact"`
	Number     string    `json:"number"`
	HTTPStatus int       `json:"http_status"`
	Level      LogLevel  `json:"level"`
	BlockIx    int       `json:"block_ix"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
