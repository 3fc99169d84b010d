package dispatch

import (
	"context"
	"net/http"

	"github.com/psouza/broadcastd/internal/models"
	"github.com/psouza/broadcastd/internal/storage"
)

const retryLogLimit = 5000

// FailedNumbers inspects a job's prior delivery logs and returns every
// recipient address that failed: error-level entries or HTTP status 400+.
// Logs keyed by job id are authoritative; the run-id lookup remains as
// tolerance for rows written under the older schema.
func FailedNumbers(ctx context.Context, store storage.Storage, jobID, runID string) (map[string]bool, error) {
	logs, err := store.ListLogsByJob(ctx, jobID, retryLogLimit)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 && runID != "" {
		logs, err = store.ListLogsByRun(ctx, runID, retryLogLimit)
		if err != nil {
			return nil, err
		}
	}

	failed := make(map[string]bool)
	for _, entry := range logs {
		if entry.Number == "" {
			continue
		}
		if entry.Level == models.LogError || entry.HTTPStatus >= http.StatusBadRequest {
			failed[models.NormalizeNumber(entry.Number)] = true
		}
	}
	delete(failed, "")
	return failed, nil
}
