package dispatch

import (
	"context"
	"testing"

	"github.com/psouza/broadcastd/internal/models"
)

func TestFailedNumbersCollectsErrors(t *testing.T) {
	store := newMemStore()
	entries := []models.DeliveryLog{
		{ID: "1", JobID: "job1", Number: "+551100000001", Level: models.LogInfo, HTTPStatus: 200},
		{ID: "2", JobID: "job1", Number: "+551100000002", Level: models.LogError, HTTPStatus: 0},
		{ID: "3", JobID: "job1", Number: "+551100000003", Level: models.LogInfo, HTTPStatus: 422},
		{ID: "4", JobID: "job1", Number: "", Level: models.LogError},
		{ID: "5", JobID: "other", Number: "+551100000009", Level: models.LogError},
	}
	for i := range entries {
		store.CreateDeliveryLog(context.Background(), &entries[i])
	}

	failed, err := FailedNumbers(context.Background(), store, "job1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 2 {
		t.Fatalf("failed = %v, want 2 entries", failed)
	}
	if !failed["+551100000002"] || !failed["+551100000003"] {
		t.Errorf("failed = %v", failed)
	}
}

func TestFailedNumbersFallsBackToRunID(t *testing.T) {
	store := newMemStore()
	store.CreateDeliveryLog(context.Background(), &models.DeliveryLog{
		ID: "1", JobID: "legacy", RunID: "run_9", Number: "+551100000007",
		Level: models.LogError,
	})

	// Lookup under the current job id finds nothing; the run-id keyed
	// rows still count.
	failed, err := FailedNumbers(context.Background(), store, "job1", "run_9")
	if err != nil {
		t.Fatal(err)
	}
	if !failed["+551100000007"] {
		t.Errorf("run-id fallback missed the failed number: %v", failed)
	}
}
