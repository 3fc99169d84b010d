package gateway

import (
	"testing"
	"time"
)

func testHealth(now *time.Time) *memoryHealth {
	return &memoryHealth{
		state:     make(map[string]*circuit),
		threshold: 3,
		cooldown:  10 * time.Minute,
		now:       func() time.Time { return *now },
	}
}

func TestHealthTripsAfterThreshold(t *testing.T) {
	now := time.Now()
	h := testHealth(&now)

	h.RecordFailure("a|1", true)
	h.RecordFailure("a|1", true)
	if h.IsDown("a|1") {
		t.Fatal("two critical failures must not trip the breaker")
	}
	h.RecordFailure("a|1", true)
	if !h.IsDown("a|1") {
		t.Fatal("third critical failure must trip the breaker")
	}
}

func TestHealthCooldownExpiry(t *testing.T) {
	now := time.Now()
	h := testHealth(&now)

	for i := 0; i < 3; i++ {
		h.RecordFailure("a|1", true)
	}
	if !h.IsDown("a|1") {
		t.Fatal("breaker should be open")
	}

	now = now.Add(10*time.Minute + time.Second)
	if h.IsDown("a|1") {
		t.Fatal("connection must come back after the cooldown passes")
	}
}

func TestHealthSuccessClears(t *testing.T) {
	now := time.Now()
	h := testHealth(&now)

	h.RecordFailure("a|1", true)
	h.RecordFailure("a|1", true)
	h.RecordSuccess("a|1")
	h.RecordFailure("a|1", true)
	h.RecordFailure("a|1", true)
	if h.IsDown("a|1") {
		t.Fatal("success must reset the failure count")
	}
}

func TestHealthNonCriticalNeverTrips(t *testing.T) {
	now := time.Now()
	h := testHealth(&now)

	for i := 0; i < 10; i++ {
		h.RecordFailure("a|1", false)
	}
	if h.IsDown("a|1") {
		t.Fatal("non-critical failures must not open the breaker")
	}
}
