package dispatch

import (
	"testing"
	"time"
)

func testDedup(now *time.Time, maxEntries int) *memoryDedup {
	return &memoryDedup{
		entries:    make(map[string]time.Time),
		window:     2 * time.Minute,
		maxEntries: maxEntries,
		now:        func() time.Time { return *now },
	}
}

func TestDedupSuppressesWithinWindow(t *testing.T) {
	now := time.Now()
	d := testDedup(&now, 100)
	body := map[string]interface{}{"number": "551199", "text": "hi"}

	if d.ShouldSuppress("job1", "+551199", 0, "sendText", body) {
		t.Fatal("first send must not be suppressed")
	}
	if !d.ShouldSuppress("job1", "+551199", 0, "sendText", body) {
		t.Fatal("identical tuple within the window must be suppressed")
	}
}

func TestDedupAllowsAfterWindow(t *testing.T) {
	now := time.Now()
	d := testDedup(&now, 100)
	body := map[string]interface{}{"text": "hi"}

	d.ShouldSuppress("job1", "+551199", 0, "sendText", body)
	now = now.Add(2*time.Minute + time.Second)
	if d.ShouldSuppress("job1", "+551199", 0, "sendText", body) {
		t.Fatal("same tuple must be allowed once the window elapses")
	}
}

func TestDedupDistinguishesContent(t *testing.T) {
	now := time.Now()
	d := testDedup(&now, 100)

	d.ShouldSuppress("job1", "+551199", 0, "sendText", map[string]interface{}{"text": "hi"})
	if d.ShouldSuppress("job1", "+551199", 0, "sendText", map[string]interface{}{"text": "bye"}) {
		t.Fatal("different content must not be suppressed")
	}
	if d.ShouldSuppress("job1", "+551199", 1, "sendText", map[string]interface{}{"text": "hi"}) {
		t.Fatal("different block index must not be suppressed")
	}
	if d.ShouldSuppress("job2", "+551199", 0, "sendText", map[string]interface{}{"text": "hi"}) {
		t.Fatal("different job must not be suppressed")
	}
}

func TestDedupSweepsStaleEntries(t *testing.T) {
	now := time.Now()
	d := testDedup(&now, 3)

	for i, n := range []string{"+1", "+2", "+3", "+4"} {
		d.ShouldSuppress("job1", n, i, "sendText", map[string]interface{}{"text": "hi"})
	}
	now = now.Add(3 * time.Minute)
	// Over the ceiling: the next write should sweep everything stale.
	d.ShouldSuppress("job1", "+5", 9, "sendText", map[string]interface{}{"text": "hi"})
	if len(d.entries) != 1 {
		t.Fatalf("sweep should leave only the fresh entry, have %d", len(d.entries))
	}
}

func TestFingerprintPrefersText(t *testing.T) {
	if fingerprint(map[string]interface{}{"text": "hi", "caption": "cap"}) != "hi" {
		t.Error("text wins")
	}
	if fingerprint(map[string]interface{}{"caption": "cap"}) != "cap" {
		t.Error("caption next")
	}
	if fingerprint(map[string]interface{}{"mediaUrl": "https://x/a.jpg"}) != "https://x/a.jpg" {
		t.Error("media url next")
	}
	got := fingerprint(map[string]interface{}{"values": []string{"a"}})
	if got == "" {
		t.Error("fallback serializes the body")
	}
}
