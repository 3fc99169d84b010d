package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cast"
)

// DedupCache suppresses near-simultaneous repeat sends of identical
// content to the same recipient/block, e.g. from overlapping resume
// attempts. Recording the attempt is a side effect of a negative answer.
type DedupCache interface {
	ShouldSuppress(jobID, number string, blockIx int, action string, body map[string]interface{}) bool
}

type memoryDedup struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	window     time.Duration
	maxEntries int
	now        func() time.Time
}

func NewDedupCache(window time.Duration, maxEntries int) DedupCache {
	if window <= 0 {
		window = 2 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 5000
	}
	return &memoryDedup{
		entries:    make(map[string]time.Time),
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (d *memoryDedup) ShouldSuppress(jobID, number string, blockIx int, action string, body map[string]interface{}) bool {
	key := fmt.Sprintf("%s|%s|%d|%s|%s", jobID, number, blockIx, action, fingerprint(body))
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if sent, ok := d.entries[key]; ok && now.Sub(sent) < d.window {
		return true
	}
	if len(d.entries) > d.maxEntries {
		d.sweep(now)
	}
	d.entries[key] = now
	return false
}

func (d *memoryDedup) sweep(now time.Time) {
	for k, sent := range d.entries {
		if now.Sub(sent) >= d.window {
			delete(d.entries, k)
		}
	}
}

// fingerprint identifies the content of a body: the first non-empty of
// text, caption and media URL, else the whole serialized document.
func fingerprint(body map[string]interface{}) string {
	for _, key := range []string{"text", "caption", "mediaUrl", "url"} {
		if s := cast.ToString(body[key]); s != "" {
			return s
		}
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}
