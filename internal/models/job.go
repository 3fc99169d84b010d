package models

import (
	"strings"
	"time"
)

type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCanceled  JobStatus = "canceled"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether a job in this status will never run again.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobCanceled
}

// Job is one campaign instance. ProgressContactIx is the sole resumption
// cursor: it only moves forward within a run, and a restarted worker picks
// up from it without re-sending to earlier recipients.
type Job struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Status            JobStatus       `json:"status"`
	IsPaused          bool            `json:"is_paused"`
	ScheduledFor      *time.Time      `json:"scheduled_for,omitempty"`
	ProgressContactIx int             `json:"progress_contact_ix"`
	ProgressItemIx    int             `json:"progress_item_ix"`
	RunID             string          `json:"run_id,omitempty"`
	RetrySkipFailed   bool            `json:"retry_skip_failed"`
	SkipNumbers       []string        `json:"skip_numbers,omitempty"`
	Payload           CampaignPayload `json:"payload"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type CampaignPayload struct {
	Profile     Profile   `json:"profile"`
	Contacts    []Contact `json:"contacts"`
	Blocks      []Block   `json:"blocks"`
	Delays      Delays    `json:"delays"`
	SkipNumbers []string  `json:"skipNumbers,omitempty"`
}

// Delays configures pacing in seconds. Zero values fall back to the
// worker defaults from config.
type Delays struct {
	ContactMin int `json:"contactMin"`
	ContactMax int `json:"contactMax"`
	ItemMin    int `json:"itemMin"`
	ItemMax    int `json:"itemMax"`
}

// Profile is the tenant-owned gateway configuration. Connections are
// read-only here; only their in-memory liveness state ever changes.
type Profile struct {
	Name        string       `json:"name,omitempty"`
	CompanyID   string       `json:"companyId,omitempty"`
	TenantID    string       `json:"tenantId,omitempty"`
	Connections []Connection `json:"connections,omitempty"`

	// Legacy single-credential form, used when Connections is empty.
	Base     string `json:"base,omitempty"`
	Instance string `json:"instance,omitempty"`
	Token    string `json:"token,omitempty"`
}

// ConnectionList returns the ordered connections for dispatch, falling
// back to the legacy flat credentials when no list is configured.
func (p Profile) ConnectionList() []Connection {
	if len(p.Connections) > 0 {
		return p.Connections
	}
	if p.Base != "" && p.Instance != "" {
		return []Connection{{Base: p.Base, Instance: p.Instance, Token: p.Token}}
	}
	return nil
}

// GroupKey identifies the tenant for scheduler fairness. Candidates are
// tried in a fixed order; jobs with none of them share one default group.
func (p Profile) GroupKey() string {
	candidates := []string{p.CompanyID, p.TenantID, p.Name}
	if conns := p.ConnectionList(); len(conns) > 0 {
		candidates = append(candidates, conns[0].Key())
	}
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return strings.TrimSpace(c)
		}
	}
	return "default"
}

type Connection struct {
	Base     string `json:"base"`
	Instance string `json:"instance"`
	Token    string `json:"token"`
}

func (c Connection) Key() string {
	return c.Base + "|" + c.Instance
}

// BaseURL normalizes the configured base: https scheme enforced (plain
// http stays only for loopback gateways), any management-UI suffix and
// trailing slashes stripped.
func (c Connection) BaseURL() string {
	base := strings.TrimSpace(c.Base)
	if base == "" {
		return ""
	}
	if strings.HasPrefix(base, "http://") {
		host := strings.TrimPrefix(base, "http://")
		if !strings.HasPrefix(host, "localhost") && !strings.HasPrefix(host, "127.0.0.1") {
			base = "https://" + host
		}
	} else if !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/manager")
	return strings.TrimRight(base, "/")
}

type Contact struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// NormalizeNumber reduces a phone address to international-with-plus
// form. Returns "" when nothing dialable remains.
func NormalizeNumber(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() < 8 {
		return ""
	}
	return "+" + digits.String()
}

// BareNumber is the gateway-preferred form: digits only, no plus.
func BareNumber(number string) string {
	return strings.TrimPrefix(number, "+")
}

// NormalizeContacts drops entries without a usable address and rewrites
// the rest to canonical form, preserving order.
func NormalizeContacts(in []Contact) []Contact {
	out := make([]Contact, 0, len(in))
	for _, c := range in {
		n := NormalizeNumber(c.Number)
		if n == "" {
			continue
		}
		out = append(out, Contact{Name: strings.TrimSpace(c.Name), Number: n})
	}
	return out
}
