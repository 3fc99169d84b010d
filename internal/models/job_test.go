package models

import "testing"

func TestNormalizeNumber(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"+55 (11) 98765-4321", "+5511987654321"},
		{"5511987654321", "+5511987654321"},
		{"11 9876-5432", "+1198765432"},
		{"123", ""},
		{"", ""},
		{"abc-def", ""},
	}
	for _, c := range cases {
		if got := NormalizeNumber(c.in); got != c.want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBareNumber(t *testing.T) {
	if got := BareNumber("+5511987654321"); got != "5511987654321" {
		t.Errorf("bare = %q", got)
	}
	if got := BareNumber("5511987654321"); got != "5511987654321" {
		t.Errorf("bare = %q", got)
	}
}

func TestNormalizeContactsDropsUndialable(t *testing.T) {
	in := []Contact{
		{Name: " Ana ", Number: "+55 11 98765-4321"},
		{Name: "Bad", Number: "42"},
		{Name: "Bia", Number: "5511912345678"},
	}
	out := NormalizeContacts(in)
	if len(out) != 2 {
		t.Fatalf("contacts = %+v", out)
	}
	if out[0].Name != "Ana" || out[0].Number != "+5511987654321" {
		t.Errorf("first = %+v", out[0])
	}
	if out[1].Number != "+5511912345678" {
		t.Errorf("second = %+v", out[1])
	}
}

func TestConnectionBaseURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://gw.example.com", "https://gw.example.com"},
		{"gw.example.com/", "https://gw.example.com"},
		{"https://gw.example.com/manager/", "https://gw.example.com"},
		{"https://gw.example.com/manager", "https://gw.example.com"},
		{"http://localhost:8080", "http://localhost:8080"},
		{"http://127.0.0.1:9000/", "http://127.0.0.1:9000"},
		{"", ""},
	}
	for _, c := range cases {
		conn := Connection{Base: c.in}
		if got := conn.BaseURL(); got != c.want {
			t.Errorf("BaseURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestProfileConnectionList(t *testing.T) {
	p := Profile{
		Connections: []Connection{{Base: "a", Instance: "i1"}, {Base: "b", Instance: "i2"}},
		Base:        "legacy", Instance: "old", Token: "tok",
	}
	if got := p.ConnectionList(); len(got) != 2 || got[0].Base != "a" {
		t.Errorf("explicit list lost: %+v", got)
	}

	p = Profile{Base: "legacy", Instance: "old", Token: "tok"}
	got := p.ConnectionList()
	if len(got) != 1 || got[0].Token != "tok" {
		t.Errorf("legacy fallback = %+v", got)
	}

	if got := (Profile{Base: "only-base"}).ConnectionList(); got != nil {
		t.Errorf("incomplete credentials must yield nil, got %+v", got)
	}
}

func TestProfileGroupKey(t *testing.T) {
	if got := (Profile{CompanyID: "acme", TenantID: "t1"}).GroupKey(); got != "acme" {
		t.Errorf("company id must win, got %q", got)
	}
	if got := (Profile{TenantID: " t1 "}).GroupKey(); got != "t1" {
		t.Errorf("tenant id = %q", got)
	}
	if got := (Profile{Name: "camp"}).GroupKey(); got != "camp" {
		t.Errorf("name = %q", got)
	}
	p := Profile{Connections: []Connection{{Base: "gw", Instance: "main"}}}
	if got := p.GroupKey(); got != "gw|main" {
		t.Errorf("connection key = %q", got)
	}
	if got := (Profile{}).GroupKey(); got != "default" {
		t.Errorf("empty profile = %q", got)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobDone, JobFailed, JobCanceled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	live := []JobStatus{JobScheduled, JobQueued, JobRunning, JobPaused}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}
