package gateway

import (
	"reflect"
	"testing"
	"time"
)

// Midday UTC so the date is the same in UTC and America/Sao_Paulo.
var fixedNow = time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

func TestResolveTokensString(t *testing.T) {
	cases := []struct {
		in   string
		name string
		want string
	}{
		{"Hello {{ nome }}, today is {{data}}", "Ana", "Hello Ana, today is 07.03.2026"},
		{"Hi {{NAME}}", "Bob", "Hi Bob"},
		{"{{ Nome }} {{ nome }}", "Ana", "Ana Ana"},
		{"date: {{  DATE  }}", "", "date: 07.03.2026"},
		{"no tokens here", "Ana", "no tokens here"},
	}
	for _, tc := range cases {
		got := ResolveTokens(tc.in, tc.name, fixedNow)
		if got != tc.want {
			t.Errorf("ResolveTokens(%q, %q) = %q, want %q", tc.in, tc.name, got, tc.want)
		}
	}
}

func TestResolveTokensMissingName(t *testing.T) {
	got := ResolveTokens("Hello {{nome}}!", "", fixedNow)
	if got != "Hello !" {
		t.Errorf("absent name should resolve to empty string, got %q", got)
	}
}

func TestResolveTokensStructural(t *testing.T) {
	in := map[string]interface{}{
		"text":  "Oi {{nome}}",
		"count": 3,
		"rows": []interface{}{
			"{{data}}",
			map[string]interface{}{"title": "{{ nome }}"},
		},
	}
	want := map[string]interface{}{
		"text":  "Oi Ana",
		"count": 3,
		"rows": []interface{}{
			"07.03.2026",
			map[string]interface{}{"title": "Ana"},
		},
	}
	got := ResolveTokens(in, "Ana", fixedNow)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("structural resolve mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestResolveTokensLeavesUnknownPlaceholders(t *testing.T) {
	got := ResolveTokens("{{saudacao}} {{nome}}", "Ana", fixedNow)
	if got != "{{saudacao}} Ana" {
		t.Errorf("unknown placeholders must pass through literally, got %q", got)
	}
}
