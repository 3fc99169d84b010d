package models

import (
	"strings"

	"github.com/spf13/cast"
)

// Authoring tools disagree on field names, so loose documents are read
// through ordered extractor lists: the first key holding a usable value
// wins. Key sets live next to their call sites so the tolerated synonyms
// stay enumerable.

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := lookup(m, k); ok {
			if s := strings.TrimSpace(cast.ToString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func boolField(m map[string]any, keys ...string) (bool, bool) {
	for _, k := range keys {
		if v, ok := lookup(m, k); ok {
			b, err := cast.ToBoolE(v)
			if err == nil {
				return b, true
			}
		}
	}
	return false, false
}

func intField(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := lookup(m, k); ok {
			n, err := cast.ToIntE(v)
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func sliceField(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if v, ok := lookup(m, k); ok {
			if s := cast.ToSlice(v); len(s) > 0 {
				return s
			}
		}
	}
	return nil
}

// lookup is case-insensitive on the key, matching how the documents are
// authored (camelCase, lowercase and snake_case all occur in the wild).
func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok && v != nil {
		return v, true
	}
	for k, v := range m {
		if v != nil && strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
