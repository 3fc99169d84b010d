package gateway

import (
	"regexp"
	"time"
)

// Placeholders are matched case-insensitively and tolerate internal
// whitespace, since authored templates arrive with both {{nome}} and
// {{ Nome }} spellings.
var (
	nameToken = regexp.MustCompile(`(?i)\{\{\s*(?:nome|name)\s*\}\}`)
	dateToken = regexp.MustCompile(`(?i)\{\{\s*(?:data|date)\s*\}\}`)
)

var campaignTZ = loadCampaignTZ()

func loadCampaignTZ() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolveTokens substitutes the recipient name and current-date
// placeholders through nested maps and slices, leaving non-string leaves
// untouched. Unresolved placeholders are not an error; callers apply a
// second pass and then send whatever text remains.
func ResolveTokens(v interface{}, contactName string, now time.Time) interface{} {
	switch val := v.(type) {
	case string:
		return resolveString(val, contactName, now)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = ResolveTokens(item, contactName, now)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = ResolveTokens(item, contactName, now)
		}
		return out
	default:
		return v
	}
}

func resolveString(s, contactName string, now time.Time) string {
	s = nameToken.ReplaceAllString(s, contactName)
	return dateToken.ReplaceAllString(s, now.In(campaignTZ).Format("02.01.2006"))
}
