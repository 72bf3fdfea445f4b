package params

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// parseListSelection parses a multi-value selection: either a JSON array of
// strings or a comma-delimited list. An empty string is an empty list.
func parseListSelection(raw string) ([]string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, true
	}

	if strings.HasPrefix(raw, "[") {
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return nil, false
		}
		return vals, true
	}

	parts := strings.Split(raw, ",")
	vals := make([]string, len(parts))
	for i, p := range parts {
		vals[i] = strings.TrimSpace(p)
	}
	return vals, true
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Layouts for text input types that parse as timestamps.
var textInputLayouts = map[string]string{
	"date":           "2006-01-02",
	"datetime-local": "2006-01-02T15:04",
	"month":          "2006-01",
	"time":           "15:04",
}

// validateTextInput checks a free-text value against its input_type format.
func validateTextInput(inputType, v string) (reason string, ok bool) {
	switch inputType {
	case "number":
		if _, err := strconv.Atoi(v); err != nil {
			return "not an integer", false
		}
	case "color":
		if !colorPattern.MatchString(v) {
			return "not a #rrggbb color", false
		}
	default:
		layout, constrained := textInputLayouts[inputType]
		if !constrained {
			return "", true
		}
		if _, err := time.Parse(layout, v); err != nil {
			return "does not match format " + layout, false
		}
	}
	return "", true
}

// SelectionPair is one canonical (name, value) entry of a selection tuple.
type SelectionPair struct {
	Name  string
	Value string
}

// CanonicalSelections normalizes a raw selection map into the tuple used as
// the stable cache key, sorted by name. List-like values are parsed and
// re-encoded as JSON arrays with their order preserved: order-sensitive
// parameters resolve "a,b" and "b,a" to different selections, so the two
// must never share a key.
func CanonicalSelections(selections map[string]string) []SelectionPair {
	pairs := make([]SelectionPair, 0, len(selections))
	for name, value := range selections {
		norm := strings.ToLower(strings.TrimSpace(name))
		if vals, ok := parseListSelection(value); ok && looksListLike(value) {
			if b, err := json.Marshal(vals); err == nil {
				value = string(b)
			}
		}
		pairs = append(pairs, SelectionPair{Name: norm, Value: value})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs
}

func looksListLike(raw string) bool {
	raw = strings.TrimSpace(raw)
	return strings.HasPrefix(raw, "[") || strings.Contains(raw, ",")
}
