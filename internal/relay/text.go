package relay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CleanText stringifies value, trims it and collapses internal whitespace runs
// to single spaces. It returns fallback when value is nil or cleans to "".
func CleanText(value any, fallback string) string {
	text, ok := stringify(value)
	if !ok {
		return fallback
	}
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" {
		return fallback
	}
	return cleaned
}

// NormalizeChannel maps side names onto the single letters "L" and "R".
// Anything that does not start with l or r is returned cleaned but otherwise
// untouched.
func NormalizeChannel(value any) string {
	channel := CleanText(value, "")
	if channel == "" {
		return ""
	}
	lower := strings.ToLower(channel)
	switch {
	case strings.HasPrefix(lower, "l"):
		return "L"
	case strings.HasPrefix(lower, "r"):
		return "R"
	}
	return channel
}

// stringify renders decoded JSON values (and plain Go values used in tests)
// as text. The bool result is false only for nil.
func stringify(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case fmt.Stringer:
		return v.String(), true
	case []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v), true
		}
		return string(b), true
	default:
		return fmt.Sprint(v), true
	}
}
