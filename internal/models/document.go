// Package models decodes the loosely shaped documents of the document store
// into validated domain values. Nothing past ParseAssignment, ParseThread or
// ParseMessage touches raw document fields.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidDocument = errors.New("invalid document")
	ErrValidation      = errors.New("validation failed")
)

// timestampLayout is fixed width so stored timestamps sort lexicographically
// in the same order as chronologically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp accepts RFC 3339 strings and legacy epoch milliseconds.
func ParseTimestamp(value any) (time.Time, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrInvalidDocument, v)
		}
		return t.UTC(), nil
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case time.Time:
		return v.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: timestamp of type %T", ErrInvalidDocument, value)
	}
}

func stringField(data map[string]any, key string) string {
	value, _ := data[key].(string)
	return strings.TrimSpace(value)
}

// timeField tolerates malformed legacy timestamps by reporting zero time.
func timeField(data map[string]any, key string) time.Time {
	t, err := ParseTimestamp(data[key])
	if err != nil {
		return time.Time{}
	}
	return t
}

func stringList(value any) ([]string, bool) {
	items, ok := value.([]any)
	if !ok {
		if typed, isStrings := value.([]string); isStrings {
			return append([]string(nil), typed...), true
		}
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
