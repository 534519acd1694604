// Package workflow holds the trajectory status state machine: status
// canonicalization, ordering, stage ownership and the advance/rewind
// transitions over an Assignment's append-only status history.
package workflow

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrUnknownStatus = errors.New("unknown status")

type Status string

const (
	StatusCollecting Status = "Collecting"
	StatusReview     Status = "Review"
	StatusApproval   Status = "Approval"
	StatusComplete   Status = "Complete"
)

// DefaultStatus is the status of an assignment with no history.
const DefaultStatus = StatusCollecting

// Sequence is the canonical trajectory order.
var Sequence = []Status{StatusCollecting, StatusReview, StatusApproval, StatusComplete}

var legacyAliases = map[string]Status{
	"pending":            StatusCollecting,
	"active":             StatusCollecting,
	"assigned":           StatusCollecting,
	"in_progress":        StatusCollecting,
	"open":               StatusCollecting,
	"todo":               StatusCollecting,
	"collecting":         StatusCollecting,
	"review":             StatusReview,
	"under_review":       StatusReview,
	"awaiting_review":    StatusReview,
	"approval":           StatusApproval,
	"awaiting_approval":  StatusApproval,
	"ready_for_approval": StatusApproval,
	"completed":          StatusComplete,
	"complete":           StatusComplete,
	"done":               StatusComplete,
	"finished":           StatusComplete,
	"approved":           StatusComplete,
	"archived":           StatusComplete,
}

// Normalize maps a raw stored value onto the canonical sequence. Empty input
// yields "" (no status). Unrecognized input comes back verbatim so foreign
// statuses from legacy data stay displayable.
func Normalize(raw string) Status {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	for _, status := range Sequence {
		if strings.EqualFold(trimmed, string(status)) {
			return status
		}
	}
	key := strings.ToLower(strings.NewReplacer(" ", "_", "-", "_").Replace(trimmed))
	if status, ok := legacyAliases[key]; ok {
		return status
	}
	return Status(trimmed)
}

// Parse is Normalize for callers that must reject foreign values.
func Parse(raw string) (Status, error) {
	status := Normalize(raw)
	if !status.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

// Known reports whether s is one of the canonical values.
func (s Status) Known() bool {
	for _, status := range Sequence {
		if s == status {
			return true
		}
	}
	return false
}

// Order is the index in Sequence, or math.MaxInt for unknown and empty
// statuses so comparisons never need special cases.
func Order(s Status) int {
	for i, status := range Sequence {
		if s == status {
			return i
		}
	}
	return math.MaxInt
}

func Next(s Status) (Status, bool) {
	i := Order(s)
	if i == math.MaxInt || i+1 >= len(Sequence) {
		return "", false
	}
	return Sequence[i+1], true
}

func Previous(s Status) (Status, bool) {
	i := Order(s)
	if i == math.MaxInt || i == 0 {
		return "", false
	}
	return Sequence[i-1], true
}
