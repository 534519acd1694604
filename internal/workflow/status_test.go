package workflow

import (
	"errors"
	"math"
	"testing"
)

func TestNormalizeMapsLegacyAliases(t *testing.T) {
	cases := map[string]Status{
		"pending":            StatusCollecting,
		"Active":             StatusCollecting,
		"in_progress":        StatusCollecting,
		"in progress":        StatusCollecting,
		"todo":               StatusCollecting,
		"under_review":       StatusReview,
		"awaiting-review":    StatusReview,
		"ready_for_approval": StatusApproval,
		"approved":           StatusComplete,
		"archived":           StatusComplete,
		"COLLECTING":         StatusCollecting,
		" review ":           StatusReview,
		"Complete":           StatusComplete,
	}

	for raw, want := range cases {
		if got := Normalize(raw); got != want {
			t.Fatalf("Normalize(%q): expected %q, got %q", raw, want, got)
		}
	}
}

func TestNormalizeKeepsForeignStatusVerbatim(t *testing.T) {
	if got := Normalize("on_hold"); got != Status("on_hold") {
		t.Fatalf("expected foreign status to be kept, got %q", got)
	}
	if got := Normalize("   "); got != "" {
		t.Fatalf("expected empty status, got %q", got)
	}
	if Normalize("on_hold").Known() {
		t.Fatalf("foreign status must not be known")
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{"on_hold", "", "Collecting", "Review", "Approval", "Complete"}
	for alias := range legacyAliases {
		inputs = append(inputs, alias)
	}

	for _, raw := range inputs {
		once := Normalize(raw)
		if twice := Normalize(string(once)); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q then %q", raw, once, twice)
		}
	}
}

func TestOrderIsStrictlyMonotonic(t *testing.T) {
	for i := 1; i < len(Sequence); i++ {
		if Order(Sequence[i-1]) >= Order(Sequence[i]) {
			t.Fatalf("expected %s before %s", Sequence[i-1], Sequence[i])
		}
	}
	if Order("on_hold") != math.MaxInt || Order("") != math.MaxInt {
		t.Fatalf("expected unknown statuses to sort last")
	}
}

func TestNextAndPreviousAreInverse(t *testing.T) {
	for _, status := range Sequence[1 : len(Sequence)-1] {
		prev, ok := Previous(status)
		if !ok {
			t.Fatalf("Previous(%s) missing", status)
		}
		if next, _ := Next(prev); next != status {
			t.Fatalf("Next(Previous(%s)) = %s", status, next)
		}
	}

	if _, ok := Previous(StatusCollecting); ok {
		t.Fatalf("Collecting must have no previous status")
	}
	if _, ok := Next(StatusComplete); ok {
		t.Fatalf("Complete must have no next status")
	}
	if _, ok := Next("on_hold"); ok {
		t.Fatalf("unknown status must have no next status")
	}
}

func TestParseRejectsForeignStatus(t *testing.T) {
	if status, err := Parse("awaiting-approval"); err != nil || status != StatusApproval {
		t.Fatalf("expected Approval, got %q %v", status, err)
	}
	if _, err := Parse("escalated"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
	if _, err := Parse("  "); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus for blank input, got %v", err)
	}
}
