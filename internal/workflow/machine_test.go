package workflow

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestLegacyPendingAssignmentAdvancesOnlyForCustomer(t *testing.T) {
	assignment := Assignment{ID: "cust1", CustomerID: "cust1", CoachID: "coach1", Status: Normalize("pending")}
	if assignment.Status != StatusCollecting {
		t.Fatalf("expected pending to normalize to Collecting, got %q", assignment.Status)
	}

	_, err := Advance(assignment, Actor{ID: "coach1", Role: RoleCoach}, "", fixedNow)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if len(assignment.StatusHistory) != 0 {
		t.Fatalf("rejected advance must not touch history, got %+v", assignment.StatusHistory)
	}

	advanced, err := Advance(assignment, Actor{ID: "cust1", Role: RoleCustomer}, "portfolio ready", fixedNow)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if advanced.Status != StatusReview {
		t.Fatalf("expected Review, got %q", advanced.Status)
	}
	if got := len(advanced.StatusHistory); got != 1 {
		t.Fatalf("expected one history entry, got %d", got)
	}
	entry := advanced.StatusHistory[0]
	if entry.Status != StatusReview || entry.ChangedByRole != RoleCustomer || entry.Note != "portfolio ready" || !entry.ChangedAt.Equal(fixedNow) {
		t.Fatalf("unexpected history entry: %+v", entry)
	}
	if owners := OwnerRoles(advanced.CurrentStatus()); !reflect.DeepEqual(owners, []string{RoleCoach}) {
		t.Fatalf("expected coach to own Review, got %v", owners)
	}
}

func TestAdvanceRejectedLeavesHistoryLength(t *testing.T) {
	assignment := Assignment{
		ID:     "cust1",
		Status: StatusReview,
		StatusHistory: []StatusChange{
			{Status: StatusReview, ChangedAt: fixedNow, ChangedByRole: RoleCustomer},
		},
	}

	result, err := Advance(assignment, Actor{Role: RoleCustomer}, "", fixedNow)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if len(result.StatusHistory) != 1 || len(assignment.StatusHistory) != 1 {
		t.Fatalf("expected history length 1, got %d / %d", len(result.StatusHistory), len(assignment.StatusHistory))
	}
}

func TestAdvanceAtCompleteIsBoundaryEvenForAdmin(t *testing.T) {
	assignment := Assignment{Status: StatusComplete}

	_, err := Advance(assignment, Actor{Role: RoleAdmin}, "", fixedNow)
	if !errors.Is(err, ErrBoundary) {
		t.Fatalf("expected ErrBoundary, got %v", err)
	}
}

func TestCompleteIsTerminalForEveryoneButAdmin(t *testing.T) {
	for _, role := range []string{RoleCustomer, RoleCoach, RoleAssessor} {
		if CanMutate(StatusComplete, role) {
			t.Fatalf("role %s must not mutate a complete assignment", role)
		}
	}
	if !CanMutate(StatusComplete, RoleAdmin) {
		t.Fatalf("admin is always permitted")
	}
}

func TestRewindAtCollectingIsBoundary(t *testing.T) {
	_, err := Rewind(Assignment{}, Actor{Role: RoleCustomer}, "", fixedNow)
	if !errors.Is(err, ErrBoundary) {
		t.Fatalf("expected ErrBoundary, got %v", err)
	}
}

func TestCoachWalksReviewToCompleteAndBack(t *testing.T) {
	coach := Actor{ID: "coach1", Role: RoleCoach}
	assignment := Assignment{
		Status:        StatusReview,
		StatusHistory: []StatusChange{{Status: StatusReview, ChangedByRole: RoleCustomer}},
	}

	approval, err := Advance(assignment, coach, "", fixedNow)
	if err != nil {
		t.Fatalf("Advance to Approval: %v", err)
	}
	complete, err := Advance(approval, coach, "", fixedNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("Advance to Complete: %v", err)
	}
	if complete.Status != StatusComplete || len(complete.StatusHistory) != 3 {
		t.Fatalf("unexpected result: %+v", complete)
	}
	if len(approval.StatusHistory) != 2 {
		t.Fatalf("advance must not mutate the previous snapshot, got %d entries", len(approval.StatusHistory))
	}

	back, err := Rewind(approval, coach, "missing evidence", fixedNow)
	if err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if back.Status != StatusReview || back.StatusHistory[len(back.StatusHistory)-1].Note != "missing evidence" {
		t.Fatalf("unexpected rewind result: %+v", back)
	}
}

func TestExtendedPolicyLetsAssessorReview(t *testing.T) {
	assignment := Assignment{Status: StatusApproval}

	if _, err := Advance(assignment, Actor{Role: RoleAssessor}, "", fixedNow); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("default policy must reject assessor, got %v", err)
	}
	advanced, err := ExtendedPolicy.Advance(assignment, Actor{Role: RoleAssessor}, "", fixedNow)
	if err != nil {
		t.Fatalf("ExtendedPolicy.Advance: %v", err)
	}
	if advanced.Status != StatusComplete {
		t.Fatalf("expected Complete, got %q", advanced.Status)
	}
}

func TestCurrentStatusFollowsHistory(t *testing.T) {
	assignment := Assignment{
		Status:        StatusCollecting,
		StatusHistory: []StatusChange{{Status: "under_review"}},
	}
	if got := assignment.CurrentStatus(); got != StatusReview {
		t.Fatalf("expected Review from history, got %q", got)
	}
	if got := (Assignment{}).CurrentStatus(); got != DefaultStatus {
		t.Fatalf("expected default status, got %q", got)
	}

	assignment.StatusHistory = append(assignment.StatusHistory, StatusChange{ChangedByRole: RoleCoach})
	if got := assignment.CurrentStatus(); got != StatusReview {
		t.Fatalf("expected an entry without status to be skipped, got %q", got)
	}
}
