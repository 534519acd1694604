package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RoleCustomer           = "customer"
	RoleCoach              = "coach"
	RoleAssessor           = "assessor"
	RoleQualityCoordinator = "qualityCoordinator"
	RoleAdmin              = "admin"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrBoundary         = errors.New("no further status in this direction")
)

type StatusChange struct {
	Status        Status    `json:"status"`
	ChangedAt     time.Time `json:"changedAt"`
	ChangedByRole string    `json:"changedByRole"`
	Note          string    `json:"note,omitempty"`
}

// Assignment pairs one customer with a coach. ID always equals CustomerID.
// Status mirrors the last StatusHistory entry that carries a status
// (DefaultStatus when there is none).
type Assignment struct {
	ID            string         `json:"id"`
	CustomerID    string         `json:"customerId"`
	CoachID       string         `json:"coachId"`
	Status        Status         `json:"status"`
	StatusHistory []StatusChange `json:"statusHistory"`
	CreatedAt     time.Time      `json:"createdAt"`
	CreatedBy     string         `json:"createdBy"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// CurrentStatus derives the status from the history so a stale Status field
// can never disagree with it.
func (a Assignment) CurrentStatus() Status {
	for i := len(a.StatusHistory) - 1; i >= 0; i-- {
		if status := Normalize(string(a.StatusHistory[i].Status)); status != "" {
			return status
		}
	}
	if status := Normalize(string(a.Status)); status != "" {
		return status
	}
	return DefaultStatus
}

type Actor struct {
	ID   string
	Role string
}

// Policy decides which roles own the review stages. Deployments that route
// review through assessors or quality coordinators use ExtendedPolicy.
type Policy struct {
	ReviewerRoles []string
}

var (
	DefaultPolicy  = Policy{ReviewerRoles: []string{RoleCoach}}
	ExtendedPolicy = Policy{ReviewerRoles: []string{RoleCoach, RoleAssessor, RoleQualityCoordinator}}
)

// OwnerRoles lists the roles that may move an assignment out of s. Admin is
// never listed; it is always allowed through CanMutate.
func (p Policy) OwnerRoles(s Status) []string {
	switch s {
	case StatusCollecting:
		return []string{RoleCustomer}
	case StatusReview, StatusApproval:
		roles := p.ReviewerRoles
		if len(roles) == 0 {
			roles = DefaultPolicy.ReviewerRoles
		}
		return append([]string(nil), roles...)
	default:
		return nil
	}
}

func (p Policy) CanMutate(s Status, role string) bool {
	role = strings.TrimSpace(role)
	if role == RoleAdmin {
		return true
	}
	for _, owner := range p.OwnerRoles(s) {
		if owner == role {
			return true
		}
	}
	return false
}

func (p Policy) Advance(a Assignment, actor Actor, note string, now time.Time) (Assignment, error) {
	return p.transition(a, actor, note, now, Next)
}

func (p Policy) Rewind(a Assignment, actor Actor, note string, now time.Time) (Assignment, error) {
	return p.transition(a, actor, note, now, Previous)
}

func (p Policy) transition(
	a Assignment,
	actor Actor,
	note string,
	now time.Time,
	step func(Status) (Status, bool),
) (Assignment, error) {
	current := a.CurrentStatus()
	if !p.CanMutate(current, actor.Role) {
		return a, fmt.Errorf("%w: role %q cannot change an assignment in %q", ErrPermissionDenied, actor.Role, current)
	}
	target, ok := step(current)
	if !ok {
		return a, fmt.Errorf("%w: %q", ErrBoundary, current)
	}

	history := make([]StatusChange, len(a.StatusHistory), len(a.StatusHistory)+1)
	copy(history, a.StatusHistory)
	history = append(history, StatusChange{
		Status:        target,
		ChangedAt:     now.UTC(),
		ChangedByRole: actor.Role,
		Note:          strings.TrimSpace(note),
	})

	next := a
	next.Status = target
	next.StatusHistory = history
	next.UpdatedAt = now.UTC()
	return next, nil
}

func OwnerRoles(s Status) []string {
	return DefaultPolicy.OwnerRoles(s)
}

func CanMutate(s Status, role string) bool {
	return DefaultPolicy.CanMutate(s, role)
}

// Advance moves a one stage forward under DefaultPolicy.
func Advance(a Assignment, actor Actor, note string, now time.Time) (Assignment, error) {
	return DefaultPolicy.Advance(a, actor, note, now)
}

// Rewind moves a one stage back under DefaultPolicy.
func Rewind(a Assignment, actor Actor, note string, now time.Time) (Assignment, error) {
	return DefaultPolicy.Rewind(a, actor, note, now)
}
