// Package assignments applies workflow transitions to stored assignments and
// mirrors each new status to the relational backend.
package assignments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/models"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/subscription"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/workflow"
)

var (
	ErrValidation = fmt.Errorf("assignment: %w", models.ErrValidation)
	// ErrMirror means the store accepted the change but the relational
	// mirror did not.
	ErrMirror = errors.New("assignment mirror not updated")
)

type StatusUpdate struct {
	Status     string `json:"status"`
	Note       string `json:"note,omitempty"`
	CoachID    string `json:"coachId,omitempty"`
	AssessorID string `json:"assessorId,omitempty"`
}

type Mirror interface {
	RecordStatus(ctx context.Context, customerID string, update StatusUpdate) error
}

type Service struct {
	store  docstore.Store
	mirror Mirror
	policy workflow.Policy
	now    func() time.Time
}

// NewService wires the service; mirror may be nil when no relational
// backend is configured.
func NewService(store docstore.Store, mirror Mirror, policy workflow.Policy) *Service {
	return &Service{store: store, mirror: mirror, policy: policy, now: time.Now}
}

// Ensure creates the customer's assignment on first coach pairing. An
// existing assignment only has its coach updated; it is never recreated.
func (s *Service) Ensure(ctx context.Context, customerID, coachID string, actor workflow.Actor) (models.Assignment, error) {
	customerID = strings.TrimSpace(customerID)
	coachID = strings.TrimSpace(coachID)
	if customerID == "" || coachID == "" {
		return models.Assignment{}, fmt.Errorf("%w: customer and coach are required", ErrValidation)
	}
	if strings.Contains(customerID, "/") {
		return models.Assignment{}, fmt.Errorf("%w: invalid customer id %q", ErrValidation, customerID)
	}

	path := models.AssignmentPath(customerID)
	now := models.FormatTimestamp(s.now())
	existing, err := s.Get(ctx, customerID)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		err = s.store.Set(ctx, path, map[string]any{
			"customerId":    customerID,
			"coachId":       coachID,
			"status":        string(workflow.DefaultStatus),
			"statusHistory": []any{},
			"createdAt":     now,
			"createdBy":     actor.ID,
			"updatedAt":     now,
		}, docstore.SetOptions{Merge: true})
	case err != nil:
		return models.Assignment{}, err
	case existing.CoachID != coachID:
		err = s.store.Update(ctx, path, map[string]any{"coachId": coachID, "updatedAt": now})
	default:
		return existing, nil
	}
	if err != nil {
		return models.Assignment{}, fmt.Errorf("write assignment %s: %w", customerID, err)
	}
	return s.Get(ctx, customerID)
}

func (s *Service) Get(ctx context.Context, customerID string) (models.Assignment, error) {
	doc, err := s.store.Get(ctx, models.AssignmentPath(strings.TrimSpace(customerID)))
	if err != nil {
		return models.Assignment{}, err
	}
	return models.ParseAssignment(doc)
}

func (s *Service) Advance(ctx context.Context, customerID string, actor workflow.Actor, note string) (models.Assignment, error) {
	return s.apply(ctx, customerID, actor, note, s.policy.Advance)
}

func (s *Service) Rewind(ctx context.Context, customerID string, actor workflow.Actor, note string) (models.Assignment, error) {
	return s.apply(ctx, customerID, actor, note, s.policy.Rewind)
}

type transition func(workflow.Assignment, workflow.Actor, string, time.Time) (workflow.Assignment, error)

// apply validates the transition against the stored assignment before any
// write. A rejected transition leaves the document untouched.
func (s *Service) apply(
	ctx context.Context,
	customerID string,
	actor workflow.Actor,
	note string,
	step transition,
) (models.Assignment, error) {
	current, err := s.Get(ctx, customerID)
	if err != nil {
		return models.Assignment{}, err
	}
	next, err := step(current, actor, note, s.now())
	if err != nil {
		return current, err
	}

	err = s.store.Update(ctx, models.AssignmentPath(next.CustomerID), map[string]any{
		"status":        string(next.Status),
		"statusHistory": models.EncodeStatusHistory(next.StatusHistory),
		"updatedAt":     models.FormatTimestamp(next.UpdatedAt),
	})
	if err != nil {
		return current, fmt.Errorf("write assignment %s: %w", next.CustomerID, err)
	}

	if s.mirror != nil {
		update := StatusUpdate{Status: string(next.Status), Note: strings.TrimSpace(note), CoachID: next.CoachID}
		if err := s.mirror.RecordStatus(ctx, next.CustomerID, update); err != nil {
			return next, fmt.Errorf("%w: %v", ErrMirror, err)
		}
	}
	return next, nil
}

// Watch is a subscription factory pushing the customer's assignment. Nothing
// is delivered while the document is missing or fails to decode, so the
// last good value stays on screen.
func Watch(store docstore.Subscriber, customerID string, onAssignment func(models.Assignment)) subscription.Factory {
	return func(ctx context.Context, helpers subscription.Helpers) (subscription.Unsubscribe, error) {
		target := docstore.DocumentTarget(models.AssignmentPath(customerID))
		unsubscribe, err := store.Subscribe(ctx, target, func(docs []docstore.Document) {
			helpers.Healthy()
			if len(docs) == 0 {
				return
			}
			a, err := models.ParseAssignment(docs[0])
			if err != nil {
				log.Printf("assignments: skipping %s: %v", docs[0].Path, err)
				return
			}
			onAssignment(a)
		}, helpers.OnError)
		if err != nil {
			return nil, err
		}
		return subscription.Unsubscribe(unsubscribe), nil
	}
}

// Display is what the UI needs to render a status and enable its actions.
type Display struct {
	Status   workflow.Status `json:"status"`
	Known    bool            `json:"known"`
	Owners   []string        `json:"owners"`
	Next     workflow.Status `json:"next,omitempty"`
	Previous workflow.Status `json:"previous,omitempty"`
}

// Display renders raw under the service's policy, the same policy Advance
// and Rewind enforce.
func (s *Service) Display(raw string) Display {
	return DisplayStatus(s.policy, raw)
}

func DisplayStatus(policy workflow.Policy, raw string) Display {
	status := workflow.Normalize(raw)
	if status == "" {
		status = workflow.DefaultStatus
	}
	display := Display{
		Status: status,
		Known:  status.Known(),
		Owners: policy.OwnerRoles(status),
	}
	if display.Owners == nil {
		display.Owners = []string{}
	}
	display.Next, _ = workflow.Next(status)
	display.Previous, _ = workflow.Previous(status)
	return display
}
