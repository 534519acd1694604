package handlers

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/assignments"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/models"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/services"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/workflow"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

type assignmentWorkflow interface {
	Ensure(ctx context.Context, customerID, coachID string, actor workflow.Actor) (models.Assignment, error)
	Get(ctx context.Context, customerID string) (models.Assignment, error)
	Advance(ctx context.Context, customerID string, actor workflow.Actor, note string) (models.Assignment, error)
	Rewind(ctx context.Context, customerID string, actor workflow.Actor, note string) (models.Assignment, error)
	Display(raw string) assignments.Display
}

type assignmentMirror interface {
	Record(
		ctx context.Context,
		customerID string,
		update assignments.StatusUpdate,
		changedBy string,
		changedByRole string,
	) (*models.AssignmentMirror, error)
	Get(ctx context.Context, customerID string) (*models.AssignmentMirror, error)
}

type AssignmentHandler struct {
	workflow assignmentWorkflow
	mirror   assignmentMirror
}

type ensureAssignmentRequest struct {
	CustomerID string `json:"customer_id"`
	CoachID    string `json:"coach_id"`
}

type transitionRequest struct {
	Note string `json:"note"`
}

// NewAssignmentHandler wires the handler; mirror is nil when no relational
// database is configured.
func NewAssignmentHandler(workflow assignmentWorkflow, mirror assignmentMirror) *AssignmentHandler {
	return &AssignmentHandler{workflow: workflow, mirror: mirror}
}

func (h *AssignmentHandler) Ensure(c *fiber.Ctx) error {
	actor, ok := actorFromLocals(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req ensureAssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.CoachID = strings.TrimSpace(req.CoachID)

	switch actor.Role {
	case workflow.RoleAdmin:
	case workflow.RoleCustomer:
		if req.CustomerID != actor.ID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		}
	case workflow.RoleCoach:
		if req.CoachID != actor.ID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		}
	default:
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	assignment, err := h.workflow.Ensure(c.Context(), req.CustomerID, req.CoachID, actor)
	if err != nil {
		return mapAssignmentError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(h.payload(assignment))
}

func (h *AssignmentHandler) Get(c *fiber.Ctx) error {
	_, customerID, ok := h.authorize(c)
	if !ok {
		return nil
	}

	assignment, err := h.workflow.Get(c.Context(), customerID)
	if err != nil {
		return mapAssignmentError(c, err)
	}
	return c.JSON(h.payload(assignment))
}

func (h *AssignmentHandler) Advance(c *fiber.Ctx) error {
	return h.transition(c, h.workflow.Advance)
}

func (h *AssignmentHandler) Rewind(c *fiber.Ctx) error {
	return h.transition(c, h.workflow.Rewind)
}

func (h *AssignmentHandler) transition(
	c *fiber.Ctx,
	step func(ctx context.Context, customerID string, actor workflow.Actor, note string) (models.Assignment, error),
) error {
	actor, customerID, ok := h.authorize(c)
	if !ok {
		return nil
	}

	var req transitionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	assignment, err := step(c.Context(), customerID, actor, req.Note)
	if errors.Is(err, assignments.ErrMirror) {
		log.Printf("assignment %s changed but mirror failed: %v", customerID, err)
		payload := h.payload(assignment)
		payload["warning"] = "Status saved; reporting copy not updated"
		return c.JSON(payload)
	}
	if err != nil {
		return mapAssignmentError(c, err)
	}
	return c.JSON(h.payload(assignment))
}

// RecordStatus writes a status change into the relational mirror.
func (h *AssignmentHandler) RecordStatus(c *fiber.Ctx) error {
	if h.mirror == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Assignment mirror is not configured"})
	}
	actor, customerID, ok := h.authorize(c)
	if !ok {
		return nil
	}

	var req assignments.StatusUpdate
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	mirror, err := h.mirror.Record(c.Context(), customerID, req, actor.ID, actor.Role)
	if err != nil {
		return mapAssignmentError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"mirror": mirror})
}

func (h *AssignmentHandler) GetMirror(c *fiber.Ctx) error {
	if h.mirror == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Assignment mirror is not configured"})
	}
	_, customerID, ok := h.authorize(c)
	if !ok {
		return nil
	}

	mirror, err := h.mirror.Get(c.Context(), customerID)
	if err != nil {
		return mapAssignmentError(c, err)
	}
	return c.JSON(fiber.Map{"mirror": mirror})
}

// authorize resolves the caller and the :id customer. Customers only reach
// their own assignment and coaches only the assignments they are paired on.
// A missing assignment passes through so the caller reports it. When ok is
// false the error response is already set.
func (h *AssignmentHandler) authorize(c *fiber.Ctx) (actor workflow.Actor, customerID string, ok bool) {
	actor, ok = actorFromLocals(c)
	if !ok {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		return actor, "", false
	}
	customerID = strings.TrimSpace(c.Params("id"))
	if customerID == "" {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid assignment id"})
		return actor, "", false
	}
	if actor.Role == workflow.RoleCustomer && actor.ID != customerID {
		_ = c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		return actor, "", false
	}
	if actor.Role == workflow.RoleCoach {
		assignment, err := h.workflow.Get(c.Context(), customerID)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			_ = mapAssignmentError(c, err)
			return actor, "", false
		}
		if err == nil && assignment.CoachID != actor.ID {
			_ = c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
			return actor, "", false
		}
	}
	return actor, customerID, true
}

func (h *AssignmentHandler) payload(assignment models.Assignment) fiber.Map {
	return fiber.Map{
		"assignment": assignment,
		"display":    h.workflow.Display(string(assignment.Status)),
	}
}

func mapAssignmentError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, workflow.ErrPermissionDenied), errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, workflow.ErrBoundary):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "No further status in this direction"})
	case errors.Is(err, models.ErrValidation), errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Assignment not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process assignment request"})
	}
}
