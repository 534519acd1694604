package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/assignments"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/models"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/services"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/workflow"
	"github.com/gofiber/fiber/v2"
)

type stubAssignmentMirror struct {
	recorded  []assignments.StatusUpdate
	changedBy string
	recordErr error
	mirror    *models.AssignmentMirror
	mirrorErr error
}

func (s *stubAssignmentMirror) Record(
	_ context.Context,
	customerID string,
	update assignments.StatusUpdate,
	changedBy string,
	_ string,
) (*models.AssignmentMirror, error) {
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	s.recorded = append(s.recorded, update)
	s.changedBy = changedBy
	return &models.AssignmentMirror{CustomerID: customerID, Status: update.Status}, nil
}

func (s *stubAssignmentMirror) Get(context.Context, string) (*models.AssignmentMirror, error) {
	return s.mirror, s.mirrorErr
}

// RecordStatus lets the stub also serve as the workflow service's mirror.
func (s *stubAssignmentMirror) RecordStatus(_ context.Context, _ string, update assignments.StatusUpdate) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.recorded = append(s.recorded, update)
	return nil
}

func newAssignmentApp(handler *AssignmentHandler, userID, role string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("role", role)
		return c.Next()
	})
	app.Post("/api/v1/assignments", handler.Ensure)
	app.Get("/api/v1/assignments/:id", handler.Get)
	app.Post("/api/v1/assignments/:id/advance", handler.Advance)
	app.Post("/api/v1/assignments/:id/rewind", handler.Rewind)
	app.Post("/api/v1/assignments/:id/status", handler.RecordStatus)
	app.Get("/api/v1/assignments/:id/mirror", handler.GetMirror)
	return app
}

type assignmentResponseBody struct {
	Assignment models.Assignment   `json:"assignment"`
	Display    assignments.Display `json:"display"`
	Warning    string              `json:"warning"`
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func seedAssignment(t *testing.T, store *docstore.MemoryStore, customerID, status string) {
	t.Helper()
	err := store.Set(context.Background(), models.AssignmentPath(customerID), map[string]any{
		"customerId": customerID,
		"coachId":    "coach1",
		"status":     status,
	}, docstore.SetOptions{})
	if err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
}

func TestEnsureAssignmentByCustomer(t *testing.T) {
	store := docstore.NewMemoryStore()
	handler := NewAssignmentHandler(assignments.NewService(store, nil, workflow.DefaultPolicy), nil)
	app := newAssignmentApp(handler, "cust1", workflow.RoleCustomer)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/assignments", `{"customer_id":"cust1","coach_id":"coach1"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body assignmentResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Assignment.Status != workflow.StatusCollecting || body.Display.Next != workflow.StatusReview {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestEnsureAssignmentRejectsOtherCustomer(t *testing.T) {
	handler := NewAssignmentHandler(assignments.NewService(docstore.NewMemoryStore(), nil, workflow.DefaultPolicy), nil)
	app := newAssignmentApp(handler, "cust2", workflow.RoleCustomer)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/assignments", `{"customer_id":"cust1","coach_id":"coach1"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestAdvanceByOwnerMirrorsStatus(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedAssignment(t, store, "cust1", "pending")
	mirror := &stubAssignmentMirror{}
	handler := NewAssignmentHandler(assignments.NewService(store, mirror, workflow.DefaultPolicy), mirror)
	app := newAssignmentApp(handler, "cust1", workflow.RoleCustomer)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/assignments/cust1/advance", `{"note":"ready"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body assignmentResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Assignment.Status != workflow.StatusReview || len(body.Assignment.StatusHistory) != 1 {
		t.Fatalf("unexpected assignment: %+v", body.Assignment)
	}
	if len(mirror.recorded) != 1 || mirror.recorded[0].Status != "Review" || mirror.recorded[0].Note != "ready" {
		t.Fatalf("unexpected mirror writes: %+v", mirror.recorded)
	}
}

func TestAdvanceByWrongRoleIsForbidden(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedAssignment(t, store, "cust1", "Review")
	handler := NewAssignmentHandler(assignments.NewService(store, nil, workflow.DefaultPolicy), nil)
	app := newAssignmentApp(handler, "cust1", workflow.RoleCustomer)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/assignments/cust1/advance", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestRewindAtBoundaryConflicts(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedAssignment(t, store, "cust1", "Collecting")
	handler := NewAssignmentHandler(assignments.NewService(store, nil, workflow.DefaultPolicy), nil)
	app := newAssignmentApp(handler, "admin1", workflow.RoleAdmin)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/assignments/cust1/rewind", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestAdvanceKeepsChangeWhenMirrorFails(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedAssignment(t, store, "cust1", "Review")
	mirror := &stubAssignmentMirror{recordErr: errors.New("mirror down")}
	handler := NewAssignmentHandler(assignments.NewService(store, mirror, workflow.DefaultPolicy), mirror)
	app := newAssignmentApp(handler, "coach1", workflow.RoleCoach)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/assignments/cust1/advance", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body assignmentResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Assignment.Status != workflow.StatusApproval || body.Warning == "" {
		t.Fatalf("expected saved status with warning, got %+v", body)
	}
}

func TestGetAssignmentNotFound(t *testing.T) {
	handler := NewAssignmentHandler(assignments.NewService(docstore.NewMemoryStore(), nil, workflow.DefaultPolicy), nil)
	app := newAssignmentApp(handler, "coach1", workflow.RoleCoach)

	resp := doRequest(t, app, http.MethodGet, "/api/v1/assignments/cust9", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRecordStatusWritesMirror(t *testing.T) {
	mirror := &stubAssignmentMirror{}
	handler := NewAssignmentHandler(assignments.NewService(docstore.NewMemoryStore(), nil, workflow.DefaultPolicy), mirror)
	app := newAssignmentApp(handler, "coach1", workflow.RoleCoach)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/assignments/cust1/status", `{"status":"Approval","note":"ok"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if len(mirror.recorded) != 1 || mirror.changedBy != "coach1" {
		t.Fatalf("unexpected mirror record: %+v by %q", mirror.recorded, mirror.changedBy)
	}
}

func TestRecordStatusInvalidInput(t *testing.T) {
	mirror := &stubAssignmentMirror{recordErr: services.ErrInvalidInput}
	handler := NewAssignmentHandler(assignments.NewService(docstore.NewMemoryStore(), nil, workflow.DefaultPolicy), mirror)
	app := newAssignmentApp(handler, "coach1", workflow.RoleCoach)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/assignments/cust1/status", `{"status":"escalated"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetMirrorWithoutDatabase(t *testing.T) {
	handler := NewAssignmentHandler(assignments.NewService(docstore.NewMemoryStore(), nil, workflow.DefaultPolicy), nil)
	app := newAssignmentApp(handler, "coach1", workflow.RoleCoach)

	resp := doRequest(t, app, http.MethodGet, "/api/v1/assignments/cust1/mirror", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestCoachCannotTouchAnotherCoachesAssignment(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedAssignment(t, store, "cust1", "Review")
	mirror := &stubAssignmentMirror{}
	handler := NewAssignmentHandler(assignments.NewService(store, mirror, workflow.DefaultPolicy), mirror)
	app := newAssignmentApp(handler, "coach2", workflow.RoleCoach)

	for _, target := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/assignments/cust1"},
		{http.MethodPost, "/api/v1/assignments/cust1/advance"},
		{http.MethodPost, "/api/v1/assignments/cust1/rewind"},
		{http.MethodGet, "/api/v1/assignments/cust1/mirror"},
	} {
		resp := doRequest(t, app, target.method, target.path, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 for %s %s, got %d", target.method, target.path, resp.StatusCode)
		}
	}

	assignment, err := assignments.NewService(store, nil, workflow.DefaultPolicy).Get(context.Background(), "cust1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if assignment.Status != workflow.StatusReview || len(mirror.recorded) != 0 {
		t.Fatalf("assignment changed by a foreign coach: %+v, mirror %+v", assignment, mirror.recorded)
	}
}

func TestPairedCoachCanReadAssignment(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedAssignment(t, store, "cust1", "Review")
	handler := NewAssignmentHandler(assignments.NewService(store, nil, workflow.DefaultPolicy), nil)
	app := newAssignmentApp(handler, "coach1", workflow.RoleCoach)

	resp := doRequest(t, app, http.MethodGet, "/api/v1/assignments/cust1", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
