package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

func newProtectedApp(roles ...string) *fiber.App {
	app := fiber.New()
	handlers := []fiber.Handler{AuthRequired("secret")}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRoles(roles...))
	}
	handlers = append(handlers, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("user_id"), "role": c.Locals("role")})
	})
	app.Get("/protected", handlers...)
	return app
}

func requestWithToken(t *testing.T, app *fiber.App, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func TestAuthRequiredSetsLocals(t *testing.T) {
	token, err := utils.GenerateToken("7", "coach", "secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	resp := requestWithToken(t, newProtectedApp(), token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body["user_id"] != "7" || body["role"] != "coach" {
		t.Fatalf("unexpected locals: %+v", body)
	}
}

func TestAuthRequiredReportsExpiredToken(t *testing.T) {
	token, err := utils.GenerateTokenWithTTL("7", "coach", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateTokenWithTTL: %v", err)
	}

	resp := requestWithToken(t, newProtectedApp(), token)
	defer resp.Body.Close()
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Token expired" {
		t.Fatalf("expected expired token rejection, got %d %+v", resp.StatusCode, body)
	}
}

func TestAuthRequiredRejectsMissingHeader(t *testing.T) {
	resp := requestWithToken(t, newProtectedApp(), "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRequireRolesForbidsOtherRoles(t *testing.T) {
	token, _ := utils.GenerateToken("7", "customer", "secret")
	resp := requestWithToken(t, newProtectedApp("admin"), token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}
