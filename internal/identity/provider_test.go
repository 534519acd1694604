package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/apiclient"
	"github.com/elcapodeicapi/EVC-website-sub000/pkg/utils"
)

type stubTokenSource struct {
	mu         sync.Mutex
	signIns    int
	refreshes  int
	ttl        time.Duration
	refreshErr error
}

func (s *stubTokenSource) SignIn(context.Context) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signIns++
	return Credential{UserID: "u1", Role: "coach", Token: "signin", ExpiresAt: time.Now().Add(s.ttl)}, nil
}

func (s *stubTokenSource) Refresh(_ context.Context, current Credential) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshErr != nil {
		return Credential{}, s.refreshErr
	}
	s.refreshes++
	return Credential{UserID: current.UserID, Role: current.Role, Token: "refreshed", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func TestTokenProviderCurrentRequiresSignIn(t *testing.T) {
	provider := NewTokenProvider(&stubTokenSource{ttl: time.Hour})
	if _, err := provider.Current(context.Background()); !errors.Is(err, ErrSignedOut) {
		t.Fatalf("expected ErrSignedOut, got %v", err)
	}
}

func TestTokenProviderRefreshesExpiredCredential(t *testing.T) {
	source := &stubTokenSource{ttl: time.Second}
	provider := NewTokenProvider(source)
	if _, err := provider.SignIn(context.Background()); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	cred, err := provider.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cred.Token != "refreshed" || source.refreshes != 1 {
		t.Fatalf("expected lazy refresh, got %+v after %d refreshes", cred, source.refreshes)
	}
}

func TestTokenProviderNotifiesEveryChange(t *testing.T) {
	ctx := context.Background()
	provider := NewTokenProvider(&stubTokenSource{ttl: time.Hour})

	var events []string
	cancel := provider.OnChange(func(cred Credential) {
		events = append(events, cred.Token)
	})

	_, _ = provider.SignIn(ctx)
	_, _ = provider.Refresh(ctx)
	_, _ = provider.Switch(ctx, &stubTokenSource{ttl: time.Hour})
	provider.SignOut()
	cancel()
	_, _ = provider.SignIn(ctx)

	want := []string{"signin", "refreshed", "signin", ""}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestTokenProviderRefreshFailureKeepsCredential(t *testing.T) {
	source := &stubTokenSource{ttl: time.Hour}
	provider := NewTokenProvider(source)
	_, _ = provider.SignIn(context.Background())

	source.refreshErr = errors.New("offline")
	if _, err := provider.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	cred, err := provider.Current(context.Background())
	if err != nil || cred.Token != "signin" {
		t.Fatalf("expected cached credential, got %+v %v", cred, err)
	}
}

func TestLocalTokenSourceIssuesValidToken(t *testing.T) {
	cred, err := LocalTokenSource{UserID: "9", Role: "admin", Secret: "s3cret", TTL: time.Minute}.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	claims, err := utils.ValidateToken(cred.Token, "s3cret")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "9" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestHTTPTokenSourceFallsBackToSignIn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/refresh":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Invalid or expired token"}`))
		case "/api/auth/login":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token":"fresh","expires_at":"2030-01-01T00:00:00Z","user":{"id":42,"email":"c@example.com","role":"coach"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	source := NewHTTPTokenSource(apiclient.New(server.URL, nil), "c@example.com", "password1")
	cred, err := source.Refresh(context.Background(), Credential{Token: "stale"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if cred.Token != "fresh" || cred.UserID != "42" || cred.Role != "coach" || cred.ExpiresAt.Year() != 2030 {
		t.Fatalf("unexpected credential: %+v", cred)
	}
}
