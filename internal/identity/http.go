package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/apiclient"
	"github.com/elcapodeicapi/EVC-website-sub000/pkg/utils"
)

// HTTPTokenSource signs in against the gateway's auth endpoints.
type HTTPTokenSource struct {
	client   *apiclient.Client
	email    string
	password string
}

func NewHTTPTokenSource(client *apiclient.Client, email, password string) *HTTPTokenSource {
	return &HTTPTokenSource{client: client, email: email, password: password}
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      struct {
		ID   json.Number `json:"id"`
		Role string      `json:"role"`
	} `json:"user"`
}

func (s *HTTPTokenSource) SignIn(ctx context.Context) (Credential, error) {
	var resp authResponse
	err := s.client.DoJSON(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    s.email,
		"password": s.password,
	}, &resp)
	if err != nil {
		return Credential{}, fmt.Errorf("sign in: %w", err)
	}
	return resp.credential()
}

// Refresh exchanges a still-valid token for a new one and falls back to a
// full sign-in once the old token has been rejected.
func (s *HTTPTokenSource) Refresh(ctx context.Context, current Credential) (Credential, error) {
	if current.Token == "" {
		return s.SignIn(ctx)
	}
	var resp authResponse
	err := s.client.DoJSON(ctx, http.MethodPost, "/api/auth/refresh", current.Token, nil, &resp)
	var httpErr *apiclient.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
		return s.SignIn(ctx)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("refresh token: %w", err)
	}
	return resp.credential()
}

func (r authResponse) credential() (Credential, error) {
	if r.Token == "" {
		return Credential{}, errors.New("auth response without token")
	}
	cred := Credential{
		UserID: r.User.ID.String(),
		Role:   r.User.Role,
		Token:  r.Token,
	}
	if expiresAt, err := time.Parse(time.RFC3339, r.ExpiresAt); err == nil {
		cred.ExpiresAt = expiresAt
	} else if claims, err := utils.ParseUnverified(r.Token); err == nil && claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	return cred, nil
}
