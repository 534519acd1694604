package identity

import (
	"context"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/pkg/utils"
)

// LocalTokenSource signs tokens in-process with the gateway secret.
type LocalTokenSource struct {
	UserID string
	Role   string
	Secret string
	TTL    time.Duration
}

func (s LocalTokenSource) SignIn(ctx context.Context) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = utils.DefaultTokenTTL
	}
	token, err := utils.GenerateTokenWithTTL(s.UserID, s.Role, s.Secret, ttl)
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		UserID:    s.UserID,
		Role:      s.Role,
		Token:     token,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (s LocalTokenSource) Refresh(ctx context.Context, _ Credential) (Credential, error) {
	return s.SignIn(ctx)
}
