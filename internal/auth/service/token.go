package service

import (
	"context"
	"fmt"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/pkg/jwtx"
)

// TokenService mints session tokens once every required factor is satisfied.
type TokenService struct {
	Signer    jwtx.Signer
	Issuer    string
	AccessTTL time.Duration
}

// IssueSession signs a short-lived bearer token for the account. The AMR
// list records which factors were used so downstream services can demand
// MFA-backed sessions for sensitive operations.
func (s *TokenService) IssueSession(ctx context.Context, account domain.Account, amr []string) (domain.TokenResponse, error) {
	ttl := s.AccessTTL
	if ttl <= 0 {
		ttl = jwtx.DefaultSessionTTL
	}

	claims := jwtx.NewSessionClaims(
		account.ID, account.Role, account.Email,
		amr, ttl, s.Issuer, time.Now(),
	)

	token, err := s.Signer.Sign(claims)
	if err != nil {
		return domain.TokenResponse{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	return domain.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	}, nil
}
