package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is the default lifetime for session tokens. Short-lived
// for security; consumers re-authenticate rather than refresh.
const DefaultSessionTTL = 15 * time.Minute

// AMR (authentication methods reference) values carried in session claims.
const (
	AMRPassword = "pwd" // password-based authentication
	AMROTP      = "otp" // one-time password (TOTP or email code)
	AMRMFA      = "mfa" // a second factor was satisfied
	AMRRecovery = "rec" // a recovery code was consumed
)

// Claims are session-token claims shared across the platform. Keep changes
// additive to preserve compatibility for downstream services.
type Claims struct {
	jwt.RegisteredClaims

	// Role of the authenticated account ("admin", "manager", "worker").
	Role string `json:"role,omitempty"`

	// Email is the account's normalized identity key.
	Email string `json:"email,omitempty"`

	// AMR lists how the session was established, e.g. ["pwd","mfa"].
	// Downstream services can require MFA-backed sessions for sensitive
	// operations by inspecting this list.
	AMR []string `json:"amr,omitempty"`
}

// NewSessionClaims builds minimally-correct claims for a session token.
func NewSessionClaims(
	subject, role, email string,
	amr []string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Role:  role,
		Email: email,
		AMR:   amr,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// HasAMR reports whether the given authentication method is present.
func (c *Claims) HasAMR(method string) bool {
	return slices.Contains(c.AMR, method)
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}
