package domain

import "time"

// ChallengeResponse is returned when MFA is required during authentication.
type ChallengeResponse struct {
	MFARequired    bool     `json:"mfa_required"` // always true
	ChallengeToken string   `json:"challenge_token"`
	Methods        []string `json:"methods"` // e.g. ["totp", "recovery_code"]
}

// LoginChallenge represents a password-verified login waiting on its second
// factor. The token handed to the client is the challenge ID.
type LoginChallenge struct {
	ID        string   // ULID (the challenge_token)
	AccountID string
	AMR       []string // methods satisfied so far (always contains "pwd")
	Attempts  int      // failed second-factor attempts, capped to stop brute force
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the challenge window has closed.
func (c LoginChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
