package domain

// TokenResponse is the session issued after all factors are satisfied.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // always "Bearer"
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// EnrollmentResponse carries the provisioning material for an authenticator
// app. The secret is only ever returned here, at enrollment time.
type EnrollmentResponse struct {
	Secret     string `json:"secret"`      // base32 encoded TOTP secret
	OTPAuthURL string `json:"otpauth_url"` // otpauth:// URL for QR code generation
	Issuer     string `json:"issuer"`
	Account    string `json:"account"` // account email
}
