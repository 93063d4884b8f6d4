package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrFailed means the CAPTCHA provider rejected the token.
var ErrFailed = errors.New("captcha: verification failed")

// Verifier checks a client-supplied CAPTCHA token before a sensitive flow
// is allowed to proceed.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// HTTPVerifier talks to a hCaptcha/reCAPTCHA-compatible siteverify endpoint.
type HTTPVerifier struct {
	Endpoint string
	Secret   string
	Client   *http.Client
}

func NewHTTPVerifier(endpoint, secret string) *HTTPVerifier {
	return &HTTPVerifier{
		Endpoint: endpoint,
		Secret:   secret,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return ErrFailed
	}

	form := url.Values{
		"secret":   {v.Secret},
		"response": {token},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("captcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.Client.Do(req)
	if err != nil {
		return fmt.Errorf("captcha: siteverify request: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("captcha: decode siteverify response: %w", err)
	}

	if !body.Success {
		return fmt.Errorf("%w: %s", ErrFailed, strings.Join(body.ErrorCodes, ","))
	}
	return nil
}

// StaticVerifier accepts a fixed token. Used in dev and tests where no
// CAPTCHA provider is available.
type StaticVerifier struct {
	Token string
}

func (v StaticVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if token != v.Token || token == "" {
		return ErrFailed
	}
	return nil
}
