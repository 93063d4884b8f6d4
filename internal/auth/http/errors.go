package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/stafflane/stafflane/internal/auth/service"
	"github.com/stafflane/stafflane/pkg/httpx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

// writeServiceError translates service sentinel errors into their HTTP
// shape. Anything unmapped is a 500 and gets logged with detail; the client
// only ever sees the generic envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var lockErr *service.AccountLockedError

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_credentials", "Email or password is incorrect")
	case errors.As(err, &lockErr):
		if wait := time.Until(lockErr.Until); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		}
		httpx.WriteError(w, http.StatusLocked, "account_locked",
			"Too many failed attempts. Locked until "+lockErr.Until.UTC().Format(time.RFC3339))
	case errors.Is(err, service.ErrAccountLocked):
		httpx.WriteError(w, http.StatusLocked,
			"account_locked", "Too many failed attempts. Try again later.")
	case errors.Is(err, service.ErrAccountInactive):
		httpx.WriteError(w, http.StatusForbidden,
			"account_inactive", "This account has been deactivated")
	case errors.Is(err, service.ErrInvalidChallenge):
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_challenge", "Challenge token is invalid or expired")
	case errors.Is(err, service.ErrTooManyAttempts):
		httpx.WriteError(w, http.StatusTooManyRequests,
			"too_many_attempts", "Attempt limit reached")
	case errors.Is(err, service.ErrInvalidMFACode):
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_code", "The code is not valid")
	case errors.Is(err, service.ErrMFANotActive):
		httpx.WriteError(w, http.StatusBadRequest,
			"mfa_not_active", "MFA is not active for this account")
	case errors.Is(err, service.ErrMFAAlreadyActive):
		httpx.WriteError(w, http.StatusBadRequest,
			"mfa_already_active", "MFA is already active for this account")
	case errors.Is(err, service.ErrMFANotEnrolled):
		httpx.WriteError(w, http.StatusBadRequest,
			"mfa_not_enrolled", "Start enrollment before confirming")
	case errors.Is(err, service.ErrRecoveryCodeInvalid):
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_recovery_code", "The recovery code is not valid")
	case errors.Is(err, service.ErrCodeExpired):
		httpx.WriteError(w, http.StatusBadRequest,
			"code_expired", "The code has expired or was already used")
	case errors.Is(err, service.ErrCodeMismatch):
		httpx.WriteError(w, http.StatusBadRequest,
			"code_mismatch", "The code is incorrect")
	case errors.Is(err, service.ErrRateLimited):
		httpx.WriteError(w, http.StatusTooManyRequests,
			"rate_limited", "A code was sent recently. Wait before requesting another.")
	case errors.Is(err, service.ErrCaptchaFailed):
		httpx.WriteError(w, http.StatusBadRequest,
			"captcha_failed", "CAPTCHA verification failed")
	case errors.Is(err, service.ErrConflictRetryExhausted):
		httpx.WriteError(w, http.StatusConflict,
			"conflict", "The account changed concurrently. Retry the request.")
	case errors.Is(err, service.ErrWeakPassword):
		httpx.WriteError(w, http.StatusBadRequest,
			"weak_password", "Password does not meet the minimum requirements")
	case errors.Is(err, service.ErrInvalidEmail):
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_email", "Email address is not valid")
	case errors.Is(err, service.ErrUnknownRole):
		httpx.WriteError(w, http.StatusBadRequest,
			"unknown_role", "Role is not recognised")
	case errors.Is(err, service.ErrEmailInUse):
		httpx.WriteError(w, http.StatusConflict,
			"email_in_use", "An account with this email already exists")
	case errors.Is(err, service.ErrWrongPassword):
		httpx.WriteError(w, http.StatusBadRequest,
			"wrong_password", "Current password is incorrect")
	default:
		slogx.FromContext(r.Context()).Error("unhandled service error", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError,
			"server_error", "Something went wrong")
	}
}

func writeBadJSON(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
}
