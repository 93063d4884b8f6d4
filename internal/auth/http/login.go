package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/internal/auth/service"
	"github.com/stafflane/stafflane/pkg/httpx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

// LoginHandler handles the password step and the second-factor completions.
type LoginHandler struct {
	LoginService *service.LoginService
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type challengeCompleteRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

// HandleLogin handles POST /v1/auth/login.
//
// On success without MFA it returns the session token directly. When MFA is
// active it returns 200 with mfa_required=true and a challenge token to
// redeem against one of the completion endpoints.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "email and password are required")
		return
	}

	token, challenge, err := h.LoginService.PasswordLogin(ctx, req.Email, req.Password)
	if err != nil {
		log.Info("login rejected", "err", err)
		writeServiceError(w, r, err)
		return
	}

	if challenge != nil {
		httpx.WriteJSON(w, http.StatusOK, challenge)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, token)
}

// HandleCompleteTOTP handles POST /v1/auth/mfa/totp.
func (h *LoginHandler) HandleCompleteTOTP(w http.ResponseWriter, r *http.Request) {
	h.complete(w, r, h.LoginService.CompleteTOTP)
}

// HandleCompleteRecoveryCode handles POST /v1/auth/mfa/recovery-code.
func (h *LoginHandler) HandleCompleteRecoveryCode(w http.ResponseWriter, r *http.Request) {
	h.complete(w, r, h.LoginService.CompleteRecoveryCode)
}

// HandleCompleteEmailCode handles POST /v1/auth/mfa/email-code.
func (h *LoginHandler) HandleCompleteEmailCode(w http.ResponseWriter, r *http.Request) {
	h.complete(w, r, h.LoginService.CompleteEmailCode)
}

func (h *LoginHandler) complete(
	w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, token, code string) (*domain.TokenResponse, error),
) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req challengeCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}
	if req.ChallengeToken == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "challenge_token and code are required")
		return
	}

	token, err := fn(ctx, req.ChallengeToken, req.Code)
	if err != nil {
		log.Info("challenge completion rejected", "err", err)
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, token)
}
