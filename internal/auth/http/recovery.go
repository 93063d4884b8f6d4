package http

import (
	"encoding/json"
	"net/http"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/internal/auth/service"
	"github.com/stafflane/stafflane/pkg/httpx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

// RecoveryHandler covers the unauthenticated account recovery flows.
type RecoveryHandler struct {
	RecoveryService *service.RecoveryService
}

type emailCodeRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"` // "login" or "mfa_reset"
}

type mfaResetRequest struct {
	Email        string `json:"email"`
	CaptchaToken string `json:"captcha_token"`
	Code         string `json:"code"`
}

// HandleRequestEmailCode handles POST /v1/recovery/email-code.
//
// Always returns 202 for well-formed requests, whether or not the address
// exists, so the endpoint cannot confirm account existence.
func (h *RecoveryHandler) HandleRequestEmailCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req emailCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}
	if req.Purpose == "" {
		req.Purpose = domain.EmailCodePurposeLogin
	}
	if req.Purpose != domain.EmailCodePurposeLogin && req.Purpose != domain.EmailCodePurposeMFAReset {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unknown purpose")
		return
	}

	if err := h.RecoveryService.RequestEmailCode(ctx, req.Email, req.Purpose); err != nil {
		log.Info("email code request rejected", "err", err)
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleMFAReset handles POST /v1/recovery/mfa-reset.
//
// CAPTCHA plus an emailed code tears down a lost authenticator. The caller
// requests a code with purpose "mfa_reset" first.
func (h *RecoveryHandler) HandleMFAReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req mfaResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}
	if req.Email == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "email and code are required")
		return
	}

	remoteIP := httpx.IPKeyExtractor(r)
	if err := h.RecoveryService.ResetMFAWithCaptcha(ctx, req.Email, req.CaptchaToken, remoteIP, req.Code); err != nil {
		log.Info("mfa reset rejected", "err", err)
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
