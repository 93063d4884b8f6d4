package http

import (
	"encoding/json"
	"net/http"

	"github.com/stafflane/stafflane/internal/auth/service"
	"github.com/stafflane/stafflane/pkg/httpx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

// MFAHandler covers self-service TOTP enrollment and management. Every
// endpoint requires an authenticated session.
type MFAHandler struct {
	MFAService *service.MFAService
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

// HandleEnroll handles POST /v1/mfa/totp/enroll.
//
// Provisions a secret and returns the otpauth URL. MFA stays pending until
// the secret is confirmed with a valid code.
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	accountID := httpx.AccountIDFromCtx(ctx)
	if accountID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "")
		return
	}

	enrollment, err := h.MFAService.BeginEnrollment(ctx, accountID)
	if err != nil {
		log.Warn("mfa enrollment rejected", "account_id", accountID, "err", err)
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, enrollment)
}

// HandleConfirm handles POST /v1/mfa/totp/confirm.
//
// Activates MFA and returns the recovery codes. This is the only time the
// codes are shown in plaintext.
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	accountID := httpx.AccountIDFromCtx(ctx)
	if accountID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "")
		return
	}

	var req mfaCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}

	batch, err := h.MFAService.ConfirmEnrollment(ctx, accountID, req.Code)
	if err != nil {
		log.Warn("mfa confirmation rejected", "account_id", accountID, "err", err)
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, batch)
}

// HandleRegenerateRecoveryCodes handles POST /v1/mfa/recovery-codes.
func (h *MFAHandler) HandleRegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID := httpx.AccountIDFromCtx(ctx)
	if accountID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "")
		return
	}

	var req mfaCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}

	batch, err := h.MFAService.RegenerateRecoveryCodes(ctx, accountID, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, batch)
}

// HandleDisable handles DELETE /v1/mfa/totp. Requires a fresh valid code;
// losing the authenticator is handled by the recovery flows instead.
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID := httpx.AccountIDFromCtx(ctx)
	if accountID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "")
		return
	}

	var req mfaCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}

	if err := h.MFAService.Disable(ctx, accountID, req.Code); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
