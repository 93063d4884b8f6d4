package http

import (
	"encoding/json"
	"net/http"

	"github.com/stafflane/stafflane/internal/auth/service"
	"github.com/stafflane/stafflane/pkg/httpx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

// AdminHandler exposes the break-glass operations. Routes are gated on the
// admin role; every call is attributed and audited.
type AdminHandler struct {
	AdminService *service.AdminService
}

type adminReasonRequest struct {
	Reason string `json:"reason"`
}

type adminSetActiveRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

// HandleForceUnlock handles POST /v1/admin/accounts/{id}/unlock.
func (h *AdminHandler) HandleForceUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	actorID := httpx.AccountIDFromCtx(ctx)
	accountID := r.PathValue("id")

	var req adminReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}

	if err := h.AdminService.ForceUnlock(ctx, actorID, accountID, req.Reason); err != nil {
		log.Warn("force unlock failed", "account_id", accountID, "err", err)
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleForceDisableMFA handles POST /v1/admin/accounts/{id}/mfa/disable.
func (h *AdminHandler) HandleForceDisableMFA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	actorID := httpx.AccountIDFromCtx(ctx)
	accountID := r.PathValue("id")

	var req adminReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}

	if err := h.AdminService.ForceDisableMFA(ctx, actorID, accountID, req.Reason); err != nil {
		log.Warn("force disable mfa failed", "account_id", accountID, "err", err)
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetActive handles POST /v1/admin/accounts/{id}/active.
func (h *AdminHandler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actorID := httpx.AccountIDFromCtx(ctx)
	accountID := r.PathValue("id")

	var req adminSetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}

	if err := h.AdminService.SetActive(ctx, actorID, accountID, req.Active, req.Reason); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListAudit handles GET /v1/admin/accounts/{id}/audit.
func (h *AdminHandler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := r.PathValue("id")

	entries, err := h.AdminService.ListAudit(ctx, accountID, 100)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
