package http

import (
	"encoding/json"
	"net/http"

	"github.com/stafflane/stafflane/internal/auth/service"
	"github.com/stafflane/stafflane/pkg/httpx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

// AccountsHandler covers account provisioning and self-service password
// changes. Provisioning is an admin operation; there is no open signup.
type AccountsHandler struct {
	AccountService *service.AccountService
}

type createAccountRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type accountResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// HandleCreate handles POST /v1/accounts.
func (h *AccountsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}

	account, err := h.AccountService.Create(ctx, req.Email, req.Password, req.Role)
	if err != nil {
		log.Warn("account creation rejected", "err", err)
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, accountResponse{
		ID:     account.ID,
		Email:  account.Email,
		Role:   account.Role,
		Active: account.Active,
	})
}

// HandleChangePassword handles POST /v1/accounts/password for the
// authenticated account.
func (h *AccountsHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID := httpx.AccountIDFromCtx(ctx)
	if accountID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadJSON(w)
		return
	}

	if err := h.AccountService.ChangePassword(ctx, accountID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
