package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/stafflane/stafflane/internal/auth/domain"
	"github.com/stafflane/stafflane/internal/auth/service"
	"github.com/stafflane/stafflane/internal/auth/store"
	"github.com/stafflane/stafflane/pkg/httpx"
	"github.com/stafflane/stafflane/pkg/jwtx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	verifier     jwtx.Verifier
	issuer       string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store           store.Store
	LoginService    *service.LoginService
	MFAService      *service.MFAService
	RecoveryService *service.RecoveryService
	AccountService  *service.AccountService
	AdminService    *service.AdminService
}

func NewRouter(
	keys *jwtx.KeySet,
	verifier jwtx.Verifier,
	issuer, buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		issuer:       issuer,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerMFA()
	r.registerRecovery()
	r.registerAccounts()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &LoginHandler{LoginService: r.LoginService}

	// POST /login - strict rate limit by IP; the per-account lockout
	// handles credential stuffing spread across IPs.
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// Challenge completions - strict by IP (TOTP/recovery code guessing).
	r.Mux.Handle("POST /v1/auth/mfa/totp",
		httpx.Chain(http.HandlerFunc(h.HandleCompleteTOTP),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/mfa/recovery-code",
		httpx.Chain(http.HandlerFunc(h.HandleCompleteRecoveryCode),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/mfa/email-code",
		httpx.Chain(http.HandlerFunc(h.HandleCompleteEmailCode),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// GET /jwks.json - public endpoint with high limit
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{MFAService: r.MFAService}

	// POST /mfa/totp/enroll - moderate rate limit by account
	securedEnroll := httpx.Chain(http.HandlerFunc(h.HandleEnroll),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByAccount(httpx.ModerateLimit),
	)

	// POST /mfa/totp/confirm - strict rate limit by account (prevents
	// brute forcing the pending secret's codes)
	securedConfirm := httpx.Chain(http.HandlerFunc(h.HandleConfirm),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByAccount(httpx.StrictLimit),
	)

	// POST /mfa/recovery-codes - moderate rate limit by account
	securedRegenerate := httpx.Chain(http.HandlerFunc(h.HandleRegenerateRecoveryCodes),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByAccount(httpx.ModerateLimit),
	)

	// DELETE /mfa/totp - moderate rate limit by account
	securedDisable := httpx.Chain(http.HandlerFunc(h.HandleDisable),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByAccount(httpx.ModerateLimit),
	)

	r.Mux.Handle("POST /v1/mfa/totp/enroll", securedEnroll)
	r.Mux.Handle("POST /v1/mfa/totp/confirm", securedConfirm)
	r.Mux.Handle("POST /v1/mfa/recovery-codes", securedRegenerate)
	r.Mux.Handle("DELETE /v1/mfa/totp", securedDisable)
}

func (r *Router) registerRecovery() {
	h := &RecoveryHandler{RecoveryService: r.RecoveryService}

	// POST /recovery/email-code - strict by IP; the service also
	// throttles resends per account.
	r.Mux.Handle("POST /v1/recovery/email-code",
		httpx.Chain(http.HandlerFunc(h.HandleRequestEmailCode),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /recovery/mfa-reset - strict by IP (CAPTCHA-gated destructive op)
	r.Mux.Handle("POST /v1/recovery/mfa-reset",
		httpx.Chain(http.HandlerFunc(h.HandleMFAReset),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerAccounts() {
	h := &AccountsHandler{AccountService: r.AccountService}

	// POST /accounts - admin provisioning, moderate limit
	securedCreate := httpx.Chain(http.HandlerFunc(h.HandleCreate),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireAnyRole(domain.RoleAdmin, domain.RoleManager),
		httpx.RateLimitByAccount(httpx.ModerateLimit),
	)

	// POST /accounts/password - self-service, strict limit (password
	// verification happens inside)
	securedPassword := httpx.Chain(http.HandlerFunc(h.HandleChangePassword),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByAccount(httpx.StrictLimit),
	)

	r.Mux.Handle("POST /v1/accounts", securedCreate)
	r.Mux.Handle("POST /v1/accounts/password", securedPassword)
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{AdminService: r.AdminService}

	secure := func(next http.HandlerFunc) http.Handler {
		return httpx.Chain(next,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireAnyRole(domain.RoleAdmin),
			httpx.RateLimitByAccount(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("POST /v1/admin/accounts/{id}/unlock", secure(h.HandleForceUnlock))
	r.Mux.Handle("POST /v1/admin/accounts/{id}/mfa/disable", secure(h.HandleForceDisableMFA))
	r.Mux.Handle("POST /v1/admin/accounts/{id}/active", secure(h.HandleSetActive))
	r.Mux.Handle("GET /v1/admin/accounts/{id}/audit", secure(h.HandleListAudit))
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
