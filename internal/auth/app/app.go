package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stafflane/stafflane/internal/auth/captcha"
	"github.com/stafflane/stafflane/internal/auth/domain"
	httpapi "github.com/stafflane/stafflane/internal/auth/http"
	"github.com/stafflane/stafflane/internal/auth/mailer"
	"github.com/stafflane/stafflane/internal/auth/service"
	"github.com/stafflane/stafflane/internal/auth/store"
	"github.com/stafflane/stafflane/internal/auth/store/drivers/sqlite"
	"github.com/stafflane/stafflane/pkg/cryptox"
	"github.com/stafflane/stafflane/pkg/jwtx"
	"github.com/stafflane/stafflane/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"

	signingKID = "auth-1"
)

// Application encapsulates the auth service with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	keys     *jwtx.KeySet
	verifier jwtx.Verifier

	// Services
	tokenService        *service.TokenService
	loginService        *service.LoginService
	mfaService          *service.MFAService
	recoveryService     *service.RecoveryService
	accountService      *service.AccountService
	adminService        *service.AdminService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "stafflane-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for password hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initKeys(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	if err := app.bootstrapAdmin(context.Background()); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initKeys sets up the Ed25519 signing key. A key file gives stable session
// verification across restarts; without one an ephemeral key is generated
// and outstanding sessions die with the process.
func (app *Application) initKeys() error {
	var (
		signer *jwtx.EdDSASigner
		err    error
	)

	if app.cfg.SigningKey != "" {
		pemKey, readErr := os.ReadFile(app.cfg.SigningKey)
		if readErr != nil {
			return fmt.Errorf("failed to read signing key file: %w", readErr)
		}
		signer, err = jwtx.NewSignerEdDSA(signingKID, pemKey)
	} else {
		app.logger.Warn("no signing key file configured, using ephemeral key")
		signer, err = jwtx.NewEphemeralSignerEdDSA(signingKID)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize signing key: %w", err)
	}

	keys := jwtx.NewKeySet()
	if err := keys.AddSigner(signer); err != nil {
		return fmt.Errorf("failed to register signing key: %w", err)
	}

	app.keys = keys
	app.verifier = jwtx.NewVerifierEdDSA(keys, app.cfg.Issuer)

	app.tokenService = &service.TokenService{
		Signer:    signer,
		Issuer:    app.cfg.Issuer,
		AccessTTL: app.cfg.SessionTTL,
	}
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.loginService = &service.LoginService{
		Store:         app.db,
		Tokens:        app.tokenService,
		LockThreshold: app.cfg.LockThreshold,
		LockDuration:  app.cfg.LockDuration,
		ChallengeTTL:  app.cfg.ChallengeTTL,
		BypassCode:    app.cfg.MFABypassCode,
	}

	app.mfaService = &service.MFAService{
		Store:  app.db,
		Issuer: app.cfg.Issuer,
	}

	app.recoveryService = &service.RecoveryService{
		Store:          app.db,
		Mailer:         &mailer.LogDispatcher{Logger: app.logger},
		Captcha:        app.captchaVerifier(),
		CodeTTL:        app.cfg.EmailCodeTTL,
		ResendInterval: app.cfg.EmailResendInterval,
	}

	app.accountService = &service.AccountService{Store: app.db}
	app.adminService = &service.AdminService{Store: app.db}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// captchaVerifier picks the CAPTCHA backend. A configured siteverify
// endpoint wins; otherwise a static dev token, but never outside dev.
func (app *Application) captchaVerifier() captcha.Verifier {
	if app.cfg.CaptchaEndpoint != "" {
		return captcha.NewHTTPVerifier(app.cfg.CaptchaEndpoint, app.cfg.CaptchaSecret)
	}
	if app.cfg.Env != "dev" {
		app.logger.Warn("no CAPTCHA endpoint configured outside dev, MFA reset will always fail captcha")
		return captcha.StaticVerifier{}
	}
	app.logger.Warn("using static dev CAPTCHA verifier")
	return captcha.StaticVerifier{Token: app.cfg.CaptchaDevToken}
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keys,
		app.verifier,
		app.cfg.Issuer,
		BuildVersion,
		app.db,
		app.logger,
	)

	// Wire services to router
	router.LoginService = app.loginService
	router.MFAService = app.mfaService
	router.RecoveryService = app.recoveryService
	router.AccountService = app.accountService
	router.AdminService = app.adminService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// bootstrapAdmin seeds the first admin account when the database is empty
// and bootstrap credentials are configured. A running deployment with
// existing accounts is never touched.
func (app *Application) bootstrapAdmin(ctx context.Context) error {
	if app.cfg.BootstrapEmail == "" || app.cfg.BootstrapPassword == "" {
		return nil
	}

	empty, err := app.db.Accounts().IsEmpty(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for existing accounts: %w", err)
	}
	if !empty {
		return nil
	}

	account, err := app.accountService.Create(ctx,
		app.cfg.BootstrapEmail, app.cfg.BootstrapPassword, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin account: %w", err)
	}

	app.logger.Info("bootstrapped initial admin account",
		"account_id", account.ID, "email", account.Email)
	return nil
}
