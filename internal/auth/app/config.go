package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Required: issuer claim for session tokens

	DatabaseFile string // Optional: path to SQLite database file (default: ./auth.db)
	PepperFile   string // Optional: path to file containing pepper for password hashing (default: ./pepper)
	SigningKey   string // Optional: path to Ed25519 PKCS8 PEM; ephemeral key when unset
	Env          string // Environment (dev, staging, prod) (default: dev)
	LogLevel     string // Log level (debug, info, warn, error) (default: info)
	LogFormat    string // Log format (json, text) (default: json)
	Port         int    // HTTP server port (default: 8080)

	SessionTTL           time.Duration // Session token lifetime (default: 15m)
	LockThreshold        int           // Failed password attempts before lockout (default: 5)
	LockDuration         time.Duration // How long an account stays locked (default: 15m)
	ChallengeTTL         time.Duration // Second-factor challenge lifetime (default: 5m)
	EmailCodeTTL         time.Duration // Emailed code lifetime (default: 10m)
	EmailResendInterval  time.Duration // Minimum gap between emailed codes (default: 1m)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	CaptchaEndpoint string // siteverify-compatible endpoint; dev stub when unset
	CaptchaSecret   string
	CaptchaDevToken string // Token accepted by the dev stub (default: dev)

	// BootstrapEmail and BootstrapPassword seed the first admin account
	// when the database has no accounts at all. Ignored afterwards.
	BootstrapEmail    string
	BootstrapPassword string

	// MFABypassCode is only honoured when Env is "dev". LoadConfig refuses
	// to carry it into any other environment so a leaked dev override can
	// never weaken staging or prod.
	MFABypassCode string
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:       getEnvOrDefault("AUTH_ISSUER", "stafflane-auth"),
		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		PepperFile:   getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		SigningKey:   os.Getenv("AUTH_SIGNING_KEY_FILE"), // Optional
		Env:          getEnvOrDefault("ENV", "dev"),
		LogLevel:     getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:    getEnvOrDefault("LOG_FORMAT", "json"),
		Port:         getEnvIntOrDefault("PORT", 8080),

		SessionTTL:           getEnvDurationOrDefault("AUTH_SESSION_TTL", 15*time.Minute),
		LockThreshold:        getEnvIntOrDefault("AUTH_LOCK_THRESHOLD", 5),
		LockDuration:         getEnvDurationOrDefault("AUTH_LOCK_DURATION", 15*time.Minute),
		ChallengeTTL:         getEnvDurationOrDefault("AUTH_CHALLENGE_TTL", 5*time.Minute),
		EmailCodeTTL:         getEnvDurationOrDefault("AUTH_EMAIL_CODE_TTL", 10*time.Minute),
		EmailResendInterval:  getEnvDurationOrDefault("AUTH_EMAIL_RESEND_INTERVAL", time.Minute),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		CaptchaEndpoint: os.Getenv("AUTH_CAPTCHA_ENDPOINT"),
		CaptchaSecret:   os.Getenv("AUTH_CAPTCHA_SECRET"),
		CaptchaDevToken: getEnvOrDefault("AUTH_CAPTCHA_DEV_TOKEN", "dev"),

		BootstrapEmail:    os.Getenv("AUTH_BOOTSTRAP_EMAIL"),
		BootstrapPassword: os.Getenv("AUTH_BOOTSTRAP_PASSWORD"),
	}

	// The bypass is a dev convenience only. Outside dev the variable is
	// ignored entirely, whatever it is set to.
	if cfg.Env == "dev" {
		cfg.MFABypassCode = os.Getenv("AUTH_MFA_BYPASS_CODE")
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
