// Package config provides application configuration loaded from environment
// variables with defaults and validation. Variables are decoded with
// caarlos0/env into a typed Config, then normalized and validated here.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrMissingToken is returned when DISCORD_TOKEN is absent or malformed.
// Startup must fail fast on it.
var ErrMissingToken = errors.New("DISCORD_TOKEN is missing or malformed")

// minTokenLen is the shortest credential accepted as plausibly real.
const minTokenLen = 10

// maxLabelLen is the platform limit for a button label.
const maxLabelLen = 80

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DiscordConfig holds the bot credential.
type DiscordConfig struct {
	Token string `env:"DISCORD_TOKEN"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend        string `env:"STORE_BACKEND" envDefault:"memory"`
	DBPath         string `env:"DB_PATH" envDefault:"rolegate.db"`
	RedisURL       string `env:"REDIS_URL"`
	RedisNamespace string `env:"REDIS_NAMESPACE"`
}

// OnboardingConfig tunes the onboarding state machine.
type OnboardingConfig struct {
	CooldownTTL       time.Duration `env:"COOLDOWN_TTL" envDefault:"10s"`
	DedupTTL          time.Duration `env:"DEDUP_TTL" envDefault:"30s"`
	RoleRemovalDelay  time.Duration `env:"ROLE_REMOVAL_DELAY" envDefault:"0s"`
	Timeout           time.Duration `env:"ONBOARDING_TIMEOUT" envDefault:"0s"` // 0 disables
	RestoreRetries    int           `env:"ROLE_RESTORE_RETRIES" envDefault:"2"`
	ReflowMessages    bool          `env:"REFLOW_MESSAGES" envDefault:"true"`
	ConfirmLabel      string        `env:"CONFIRM_LABEL" envDefault:"I have read this"`
	DMCopy            bool          `env:"DM_COPY" envDefault:"false"`
	RevokeChannel     bool          `env:"REVOKE_CHANNEL_ACCESS" envDefault:"false"`
	AuditLog          bool          `env:"AUDIT_LOG" envDefault:"true"`
	EventTimeout      time.Duration `env:"EVENT_TIMEOUT" envDefault:"30s"`
	SequenceFlows     bool          `env:"SEQUENCE_FLOWS" envDefault:"true"`
	SequenceDebounce  time.Duration `env:"SEQUENCE_DEBOUNCE" envDefault:"500ms"`
	SequenceSpacing   time.Duration `env:"SEQUENCE_SPACING" envDefault:"1500ms"`
	SequenceWaitLimit time.Duration `env:"SEQUENCE_CONFIRM_TIMEOUT" envDefault:"0s"` // 0 waits forever
}

// HTTPConfig configures the ops/admin HTTP server.
type HTTPConfig struct {
	Enabled           bool          `env:"HTTP_ENABLED" envDefault:"true"`
	Port              string        `env:"PORT" envDefault:"8080"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"20s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"MAX_HEADER_BYTES" envDefault:"1048576"`
	GinMode           string        `env:"GIN_MODE" envDefault:"release"`
	APIBasePath       string        `env:"API_BASE_PATH" envDefault:"/api/v1"`
	SwaggerEnabled    bool          `env:"SWAGGER_ENABLED" envDefault:"false"`
	AdminToken        string        `env:"ADMIN_TOKEN"` // admin API is not mounted when empty
}

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `env:"ENABLE_HSTS" envDefault:"false"`
	HSTSMaxAge time.Duration `env:"HSTS_MAX_AGE" envDefault:"4320h"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"rolegate"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1.0"`
}

// Config holds all configuration values for the application.
type Config struct {
	Discord    DiscordConfig
	Store      StoreConfig
	Onboarding OnboardingConfig
	HTTP       HTTPConfig

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"` // debug|info|warn|error|fatal|panic
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	// Rate limiting (admin API)
	RateRPS   float64 `env:"RATE_RPS" envDefault:"5"`
	RateBurst int     `env:"RATE_BURST" envDefault:"10"`

	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	normalize(&cfg)
	return cfg, validate(cfg)
}

func normalize(cfg *Config) {
	cfg.Discord.Token = strings.TrimSpace(cfg.Discord.Token)

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Store.RedisURL = strings.TrimSpace(cfg.Store.RedisURL)

	cfg.HTTP.GinMode = strings.ToLower(strings.TrimSpace(cfg.HTTP.GinMode))
	switch cfg.HTTP.GinMode {
	case "debug", "release", "test":
	default:
		cfg.HTTP.GinMode = "release"
	}
	cfg.HTTP.APIBasePath = normalizeBasePath(cfg.HTTP.APIBasePath)
	cfg.HTTP.AdminToken = strings.TrimSpace(cfg.HTTP.AdminToken)

	cfg.Onboarding.ConfirmLabel = strings.TrimSpace(cfg.Onboarding.ConfirmLabel)
	cfg.CORS.AllowedOrigins = cleanList(cfg.CORS.AllowedOrigins)
}

func validate(cfg Config) error {
	if !ValidToken(cfg.Discord.Token) {
		return ErrMissingToken
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}

	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(cfg.Store.DBPath) == "" {
			return errors.New("DB_PATH must not be empty when STORE_BACKEND=sqlite")
		}
	case BackendRedis:
		if cfg.Store.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_BACKEND=redis")
		}
	default:
		return errors.New("STORE_BACKEND must be one of: memory, sqlite, redis")
	}

	o := cfg.Onboarding
	if o.CooldownTTL <= 0 {
		return errors.New("COOLDOWN_TTL must be > 0")
	}
	if o.DedupTTL <= 0 {
		return errors.New("DEDUP_TTL must be > 0")
	}
	if o.RoleRemovalDelay < 0 || o.Timeout < 0 || o.SequenceDebounce < 0 || o.SequenceSpacing < 0 || o.SequenceWaitLimit < 0 {
		return errors.New("onboarding delays must be >= 0")
	}
	if o.EventTimeout <= 0 {
		return errors.New("EVENT_TIMEOUT must be > 0")
	}
	if o.RestoreRetries < 0 {
		return errors.New("ROLE_RESTORE_RETRIES must be >= 0")
	}
	if o.ConfirmLabel == "" || len([]rune(o.ConfirmLabel)) > maxLabelLen {
		return fmt.Errorf("CONFIRM_LABEL must be 1..%d characters", maxLabelLen)
	}

	h := cfg.HTTP
	if strings.TrimSpace(h.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if h.ReadTimeout <= 0 || h.ReadHeaderTimeout <= 0 || h.WriteTimeout <= 0 || h.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if h.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}

	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// ValidToken reports whether a bot credential is plausibly well formed:
// present, at least minTokenLen characters, and free of whitespace.
func ValidToken(tok string) bool {
	if len(tok) < minTokenLen {
		return false
	}
	return !strings.ContainsAny(tok, " \t\r\n")
}

func cleanList(in []string) []string {
	var out []string
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
