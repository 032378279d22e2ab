package config

import (
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testToken = "MTIzNDU2Nzg5MDEyMzQ1Njc4.Gabcde.xyz"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "  "+testToken+"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Discord.Token != testToken {
		t.Fatalf("token not trimmed: %q", cfg.Discord.Token)
	}
	if cfg.Store.Backend != BackendMemory || cfg.Store.DBPath != "rolegate.db" {
		t.Fatalf("store defaults unexpected: %+v", cfg.Store)
	}

	o := cfg.Onboarding
	if o.CooldownTTL != 10*time.Second || o.DedupTTL != 30*time.Second || o.RoleRemovalDelay != 0 || o.Timeout != 0 {
		t.Fatalf("guard/timer defaults unexpected: %+v", o)
	}
	if !o.SequenceFlows || o.SequenceDebounce != 500*time.Millisecond || o.SequenceSpacing != 1500*time.Millisecond || o.SequenceWaitLimit != 0 {
		t.Fatalf("sequencer defaults unexpected: %+v", o)
	}
	if !o.ReflowMessages || o.ConfirmLabel != "I have read this" || o.DMCopy || o.RevokeChannel || !o.AuditLog {
		t.Fatalf("message defaults unexpected: %+v", o)
	}
	if o.EventTimeout != 30*time.Second || o.RestoreRetries != 2 {
		t.Fatalf("event defaults unexpected: %+v", o)
	}

	if !cfg.HTTP.Enabled || cfg.HTTP.Port != "8080" || cfg.HTTP.GinMode != "release" || cfg.HTTP.AdminToken != "" || cfg.HTTP.APIBasePath != "/api/v1" {
		t.Fatalf("http defaults unexpected: %+v", cfg.HTTP)
	}
	if cfg.LogLevel != "info" || cfg.RateRPS != 5 || cfg.RateBurst != 10 {
		t.Fatalf("misc defaults unexpected: %+v", cfg)
	}
	if cfg.Security.HSTSMaxAge != 180*24*time.Hour {
		t.Fatalf("hsts default unexpected: %v", cfg.Security.HSTSMaxAge)
	}
	if cfg.OTEL.Enabled || cfg.OTEL.ServiceName != "rolegate" || cfg.OTEL.SampleRatio != 1.0 {
		t.Fatalf("otel defaults unexpected: %+v", cfg.OTEL)
	}
}

// --- overrides + normalization ---

func TestLoad_OverridesAndNormalization(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", testToken)
	t.Setenv("STORE_BACKEND", " Redis ")
	t.Setenv("REDIS_URL", "rediss://cache:6380")
	t.Setenv("REDIS_NAMESPACE", "rg")
	t.Setenv("COOLDOWN_TTL", "5s")
	t.Setenv("ROLE_REMOVAL_DELAY", "2s")
	t.Setenv("ONBOARDING_TIMEOUT", "24h")
	t.Setenv("SEQUENCE_FLOWS", "false")
	t.Setenv("SEQUENCE_CONFIRM_TIMEOUT", "10m")
	t.Setenv("CONFIRM_LABEL", "  Got it  ")
	t.Setenv("DM_COPY", "1")
	t.Setenv("REVOKE_CHANNEL_ACCESS", "true")
	t.Setenv("GIN_MODE", "weird")     // normalizes to "release"
	t.Setenv("LOG_LEVEL", "WARNING")  // normalizes to "warn"
	t.Setenv("API_BASE_PATH", "api/") // -> "/api"
	t.Setenv("ADMIN_TOKEN", " s3cret ")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.Backend != BackendRedis || cfg.Store.RedisURL != "rediss://cache:6380" || cfg.Store.RedisNamespace != "rg" {
		t.Fatalf("store unexpected: %+v", cfg.Store)
	}
	o := cfg.Onboarding
	if o.CooldownTTL != 5*time.Second || o.RoleRemovalDelay != 2*time.Second || o.Timeout != 24*time.Hour {
		t.Fatalf("timers unexpected: %+v", o)
	}
	if o.SequenceFlows || o.SequenceWaitLimit != 10*time.Minute {
		t.Fatalf("sequencer unexpected: %+v", o)
	}
	if o.ConfirmLabel != "Got it" || !o.DMCopy || !o.RevokeChannel {
		t.Fatalf("message options unexpected: %+v", o)
	}
	if cfg.HTTP.GinMode != "release" || cfg.LogLevel != "warn" || cfg.HTTP.APIBasePath != "/api" || cfg.HTTP.AdminToken != "s3cret" {
		t.Fatalf("normalization unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Insecure || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- token validation ---

func TestLoad_TokenValidation(t *testing.T) {
	cases := map[string]string{
		"missing":    "",
		"blank":      "    ",
		"too short":  "abc123",
		"whitespace": "abcdef ghijklmnop",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DISCORD_TOKEN", tok)
			if _, err := Load(); !errors.Is(err, ErrMissingToken) {
				t.Fatalf("expected ErrMissingToken, got %v", err)
			}
		})
	}
}

// --- validations (each case triggers exactly one error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, key, val, want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"unknown backend", "STORE_BACKEND", "etcd", "STORE_BACKEND"},
		{"redis without url", "STORE_BACKEND", "redis", "REDIS_URL"},
		{"zero cooldown", "COOLDOWN_TTL", "0s", "COOLDOWN_TTL"},
		{"zero dedup", "DEDUP_TTL", "0s", "DEDUP_TTL"},
		{"negative delay", "ROLE_REMOVAL_DELAY", "-1s", "delays"},
		{"negative wait", "SEQUENCE_CONFIRM_TIMEOUT", "-1s", "delays"},
		{"zero event timeout", "EVENT_TIMEOUT", "0s", "EVENT_TIMEOUT"},
		{"negative retries", "ROLE_RESTORE_RETRIES", "-1", "ROLE_RESTORE_RETRIES"},
		{"label too long", "CONFIRM_LABEL", strings.Repeat("x", 81), "CONFIRM_LABEL"},
		{"empty PORT via spaces", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"max header bytes", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"rate rps negative", "RATE_RPS", "-1", "RATE_RPS"},
		{"rate burst < 1", "RATE_BURST", "0", "RATE_BURST"},
		{"hsts max age negative", "HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"otel ratio", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
		{"unparsable duration", "DEDUP_TTL", "soon", "parse env"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DISCORD_TOKEN", testToken)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); !containsErr(err, tc.want) {
				t.Fatalf("expected error containing %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoad_SQLiteRequiresPath(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", testToken)
	t.Setenv("STORE_BACKEND", "sqlite")
	if _, err := Load(); err != nil {
		t.Fatalf("sqlite with default DB_PATH should load: %v", err)
	}
}

// --- helpers ---

func TestHelpers_cleanList_and_normalizeBasePath(t *testing.T) {
	if out := cleanList(nil); out != nil {
		t.Fatalf("cleanList(nil) should return nil")
	}
	if got := cleanList([]string{" a", " ", "b ", "  c  ", ""}); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("cleanList mismatch: %#v", got)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

func TestValidToken(t *testing.T) {
	if !ValidToken(testToken) {
		t.Fatalf("expected token to be valid")
	}
	if ValidToken("short") || ValidToken("has a space in it") {
		t.Fatalf("expected invalid tokens to be rejected")
	}
}

// Ensure tests don't inherit a real credential or store from the shell.
func TestMain(m *testing.M) {
	for _, k := range []string{"DISCORD_TOKEN", "STORE_BACKEND", "REDIS_URL", "PORT", "ADMIN_TOKEN"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
