package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "APP_PORT", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_MemoryBackendDefaults(t *testing.T) {
	c := Config{App: AppConfig{Env: "local", Port: 8080}, Auth: AuthConfig{JWTSecret: "secret"}}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Storage.Backend != BackendMemory || c.Pacing.FailureThreshold != 3 || c.Pacing.MinTick != 30*time.Second {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.Rollup.Timezone != "UTC" || c.RollupLocation() != time.UTC {
		t.Fatalf("expected UTC rollups, got %q", c.Rollup.Timezone)
	}
}

func TestValidate_PostgresRequiresDB(t *testing.T) {
	c := Config{
		App:     AppConfig{Env: "production", Port: 8080},
		Storage: StorageConfig{Backend: BackendPostgres},
		DB:      DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dialer"},
		Auth:    AuthConfig{JWTSecret: "secret", JWTIssuer: "dialer", JWTAudience: "ops"},
	}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := Config{
		App:     AppConfig{Env: "local", Port: 8080},
		Storage: StorageConfig{Backend: BackendPostgres},
		DB:      DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dialer"},
		Auth:    AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_ProductionRejectsMemoryBackend(t *testing.T) {
	c := Config{App: AppConfig{Env: "production", Port: 8080}, Auth: AuthConfig{JWTSecret: "s", JWTIssuer: "i", JWTAudience: "a"}}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "STORAGE_BACKEND") {
		t.Fatalf("expected memory backend refusal, got %v", err)
	}
}

func TestValidate_ExecutorNeedsWebhookSecret(t *testing.T) {
	c := Config{
		App:      AppConfig{Env: "dev", Port: 8080},
		Auth:     AuthConfig{JWTSecret: "secret"},
		Executor: ExecutorConfig{BaseURL: "https://executor.internal"},
	}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "EXECUTOR_WEBHOOK_SECRET") {
		t.Fatalf("expected webhook secret error, got %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	doc := `
failure_threshold: 5
dispositions:
  voicemail: keep
  callback: contacted
rate_cards:
  - id: default
    stt_per_minute_micros: 6000
    telephony:
      - direction: outbound
        rate_per_minute_micros: 14000
        billing_increment_seconds: 60
`
	p, err := ParsePolicy([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.FailureThreshold != 5 || p.Dispositions["voicemail"] != "keep" || len(p.RateCards) != 1 {
		t.Fatalf("unexpected policy %+v", p)
	}
	if p.RateCards[0].Telephony[0].RatePerMinuteMicros != 14000 {
		t.Fatalf("rate card not decoded: %+v", p.RateCards[0])
	}

	if _, err := ParsePolicy([]byte("failure_threshhold: 5\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestValidate_PolicyThresholdUsedWhenEnvUnset(t *testing.T) {
	c := Config{App: AppConfig{Env: "local", Port: 8080}, Auth: AuthConfig{JWTSecret: "secret"}, Policy: Policy{FailureThreshold: 7}}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Pacing.FailureThreshold != 7 {
		t.Fatalf("expected policy threshold, got %d", c.Pacing.FailureThreshold)
	}
}

func TestLoad_ReadsEnvAndPolicyFile(t *testing.T) {
	dir := t.TempDir()
	policy := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policy, []byte("failure_threshold: 4\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("POLICY_FILE", policy)
	t.Setenv("HTTP_CORS_ORIGINS", "https://ops.example.com, http://localhost:5173")
	t.Setenv("PACING_MIN_TICK", "10s")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9090 || c.Pacing.FailureThreshold != 4 || c.Pacing.MinTick != 10*time.Second {
		t.Fatalf("unexpected config %+v", c)
	}
	if len(c.HTTP.CORSOrigins) != 2 || c.HTTP.CORSOrigins[1] != "http://localhost:5173" {
		t.Fatalf("unexpected origins %v", c.HTTP.CORSOrigins)
	}

	t.Setenv("PACING_MIN_TICK", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "PACING_MIN_TICK") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, ".env")
	if err := os.WriteFile(f, []byte("DIALER_TEST_A=file\nDIALER_TEST_B=file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DIALER_TEST_A", "env")
	t.Setenv("DIALER_TEST_B", "")
	os.Unsetenv("DIALER_TEST_B")

	if err := LoadDotEnv(f, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("DIALER_TEST_A") != "env" || os.Getenv("DIALER_TEST_B") != "file" {
		t.Fatalf("unexpected env A=%q B=%q", os.Getenv("DIALER_TEST_A"), os.Getenv("DIALER_TEST_B"))
	}
}
