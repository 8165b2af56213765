package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"campaign-dialer/internal/pricing"
)

// Config holds all configuration required by the dialer processes.
// All values come from env (optionally pre-loaded from a .env file) plus the
// YAML policy file named by POLICY_FILE.
type Config struct {
	App      AppConfig
	Storage  StorageConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Executor ExecutorConfig
	Pacing   PacingConfig
	Rollup   RollupConfig
	HTTP     HTTPConfig
	Policy   Policy
}

type AppConfig struct {
	Env  string
	Port int
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type StorageConfig struct {
	Backend string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. When Host is set the slot gate and rate window are
// shared through Redis.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type ExecutorConfig struct {
	BaseURL         string
	APIKey          string
	CallbackBaseURL string
	Timeout         time.Duration
	MaxRetryElapsed time.Duration
	// WebhookSecret authenticates executor callbacks.
	WebhookSecret string
}

type PacingConfig struct {
	MinTick          time.Duration
	FailureThreshold int
	SlotTTL          time.Duration
	StartTimeout     time.Duration
}

type RollupConfig struct {
	Timezone string
	// RebuildCron is a standard 5-field cron spec; empty disables the job.
	RebuildCron string
}

type HTTPConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// Policy is the operator-tunable part of the dialing rules.
type Policy struct {
	// Dispositions maps a disposition to "keep" or a lead status.
	Dispositions     map[string]string  `yaml:"dispositions"`
	FailureThreshold int                `yaml:"failure_threshold"`
	RateCards        []pricing.RateCard `yaml:"rate_cards"`
}

// LoadDotEnv loads files into the environment without overriding variables
// that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = optionalInt(parseErrs, "APP_PORT", 8080)

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_BACKEND")))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = optionalInt(parseErrs, "DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = optionalInt(parseErrs, "REDIS_PORT", 6379)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_REFRESH_TTL")

	c.Executor.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("EXECUTOR_BASE_URL")), "/")
	c.Executor.APIKey = os.Getenv("EXECUTOR_API_KEY")
	c.Executor.CallbackBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("EXECUTOR_CALLBACK_BASE_URL")), "/")
	c.Executor.Timeout, parseErrs = optionalDuration(parseErrs, "EXECUTOR_TIMEOUT")
	c.Executor.MaxRetryElapsed, parseErrs = optionalDuration(parseErrs, "EXECUTOR_MAX_RETRY_ELAPSED")
	c.Executor.WebhookSecret = os.Getenv("EXECUTOR_WEBHOOK_SECRET")

	c.Pacing.MinTick, parseErrs = optionalDuration(parseErrs, "PACING_MIN_TICK")
	c.Pacing.FailureThreshold, parseErrs = optionalInt(parseErrs, "PACING_FAILURE_THRESHOLD", 0)
	c.Pacing.SlotTTL, parseErrs = optionalDuration(parseErrs, "PACING_SLOT_TTL")
	c.Pacing.StartTimeout, parseErrs = optionalDuration(parseErrs, "PACING_START_TIMEOUT")

	c.Rollup.Timezone = strings.TrimSpace(os.Getenv("ROLLUP_TIMEZONE"))
	c.Rollup.RebuildCron = strings.TrimSpace(os.Getenv("ROLLUP_REBUILD_CRON"))

	if v := strings.TrimSpace(os.Getenv("HTTP_RATE_LIMIT_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("HTTP_RATE_LIMIT_RPS must be a number, got %q", v))
		}
		c.HTTP.RateLimitRPS = f
	}
	c.HTTP.RateLimitBurst, parseErrs = optionalInt(parseErrs, "HTTP_RATE_LIMIT_BURST", 0)
	c.HTTP.CORSOrigins = splitList(os.Getenv("HTTP_CORS_ORIGINS"))

	if path := strings.TrimSpace(os.Getenv("POLICY_FILE")); path != "" {
		p, err := LoadPolicy(path)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Policy = p
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadPolicy reads the YAML policy file.
func LoadPolicy(path string) (Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("POLICY_FILE: %w", err)
	}
	return ParsePolicy(b)
}

func ParsePolicy(b []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("POLICY_FILE: %w", err)
	}
	if p.FailureThreshold < 0 {
		return Policy{}, fmt.Errorf("POLICY_FILE: failure_threshold must be positive, got %d", p.FailureThreshold)
	}
	return p, nil
}

// Validate checks every group and fills defaults. It reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	switch c.Storage.Backend {
	case BackendMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORAGE_BACKEND=memory is not allowed in production"))
		}
	case BackendPostgres:
		errs = append(errs, c.validateDB()...)
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be memory or postgres, got %q", c.Storage.Backend))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Executor.BaseURL != "" && !hasHTTPScheme(c.Executor.BaseURL) {
		errs = append(errs, fmt.Errorf("EXECUTOR_BASE_URL must be an http(s) URL, got %q", c.Executor.BaseURL))
	}
	if c.Executor.BaseURL != "" && c.Executor.WebhookSecret == "" {
		errs = append(errs, errors.New("EXECUTOR_WEBHOOK_SECRET is required when EXECUTOR_BASE_URL is set"))
	}
	if c.Executor.Timeout <= 0 {
		c.Executor.Timeout = 10 * time.Second
	}
	if c.Executor.MaxRetryElapsed <= 0 {
		c.Executor.MaxRetryElapsed = 20 * time.Second
	}

	if c.Pacing.MinTick <= 0 {
		c.Pacing.MinTick = 30 * time.Second
	}
	if c.Pacing.FailureThreshold <= 0 {
		c.Pacing.FailureThreshold = c.Policy.FailureThreshold
	}
	if c.Pacing.FailureThreshold <= 0 {
		c.Pacing.FailureThreshold = 3
	}
	if c.Pacing.SlotTTL <= 0 {
		c.Pacing.SlotTTL = 2 * time.Hour
	}
	if c.Pacing.StartTimeout <= 0 {
		c.Pacing.StartTimeout = 30 * time.Second
	}

	if c.Rollup.Timezone == "" {
		c.Rollup.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Rollup.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("ROLLUP_TIMEZONE must be an IANA zone, got %q", c.Rollup.Timezone))
	}

	if c.HTTP.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("HTTP_RATE_LIMIT_RPS must not be negative, got %v", c.HTTP.RateLimitRPS))
	}
	if c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst <= 0 {
		c.HTTP.RateLimitBurst = int(c.HTTP.RateLimitRPS) + 1
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RollupLocation is the zone hourly histograms are keyed in.
func (c Config) RollupLocation() *time.Location {
	loc, err := time.LoadLocation(c.Rollup.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func optionalInt(errs []error, key string, def int) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func hasHTTPScheme(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
