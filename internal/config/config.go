// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database selection, outbound email,
// the delivery worker, rate limiting, and observability.
package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-newsletter-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the store.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite)
	URL    string // DATABASE_URL (postgres)
}

// EmailConfig configures the outbound email transport.
type EmailConfig struct {
	Transport  string        // EMAIL_TRANSPORT: smtp|api|log
	Sender     string        // EMAIL_SENDER, bare address
	SenderName string        // EMAIL_SENDER_NAME
	Timeout    time.Duration // EMAIL_TIMEOUT

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPStartTLS bool

	APIBaseURL string // EMAIL_API_BASE_URL
	APIToken   string // EMAIL_API_TOKEN
}

// WorkerConfig configures the issue delivery worker.
type WorkerConfig struct {
	Enabled         bool // run the worker inside the API process
	Concurrency     int
	PollInterval    time.Duration
	MaxAttempts     int
	SendTimeout     time.Duration
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	// ClaimMode is "" (lease on sqlite, row locks on postgres), "lock" or "lease".
	ClaimMode string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DB         DBConfig
	AppBaseURL string // public base URL used in confirmation links
	Email      EmailConfig
	Worker     WorkerConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyKeyMaxLen       int // fixed by the domain; only lower values are honoured
	IdempotencyMaxWaitAttempts int // placeholder re-reads before giving up

	// Observability
	OTEL OTELConfig
}

// domainKeyMaxLen mirrors domain.MaxIdempotencyKeyLen; config stays free of
// internal imports.
const domainKeyMaxLen = 50

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "app.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		AppBaseURL: strings.TrimRight(getenv("APP_BASE_URL", "http://localhost:8080"), "/"),
		Email: EmailConfig{
			Transport:    strings.ToLower(getenv("EMAIL_TRANSPORT", "log")),
			Sender:       getenv("EMAIL_SENDER", "newsletter@example.com"),
			SenderName:   getenv("EMAIL_SENDER_NAME", ""),
			Timeout:      getdur("EMAIL_TIMEOUT", 10*time.Second),
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getint("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPStartTLS: getbool("SMTP_STARTTLS", true),
			APIBaseURL:   getenv("EMAIL_API_BASE_URL", ""),
			APIToken:     getenv("EMAIL_API_TOKEN", ""),
		},
		Worker: WorkerConfig{
			Enabled:         getbool("WORKER_ENABLED", true),
			Concurrency:     getint("WORKER_CONCURRENCY", 1),
			PollInterval:    getdur("WORKER_POLL_INTERVAL", 50*time.Millisecond),
			MaxAttempts:     getint("WORKER_MAX_ATTEMPTS", 3),
			SendTimeout:     getdur("WORKER_SEND_TIMEOUT", 10*time.Second),
			RetryBackoff:    getdur("WORKER_RETRY_BACKOFF", time.Second),
			MaxRetryBackoff: getdur("WORKER_MAX_RETRY_BACKOFF", 5*time.Minute),
			ClaimMode:       strings.ToLower(getenv("WORKER_CLAIM_MODE", "")),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyKeyMaxLen:       getint("IDEMPOTENCY_KEY_MAX_LEN", domainKeyMaxLen),
		IdempotencyMaxWaitAttempts: getint("IDEMPOTENCY_MAX_WAIT_ATTEMPTS", 5),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-newsletter-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.Worker.ClaimMode == "auto" {
		cfg.Worker.ClaimMode = ""
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if u, err := url.Parse(cfg.AppBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return cfg, errors.New("APP_BASE_URL must be an absolute URL")
	}
	switch cfg.Email.Transport {
	case "log":
	case "smtp":
		if strings.TrimSpace(cfg.Email.SMTPHost) == "" {
			return cfg, errors.New("SMTP_HOST must be set when EMAIL_TRANSPORT=smtp")
		}
		if cfg.Email.SMTPPort <= 0 || cfg.Email.SMTPPort > 65535 {
			return cfg, errors.New("SMTP_PORT must be in 1..65535")
		}
	case "api":
		if strings.TrimSpace(cfg.Email.APIBaseURL) == "" {
			return cfg, errors.New("EMAIL_API_BASE_URL must be set when EMAIL_TRANSPORT=api")
		}
	default:
		return cfg, errors.New("EMAIL_TRANSPORT must be one of: smtp, api, log")
	}
	if strings.TrimSpace(cfg.Email.Sender) == "" {
		return cfg, errors.New("EMAIL_SENDER must not be empty")
	}
	if cfg.Email.Timeout <= 0 {
		return cfg, errors.New("EMAIL_TIMEOUT must be > 0")
	}
	if cfg.Worker.Concurrency < 1 {
		return cfg, errors.New("WORKER_CONCURRENCY must be >= 1")
	}
	if cfg.Worker.MaxAttempts < 1 {
		return cfg, errors.New("WORKER_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Worker.PollInterval <= 0 || cfg.Worker.SendTimeout <= 0 || cfg.Worker.RetryBackoff <= 0 {
		return cfg, errors.New("worker durations must be positive")
	}
	if cfg.Worker.MaxRetryBackoff < cfg.Worker.RetryBackoff {
		return cfg, errors.New("WORKER_MAX_RETRY_BACKOFF must be >= WORKER_RETRY_BACKOFF")
	}
	switch cfg.Worker.ClaimMode {
	case "", "lock", "lease":
	default:
		return cfg, errors.New("WORKER_CLAIM_MODE must be one of: auto, lock, lease")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyKeyMaxLen < 1 || cfg.IdempotencyKeyMaxLen > domainKeyMaxLen {
		return cfg, errors.New("IDEMPOTENCY_KEY_MAX_LEN must be in 1..50")
	}
	if cfg.IdempotencyMaxWaitAttempts < 1 {
		return cfg, errors.New("IDEMPOTENCY_MAX_WAIT_ATTEMPTS must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
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
