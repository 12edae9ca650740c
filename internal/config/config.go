// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers the callback server, the
// session manager, the realtime feed, the gateway credentials, the backend
// API and observability.
package config

import (
	"errors"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "auction-settlement")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SessionConfig tunes the payment session manager.
type SessionConfig struct {
	Timeout           time.Duration // SESSION_TIMEOUT
	SweepInterval     time.Duration // SESSION_SWEEP_INTERVAL
	MaxActiveSessions int           // SESSION_MAX_ACTIVE
	MaxActivePerUser  int           // SESSION_MAX_ACTIVE_PER_USER
}

// MessagingConfig tunes realtime message deduplication.
type MessagingConfig struct {
	DedupWindow   time.Duration // MESSAGE_DEDUP_WINDOW
	SweepInterval time.Duration // MESSAGE_SWEEP_INTERVAL
	MaxHistory    int           // MESSAGE_MAX_HISTORY
}

// RealtimeConfig describes the websocket feed. An empty URL disables it.
type RealtimeConfig struct {
	URL                  string        // REALTIME_URL
	UserID               string        // REALTIME_USER_ID
	MaxReconnectAttempts int           // REALTIME_MAX_RECONNECT_ATTEMPTS
	BaseDelay            time.Duration // REALTIME_BASE_DELAY
	MaxDelay             time.Duration // REALTIME_MAX_DELAY
}

// GatewayConfig holds the ZaloPay merchant credentials.
type GatewayConfig struct {
	AppID       string // ZALOPAY_APP_ID
	Key1        string // ZALOPAY_KEY1
	Key2        string // ZALOPAY_KEY2
	CallbackURL string // ZALOPAY_CALLBACK_URL
	RedirectURL string // ZALOPAY_REDIRECT_URL
	Production  bool   // ZALOPAY_PRODUCTION
}

// APIConfig points at the auction backend.
type APIConfig struct {
	BaseURL string        // API_BASE_URL; empty disables checkout
	Token   string        // API_TOKEN
	Timeout time.Duration // API_TIMEOUT
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

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for HTTP routes

	// Storage
	DBPath     string        // SQLite path for the callback ledger
	ReceiptTTL time.Duration // retention of callback receipts

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	Session   SessionConfig
	Messaging MessagingConfig
	Realtime  RealtimeConfig
	Gateway   GatewayConfig
	API       APIConfig

	// Observability
	OTEL OTELConfig
}

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

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath:     getenv("DB_PATH", "settlement.db"),
		ReceiptTTL: getdur("RECEIPT_TTL", 7*24*time.Hour),

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
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Session: SessionConfig{
			Timeout:           getdur("SESSION_TIMEOUT", 15*time.Minute),
			SweepInterval:     getdur("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			MaxActiveSessions: getint("SESSION_MAX_ACTIVE", 100),
			MaxActivePerUser:  getint("SESSION_MAX_ACTIVE_PER_USER", 5),
		},
		Messaging: MessagingConfig{
			DedupWindow:   getdur("MESSAGE_DEDUP_WINDOW", 30*time.Second),
			SweepInterval: getdur("MESSAGE_SWEEP_INTERVAL", time.Minute),
			MaxHistory:    getint("MESSAGE_MAX_HISTORY", 1000),
		},
		Realtime: RealtimeConfig{
			URL:                  getenv("REALTIME_URL", ""),
			UserID:               getenv("REALTIME_USER_ID", ""),
			MaxReconnectAttempts: getint("REALTIME_MAX_RECONNECT_ATTEMPTS", 5),
			BaseDelay:            getdur("REALTIME_BASE_DELAY", time.Second),
			MaxDelay:             getdur("REALTIME_MAX_DELAY", 30*time.Second),
		},
		Gateway: GatewayConfig{
			AppID:       getenv("ZALOPAY_APP_ID", "2553"),
			Key1:        getenv("ZALOPAY_KEY1", ""),
			Key2:        getenv("ZALOPAY_KEY2", ""),
			CallbackURL: getenv("ZALOPAY_CALLBACK_URL", ""),
			RedirectURL: getenv("ZALOPAY_REDIRECT_URL", ""),
			Production:  getbool("ZALOPAY_PRODUCTION", false),
		},
		API: APIConfig{
			BaseURL: strings.TrimRight(getenv("API_BASE_URL", ""), "/"),
			Token:   getenv("API_TOKEN", ""),
			Timeout: getdur("API_TIMEOUT", 15*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "auction-settlement"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.ReceiptTTL <= 0 {
		return cfg, errors.New("RECEIPT_TTL must be > 0")
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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Session.Timeout <= 0 || cfg.Session.SweepInterval <= 0 {
		return cfg, errors.New("SESSION_TIMEOUT and SESSION_SWEEP_INTERVAL must be positive durations")
	}
	if cfg.Session.MaxActiveSessions < 1 || cfg.Session.MaxActivePerUser < 1 {
		return cfg, errors.New("session caps must be >= 1")
	}
	if cfg.Messaging.DedupWindow <= 0 {
		return cfg, errors.New("MESSAGE_DEDUP_WINDOW must be > 0")
	}
	if cfg.Realtime.MaxReconnectAttempts < 0 {
		return cfg, errors.New("REALTIME_MAX_RECONNECT_ATTEMPTS must be >= 0")
	}
	if cfg.Realtime.URL != "" && strings.TrimSpace(cfg.Realtime.UserID) == "" {
		return cfg, errors.New("REALTIME_USER_ID is required when REALTIME_URL is set")
	}
	if strings.TrimSpace(cfg.Gateway.AppID) == "" {
		return cfg, errors.New("ZALOPAY_APP_ID must not be empty")
	}
	if cfg.API.Timeout <= 0 {
		return cfg, errors.New("API_TIMEOUT must be > 0")
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
