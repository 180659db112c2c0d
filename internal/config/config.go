// Package config provides client configuration loaded from environment
// variables (optionally seeded from .env files) with defaults and validation.
// It centralizes the backend endpoints, polling cadences, realtime reconnect
// policy, the local view API listener, logging, and observability settings.
package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the local view API.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "pedidosd")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// BackendConfig describes the remote order/chat backend this client talks to.
type BackendConfig struct {
	APIURL         string        // REST base, e.g. http://192.168.1.119:3000
	SocketURL      string        // realtime endpoint, e.g. ws://192.168.1.119:3000/ws
	RequestTimeout time.Duration // per REST call
	OutboundRPS    float64       // client-side request budget (0 = unlimited)
	OutboundBurst  int
	MaxUploadBytes int64
}

// RealtimeConfig controls the socket keepalive and reconnect policy.
type RealtimeConfig struct {
	ReconnectMaxTries    uint
	ReconnectMaxInterval time.Duration
	PongWait             time.Duration
}

// PollingConfig holds the fixed cadences of the notification loops.
type PollingConfig struct {
	BadgeInterval     time.Duration // shared unread-badge poller
	ReconcileInterval time.Duration // per-room presence reconciliation
}

// Config holds all configuration values for the client daemon.
type Config struct {
	// Local view API
	ListenAddr string
	GinMode    string // debug|release|test
	RateRPS    float64
	RateBurst  int
	CORS       CORSConfig

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// Client state
	StateDBPath   string
	ToastDuration time.Duration

	Backend  BackendConfig
	Realtime RealtimeConfig
	Polling  PollingConfig

	// Observability
	OTEL OTELConfig
}

// LoadEnvFiles seeds the process environment from the given .env files.
// Missing files are skipped; variables already present in the environment win.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}
	return nil
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
	maxTries := getint("RECONNECT_MAX_TRIES", 10)
	if maxTries < 0 {
		return Config{}, errors.New("RECONNECT_MAX_TRIES must be >= 0")
	}

	cfg := Config{
		ListenAddr: getenv("LISTEN_ADDR", "127.0.0.1:8090"),
		GinMode:    strings.ToLower(getenv("GIN_MODE", "release")),
		RateRPS:    getfloat("RATE_RPS", 20.0),
		RateBurst:  getint("RATE_BURST", 40),
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		StateDBPath:   getenv("STATE_DB_PATH", "pedidos-client.db"),
		ToastDuration: getdur("TOAST_DURATION", 3*time.Second),

		Backend: BackendConfig{
			APIURL:         strings.TrimRight(getenv("API_URL", "http://localhost:3000"), "/"),
			SocketURL:      getenv("SOCKET_URL", ""),
			RequestTimeout: getdur("REQUEST_TIMEOUT", 15*time.Second),
			OutboundRPS:    getfloat("OUTBOUND_RPS", 10.0),
			OutboundBurst:  getint("OUTBOUND_BURST", 20),
			MaxUploadBytes: int64(getint("MAX_UPLOAD_BYTES", 25<<20)),
		},
		Realtime: RealtimeConfig{
			ReconnectMaxTries:    uint(maxTries),
			ReconnectMaxInterval: getdur("RECONNECT_MAX_INTERVAL", 30*time.Second),
			PongWait:             getdur("SOCKET_PONG_WAIT", 60*time.Second),
		},
		Polling: PollingConfig{
			BadgeInterval:     getdur("BADGE_POLL_INTERVAL", 3*time.Second),
			ReconcileInterval: getdur("RECONCILE_INTERVAL", 2*time.Second),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "pedidosd"),
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
	if cfg.Backend.SocketURL == "" {
		cfg.Backend.SocketURL = deriveSocketURL(cfg.Backend.APIURL)
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return cfg, errors.New("LISTEN_ADDR must not be empty")
	}
	if u, err := url.Parse(cfg.Backend.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return cfg, errors.New("API_URL must be an absolute http(s) URL")
	}
	if u, err := url.Parse(cfg.Backend.SocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return cfg, errors.New("SOCKET_URL must be a ws:// or wss:// URL")
	}
	if cfg.Backend.RequestTimeout <= 0 {
		return cfg, errors.New("REQUEST_TIMEOUT must be a positive duration")
	}
	if cfg.Backend.OutboundRPS < 0 {
		return cfg, errors.New("OUTBOUND_RPS must be >= 0")
	}
	if cfg.Backend.OutboundBurst < 1 {
		return cfg, errors.New("OUTBOUND_BURST must be >= 1")
	}
	if cfg.Backend.MaxUploadBytes <= 0 {
		return cfg, errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.Polling.BadgeInterval <= 0 || cfg.Polling.ReconcileInterval <= 0 {
		return cfg, errors.New("poll intervals must be positive durations")
	}
	if cfg.Realtime.ReconnectMaxInterval <= 0 || cfg.Realtime.PongWait <= 0 {
		return cfg, errors.New("realtime timings must be positive durations")
	}
	if strings.TrimSpace(cfg.StateDBPath) == "" {
		return cfg, errors.New("STATE_DB_PATH must not be empty")
	}
	if cfg.ToastDuration <= 0 {
		return cfg, errors.New("TOAST_DURATION must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// deriveSocketURL maps http(s)://host[:port] to ws(s)://host[:port]/ws.
func deriveSocketURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String()
}

// ---- helpers ----

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
