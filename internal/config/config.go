package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string
	// Backend-as-a-service endpoint hosting the ad, entitlement and
	// telemetry procedures.
	BackendURL     string
	BackendAPIKey  string
	BackendTimeout time.Duration
	// Secondary ad network queried once when the primary fetch fails.
	FallbackAdURL  string
	FallbackTimeout time.Duration
	// Rotation defaults, overridable per placement by PlacementsFile.
	RotateInterval   time.Duration
	AdLimit          int
	MobileBreakpoint int
	PlacementsFile   string
	// Entitlement lookups
	RedisAddr           string
	EntitlementCacheTTL time.Duration
	PostgresDSN         string
	// Telemetry
	TelemetryQueue   int
	TelemetryTimeout time.Duration
	ClickHouseDSN    string
	KafkaBrokers     []string
	KafkaTopic       string
	GeoIPDB          string
	// Slots idle for longer than this are unmounted by the sweeper.
	SlotIdleTTL time.Duration
	// Per-session click throttle; a zero burst disables it.
	ClickBurst      int
	ClickRefillRate float64
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8790")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "adrotator")

	cfg.BackendURL = getenv("BACKEND_URL", "http://localhost:54321")
	cfg.BackendAPIKey = getenv("BACKEND_API_KEY", "")
	cfg.BackendTimeout = envDuration("BACKEND_TIMEOUT", 3*time.Second)
	cfg.FallbackAdURL = getenv("FALLBACK_AD_URL", "")
	cfg.FallbackTimeout = envDuration("FALLBACK_TIMEOUT", 2*time.Second)

	cfg.RotateInterval = envDuration("ROTATE_INTERVAL", 7000*time.Millisecond)
	cfg.AdLimit = envInt("AD_LIMIT", 5)
	cfg.MobileBreakpoint = envInt("MOBILE_BREAKPOINT", 768)
	cfg.PlacementsFile = getenv("PLACEMENTS_FILE", "")

	cfg.RedisAddr = getenv("REDIS_ADDR", "")
	cfg.EntitlementCacheTTL = envDuration("ENTITLEMENT_CACHE_TTL", 5*time.Minute)
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "")

	cfg.TelemetryQueue = envInt("TELEMETRY_QUEUE", 1024)
	cfg.TelemetryTimeout = envDuration("TELEMETRY_TIMEOUT", 2*time.Second)
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")
	cfg.KafkaBrokers = envList("KAFKA_BROKERS")
	cfg.KafkaTopic = getenv("KAFKA_TOPIC", "ad-events")
	cfg.GeoIPDB = getenv("GEOIP_DB", "")

	cfg.SlotIdleTTL = envDuration("SLOT_IDLE_TTL", 30*time.Minute)
	cfg.ClickBurst = envInt("CLICK_BURST", 10)
	cfg.ClickRefillRate = envFloat("CLICK_REFILL_RATE", 0.5)

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 2)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

// envList splits a comma separated environment variable, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
