package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
)

// State backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Image analyzer modes.
const (
	AnalyzerNone     = "none"
	AnalyzerStub     = "stub"
	AnalyzerExternal = "external"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ServiceName       string
	AdminToken        string
	TrustProxyHeaders bool
	DebugTrace        bool
	// How often log sampling counts are reported; 0 disables the report
	SamplingStatsInterval time.Duration
	// State backend for rate limit entries and challenge sessions
	StateBackend    string
	RedisAddr       string
	CleanupInterval time.Duration
	// Challenges and pass tokens
	TokenSecret              string
	PassTokenTTL             time.Duration
	ChallengeTTL             time.Duration
	ChallengeRequiredActions []string
	ResetOnSuccessActions    []string
	RateLimitOverrides       string
	// Image analysis
	ImageAnalyzer         string
	ImageAnalyzerURL      string
	ImageAnalyzerTimeout  time.Duration
	ImageAnalyzerCacheTTL time.Duration
	BreakerMaxFailures    int
	BreakerOpenTimeout    time.Duration
	// Review queue
	ReviewQueueEnabled  bool
	ReviewQueueCapacity int
	PostgresDSN         string
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// Decision analytics
	AnalyticsEnabled bool
	ClickHouseDSN    string
	GeoIPDB          string
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "gatekeeper")
	cfg.AdminToken = getenv("ADMIN_TOKEN", "")
	cfg.TrustProxyHeaders = envBool("TRUST_PROXY_HEADERS", false)
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)
	cfg.SamplingStatsInterval = envDuration("SAMPLING_STATS_INTERVAL", 10*time.Minute)

	cfg.StateBackend = strings.ToLower(getenv("STATE_BACKEND", BackendMemory))
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.CleanupInterval = envDuration("CLEANUP_INTERVAL", 5*time.Minute)

	cfg.TokenSecret = getenv("TOKEN_SECRET", "")
	cfg.PassTokenTTL = envDuration("PASS_TOKEN_TTL", 5*time.Minute)
	cfg.ChallengeTTL = envDuration("CHALLENGE_TTL", 10*time.Minute)
	cfg.ChallengeRequiredActions = envList("CHALLENGE_REQUIRED_ACTIONS",
		[]string{ratelimit.ActionEventCreation, ratelimit.ActionOrganizerVerification})
	cfg.ResetOnSuccessActions = envList("RESET_ON_SUCCESS_ACTIONS", []string{ratelimit.ActionLoginAttempts})
	cfg.RateLimitOverrides = getenv("RATE_LIMIT_OVERRIDES", "")

	cfg.ImageAnalyzer = strings.ToLower(getenv("IMAGE_ANALYZER", AnalyzerNone))
	cfg.ImageAnalyzerURL = getenv("IMAGE_ANALYZER_URL", "http://localhost:8000")
	cfg.ImageAnalyzerTimeout = envDuration("IMAGE_ANALYZER_TIMEOUT", 2*time.Second)
	cfg.ImageAnalyzerCacheTTL = envDuration("IMAGE_ANALYZER_CACHE_TTL", 10*time.Minute)
	cfg.BreakerMaxFailures = envInt("IMAGE_ANALYZER_BREAKER_FAILURES", 5)
	cfg.BreakerOpenTimeout = envDuration("IMAGE_ANALYZER_BREAKER_TIMEOUT", 30*time.Second)

	cfg.ReviewQueueEnabled = envBool("REVIEW_QUEUE_ENABLED", false)
	cfg.ReviewQueueCapacity = envInt("REVIEW_QUEUE_CAPACITY", 1000)
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")

	// Database connection pooling configuration
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.AnalyticsEnabled = envBool("ANALYTICS_ENABLED", false)
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.GeoIPDB = getenv("GEOIP_DB", "")

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0) // Default to 100% sampling for dev

	return cfg
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch c.StateBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("STATE_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, c.StateBackend)
	}
	switch c.ImageAnalyzer {
	case AnalyzerNone, AnalyzerStub, AnalyzerExternal:
	default:
		return fmt.Errorf("IMAGE_ANALYZER must be one of none, stub, external, got %q", c.ImageAnalyzer)
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}
	return nil
}

// RateLimitConfigs returns the built-in action table with the overrides
// from RATE_LIMIT_OVERRIDES applied.
func (c Config) RateLimitConfigs() (map[string]ratelimit.Config, error) {
	configs := ratelimit.DefaultConfigs()
	overrides, err := ParseRateLimitOverrides(c.RateLimitOverrides)
	if err != nil {
		return nil, err
	}
	for action, oc := range overrides {
		configs[action] = oc
	}
	return configs, nil
}

// ParseRateLimitOverrides parses "action=max/window/block/progressive"
// entries separated by semicolons, e.g.
// "comment_posting=20/1m/10m/true;file_upload=5/1h/1h/false".
// New action names are allowed.
func ParseRateLimitOverrides(s string) (map[string]ratelimit.Config, error) {
	out := make(map[string]ratelimit.Config)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		action, limits, ok := strings.Cut(part, "=")
		action = strings.TrimSpace(action)
		if !ok || action == "" {
			return nil, fmt.Errorf("rate limit override %q: expected action=max/window/block/progressive", part)
		}
		fields := strings.Split(limits, "/")
		if len(fields) != 4 {
			return nil, fmt.Errorf("rate limit override %q: expected 4 fields, got %d", action, len(fields))
		}
		maxAttempts, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("rate limit override %q: max attempts: %w", action, err)
		}
		window, err := time.ParseDuration(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("rate limit override %q: window: %w", action, err)
		}
		block, err := time.ParseDuration(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("rate limit override %q: block duration: %w", action, err)
		}
		progressive, err := strconv.ParseBool(strings.TrimSpace(fields[3]))
		if err != nil {
			return nil, fmt.Errorf("rate limit override %q: progressive: %w", action, err)
		}
		cfg := ratelimit.Config{MaxAttempts: maxAttempts, Window: window, BlockDuration: block, ProgressiveDelay: progressive}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("rate limit override %q: %w", action, err)
		}
		out[action] = cfg
	}
	return out, nil
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

// envList parses a comma separated list. Blank items are dropped; the value
// "none" yields an empty list. When unset, def is returned.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if strings.EqualFold(strings.TrimSpace(v), "none") {
		return []string{}
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
