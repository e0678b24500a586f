package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/chatquota/internal/domain"
	"github.com/DukeRupert/chatquota/internal/session"
	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Guest session correlation secret (HMAC key, at least 32 bytes)
	SessionSecret string

	// HS256 key that signs user access tokens
	AuthJWTSecret string

	// Chat pipeline the metered endpoint forwards to
	ChatUpstreamURL string

	// Ledger Configuration
	// RedisURL enables the cache layer. LedgerLayers lists the layers in
	// the order they are tried.
	RedisURL     string
	LedgerLayers []domain.Layer

	// Quota policy
	TierLimits       domain.TierLimits
	QuotaWindowHours int
	LedgerCleanup    string        // Cron schedule for the expired bucket sweep
	LedgerRetention  time.Duration // How long buckets are kept after their window ends
	WorkerEnabled    bool
	WorkerJobTimeout time.Duration

	// Subscription read cache
	SubscriptionCacheTTL  time.Duration
	SubscriptionCacheSize int

	// Status endpoint polling throttle (per client IP)
	StatusRPS   float64
	StatusBurst int

	// OpenTelemetry spans to stdout
	TracingEnabled bool

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	defaults := domain.DefaultTierLimits()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		RedisURL: getEnv("REDIS_URL", ""),

		TierLimits: domain.TierLimits{
			Guest: getEnvInt("GUEST_DAILY_LIMIT", defaults.Guest),
			Free:  getEnvInt("FREE_DAILY_LIMIT", defaults.Free),
			Pro:   getEnvInt("PRO_DAILY_LIMIT", defaults.Pro),
		},
		QuotaWindowHours: getEnvInt("QUOTA_WINDOW_HOURS", 24),

		// Worker defaults
		LedgerCleanup:    getEnv("LEDGER_CLEANUP_SCHEDULE", "@hourly"),
		LedgerRetention:  getEnvDuration("LEDGER_RETENTION", 48*time.Hour),
		WorkerEnabled:    getEnvBool("WORKER_ENABLED", true),
		WorkerJobTimeout: getEnvDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),

		SubscriptionCacheTTL:  getEnvDuration("SUBSCRIPTION_CACHE_TTL", 30*time.Second),
		SubscriptionCacheSize: getEnvInt("SUBSCRIPTION_CACHE_SIZE", 10000),

		StatusRPS:   getEnvFloat("STATUS_RPS", 2),
		StatusBurst: getEnvInt("STATUS_BURST", 10),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if len(cfg.SessionSecret) < session.MinSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET is required and must be at least %d bytes", session.MinSecretLength)
	}

	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if cfg.AuthJWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	cfg.ChatUpstreamURL = os.Getenv("CHAT_UPSTREAM_URL")
	if cfg.ChatUpstreamURL == "" {
		return nil, fmt.Errorf("CHAT_UPSTREAM_URL is required")
	}

	// Ledger layers default to the cache in front of the database when
	// Redis is configured
	defaultLayers := "database"
	if cfg.RedisURL != "" {
		defaultLayers = "cache,database"
	}
	layers, err := parseLedgerLayers(getEnv("LEDGER_LAYERS", defaultLayers))
	if err != nil {
		return nil, err
	}
	for _, l := range layers {
		if l == domain.LayerCache && cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when LEDGER_LAYERS includes 'cache'")
		}
	}
	cfg.LedgerLayers = layers

	if cfg.QuotaWindowHours < 1 {
		return nil, fmt.Errorf("QUOTA_WINDOW_HOURS must be at least 1, got %d", cfg.QuotaWindowHours)
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// parseLedgerLayers parses a comma-separated list of ledger layer names.
func parseLedgerLayers(value string) ([]domain.Layer, error) {
	var layers []domain.Layer
	seen := make(map[domain.Layer]bool)

	for _, part := range strings.Split(value, ",") {
		name := domain.Layer(strings.TrimSpace(strings.ToLower(part)))
		if name == "" {
			continue
		}
		if name != domain.LayerCache && name != domain.LayerDatabase {
			return nil, fmt.Errorf("LEDGER_LAYERS entries must be 'cache' or 'database', got: %s", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("LEDGER_LAYERS lists %s more than once", name)
		}
		seen[name] = true
		layers = append(layers, name)
	}

	if len(layers) == 0 {
		return nil, fmt.Errorf("LEDGER_LAYERS must name at least one layer")
	}
	return layers, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
