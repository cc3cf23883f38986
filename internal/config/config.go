package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Flowline engine service.
type Config struct {
	Port        int
	Version     string
	Environment string // "production" suppresses failure details

	Telemetry TelemetryConfig
	Engine    EngineConfig
	RateLimit RateLimitConfig
	OpenAI    OpenAIConfig
	Postgres  PostgresConfig
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type EngineConfig struct {
	// IncludeErrorDetails copies raw fault text onto failures. Defaults
	// to on outside production, off in production.
	IncludeErrorDetails bool

	// IntentThreshold is the keyword confidence below which the LLM tier
	// is consulted.
	IntentThreshold float64

	// ContextCacheTTL bounds how long a loaded section catalog is reused.
	ContextCacheTTL time.Duration
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type PostgresConfig struct {
	// URL, when set, switches the context loader from the in-memory
	// catalog to PostgreSQL.
	URL string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	env := envStr("FLOWLINE_ENV", "development")
	return &Config{
		Port:        envInt("FLOWLINE_PORT", 8080),
		Version:     envStr("FLOWLINE_VERSION", "0.1.0"),
		Environment: env,
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "flowline-engine"),
		},
		Engine: EngineConfig{
			IncludeErrorDetails: envBool("FLOWLINE_INCLUDE_ERROR_DETAILS", env != "production"),
			IntentThreshold:     envFloat("FLOWLINE_INTENT_THRESHOLD", 0.5),
			ContextCacheTTL:     envDuration("FLOWLINE_CONTEXT_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Limit:  envInt("FLOWLINE_RATE_LIMIT", 60),
			Window: envDuration("FLOWLINE_RATE_WINDOW", time.Minute),
		},
		OpenAI: OpenAIConfig{
			APIKey: envStr("OPENAI_API_KEY", ""),
			Model:  envStr("FLOWLINE_OPENAI_MODEL", ""),
		},
		Postgres: PostgresConfig{
			URL: envStr("FLOWLINE_POSTGRES_URL", ""),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
