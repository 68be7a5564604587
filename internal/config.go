package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Apply the embedded schema on startup. Off by default because the
	// identity provider usually owns the database.
	RunMigrations bool

	// Redis backs the subscription cache and the API rate limiter.
	// Empty disables both in favour of direct reads and a local limiter.
	RedisURL string

	// Identity provider (Supabase). Missing URL or anon key leaves the
	// route guard in fail-open mode rather than failing startup.
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string // enables local HS256 verification
	SessionCookieName string
	IdentityTimeout   time.Duration

	// Usage ledger
	UsageLookupTimeout time.Duration
	UsageWriteTimeout  time.Duration
	UsageLocation      *time.Location
	SubscriptionTTL    time.Duration

	// API rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Pages outside /api are proxied here.
	FrontendURL string

	// Stripe Billing Configuration
	// Without a webhook secret the webhook endpoint acknowledges and ignores
	// events. The secret key is only needed to enrich checkout events.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs per tier, comma separated (monthly and yearly).
	StripeStarterPriceIDs      []string
	StripeProfessionalPriceIDs []string
	StripeEnterprisePriceIDs   []string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string

	// OpenTelemetry tracing
	OtelEnabled    bool
	OtelEndpoint   string
	OtelInsecure   bool
	OtelSampleRate float64
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:           getEnv("ENV", "development"),
		Port:          getEnvInt("PORT", 8080),
		LogLevel:      getEnv("LOG_LEVEL", "debug"),
		RunMigrations: getEnvBool("RUN_MIGRATIONS", false),
		RedisURL:      getEnv("REDIS_URL", ""),

		SupabaseURL:       strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseAnonKey:   getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseJWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),
		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "sb-access-token"),
		IdentityTimeout:   getEnvDuration("IDENTITY_TIMEOUT", 5*time.Second),

		UsageLookupTimeout: getEnvDuration("USAGE_LOOKUP_TIMEOUT", 5*time.Second),
		UsageWriteTimeout:  getEnvDuration("USAGE_WRITE_TIMEOUT", 10*time.Second),
		SubscriptionTTL:    getEnvDuration("SUBSCRIPTION_CACHE_TTL", 5*time.Minute),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		FrontendURL: getEnv("FRONTEND_URL", ""),

		StripeSecretKey:            getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:        getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeStarterPriceIDs:      getEnvList("STRIPE_STARTER_PRICE_IDS"),
		StripeProfessionalPriceIDs: getEnvList("STRIPE_PROFESSIONAL_PRICE_IDS"),
		StripeEnterprisePriceIDs:   getEnvList("STRIPE_ENTERPRISE_PRICE_IDS"),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),

		OtelEnabled:    getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OtelInsecure:   getEnvBool("OTEL_INSECURE", true),
		OtelSampleRate: getEnvFloat("OTEL_SAMPLE_RATE", 1.0),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	loc, err := time.LoadLocation(getEnv("USAGE_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("USAGE_TIMEZONE is not a valid IANA zone: %w", err)
	}
	cfg.UsageLocation = loc

	if cfg.RateLimitRequests < 1 {
		return nil, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got: %d", cfg.RateLimitRequests)
	}
	if cfg.OtelSampleRate < 0 || cfg.OtelSampleRate > 1 {
		return nil, fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got: %g", cfg.OtelSampleRate)
	}

	return cfg, nil
}

// IdentityConfigured reports whether sessions can be resolved at all.
func (c *Config) IdentityConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// IsProduction reports whether the service runs behind TLS.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
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

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
