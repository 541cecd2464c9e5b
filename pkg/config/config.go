// Package config assembles server configuration from the environment,
// optionally overlaid by a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration. Defaults are production-safe; the
// only settings without a usable default are the database DSN in
// postgres mode and the session secret when sessions are enabled.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseDriver is "postgres" or "sqlite".
	DatabaseDriver string
	DatabaseURL    string

	// RedisAddr empty disables the cache entirely.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// BootstrapAPIKey empty disables the bootstrap credential.
	BootstrapAPIKey string
	SessionSecret   string
	SessionTTL      time.Duration
	KeyEnvironment  string

	// Requests per minute by scope class.
	RateLimitRead  int
	RateLimitWrite int
	RateLimitAdmin int

	MaxSchemaBytes int
	MaxSchemaDepth int

	ImpactDefaultDepth int
	ImpactMaxDepth     int
	ProposalExpiryDays int

	PageSizeDefault int
	PageSizeMax     int

	WebhookURL          string
	WebhookPollInterval time.Duration
	WebhookMaxAttempts  int

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables, falling back to
// defaults.
func Load() *Config {
	return &Config{
		Port:     getenv("TESSERA_PORT", "8080"),
		LogLevel: getenv("TESSERA_LOG_LEVEL", "info"),

		DatabaseDriver: getenv("TESSERA_DB_DRIVER", "postgres"),
		DatabaseURL:    getenv("TESSERA_DB_URL", "postgres://tessera@localhost:5432/tessera?sslmode=disable"),

		RedisAddr:     os.Getenv("TESSERA_REDIS_ADDR"),
		RedisPassword: os.Getenv("TESSERA_REDIS_PASSWORD"),
		RedisDB:       getint("TESSERA_REDIS_DB", 0),

		BootstrapAPIKey: os.Getenv("TESSERA_BOOTSTRAP_KEY"),
		SessionSecret:   os.Getenv("TESSERA_SESSION_SECRET"),
		SessionTTL:      getdur("TESSERA_SESSION_TTL", 12*time.Hour),
		KeyEnvironment:  getenv("TESSERA_KEY_ENV", "prod"),

		RateLimitRead:  getint("TESSERA_RATE_READ", 600),
		RateLimitWrite: getint("TESSERA_RATE_WRITE", 120),
		RateLimitAdmin: getint("TESSERA_RATE_ADMIN", 60),

		MaxSchemaBytes: getint("TESSERA_MAX_SCHEMA_BYTES", 1<<20),
		MaxSchemaDepth: getint("TESSERA_MAX_SCHEMA_DEPTH", 32),

		ImpactDefaultDepth: getint("TESSERA_IMPACT_DEPTH", 5),
		ImpactMaxDepth:     getint("TESSERA_IMPACT_MAX_DEPTH", 10),
		ProposalExpiryDays: getint("TESSERA_PROPOSAL_EXPIRY_DAYS", 30),

		PageSizeDefault: getint("TESSERA_PAGE_SIZE", 50),
		PageSizeMax:     getint("TESSERA_PAGE_SIZE_MAX", 200),

		WebhookURL:          os.Getenv("TESSERA_WEBHOOK_URL"),
		WebhookPollInterval: getdur("TESSERA_WEBHOOK_POLL", 5*time.Second),
		WebhookMaxAttempts:  getint("TESSERA_WEBHOOK_MAX_ATTEMPTS", 5),

		CORSAllowedOrigins: getlist("TESSERA_CORS_ORIGINS", []string{"*"}),
	}
}

// Validate rejects combinations the server cannot run with.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.ImpactDefaultDepth > c.ImpactMaxDepth {
		return fmt.Errorf("impact default depth %d exceeds max %d",
			c.ImpactDefaultDepth, c.ImpactMaxDepth)
	}
	if c.PageSizeDefault > c.PageSizeMax {
		return fmt.Errorf("default page size %d exceeds max %d",
			c.PageSizeDefault, c.PageSizeMax)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getdur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getlist(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
