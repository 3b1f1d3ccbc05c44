package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port           int    `envconfig:"PORT" default:"5200"`
	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"postgres"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	ServiceToken   string `envconfig:"SERVICE_TOKEN" required:"true"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// deposit mirroring; the worker is off when SyncServiceURL is empty
	SyncServiceURL      string        `envconfig:"SYNC_SERVICE_URL"`
	DepositPollInterval time.Duration `envconfig:"DEPOSIT_POLL_INTERVAL" default:"10s"`

	ProofVerifierURL   string        `envconfig:"PROOF_VERIFIER_URL"`
	SchedulerInterval  time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1m"`
	DefaultRoyaltyBps  uint32        `envconfig:"DEFAULT_ROYALTY_BPS" default:"0"`
	SeedFile           string        `envconfig:"SEED_FILE"`
	BodyLimitMB        int           `envconfig:"BODY_LIMIT_MB" default:"64"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	TracingEnabled     bool          `envconfig:"TRACING_ENABLED"`
	TracingStdout      bool          `envconfig:"TRACING_STDOUT"`
	TracingServiceName string        `envconfig:"TRACING_SERVICE_NAME" default:"competition-protocol"`

	R2AccountID       string `envconfig:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `envconfig:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret string `envconfig:"R2_ACCESS_KEY_SECRET"`
	R2Bucket          string `envconfig:"R2_BUCKET"`
	R2PublicURL       string `envconfig:"R2_PUBLIC_URL"`
	R2Endpoint        string `envconfig:"R2_ENDPOINT"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable not set")
		}
	case "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.DefaultRoyaltyBps > 10_000 {
		return fmt.Errorf("DEFAULT_ROYALTY_BPS must be at most 10000, got %d", c.DefaultRoyaltyBps)
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	return nil
}

// Origins returns ALLOWED_ORIGINS with whitespace trimmed, joined the way fiber's CORS wants it.
func (c *Config) Origins() string {
	parts := strings.Split(c.AllowedOrigins, ",")
	out := parts[:0]
	for _, origin := range parts {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return strings.Join(out, ",")
}

func (c *Config) ContentStoreEnabled() bool {
	return c.R2Bucket != "" && c.R2AccessKeyID != ""
}
