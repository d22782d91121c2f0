package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Prefix is the environment variable prefix, e.g. CAPTAINSLOG_SYNC_API_URL.
const Prefix = "CAPTAINSLOG_SYNC"

// Config holds the configuration for the offline sync engine and its tools.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Remote API
	APIURL      string        `envconfig:"API_URL" default:"http://localhost:3000/api"`
	CSRFPath    string        `envconfig:"CSRF_PATH" default:"/auth/csrf-token"`
	HealthPath  string        `envconfig:"HEALTH_PATH" default:"/health"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`

	// Local state. DBPath is derived from DataDir when empty.
	DataDir string `envconfig:"DATA_DIR" default:""`
	DBPath  string `envconfig:"DB_PATH" default:""`

	// Retry / scheduling
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"5"`
	SettleDelay    time.Duration `envconfig:"SETTLE_DELAY" default:"2s"`
	ProbeInterval  time.Duration `envconfig:"PROBE_INTERVAL" default:"15s"`
	BackoffInitial time.Duration `envconfig:"BACKOFF_INITIAL" default:"1s"`
	BackoffMax     time.Duration `envconfig:"BACKOFF_MAX" default:"5m"`
	BackoffJitter  float64       `envconfig:"BACKOFF_JITTER" default:"0.2"`

	// Retention of resolved conflicts and dead-lettered mutations
	ConflictRetention   time.Duration `envconfig:"CONFLICT_RETENTION" default:"720h"`
	DeadLetterRetention time.Duration `envconfig:"DEAD_LETTER_RETENTION" default:"720h"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:""`
}

// ResolveDefaults validates the configuration and derives DBPath when unset.
// dataDir is used when DataDir is empty.
func (c *Config) ResolveDefaults(dataDir func() (string, error)) error {
	switch c.Environment {
	case EnvDevelopment, EnvTesting, EnvProduction:
	default:
		return fmt.Errorf("unsupported ENVIRONMENT: %s", c.Environment)
	}

	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API_URL: %q", c.APIURL)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("MAX_RETRIES must be > 0, got %d", c.MaxRetries)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be > 0")
	}
	if c.BackoffJitter < 0 || c.BackoffJitter >= 1 {
		return fmt.Errorf("BACKOFF_JITTER must be in [0,1), got %v", c.BackoffJitter)
	}
	if c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("BACKOFF_MAX (%s) must be >= BACKOFF_INITIAL (%s)", c.BackoffMax, c.BackoffInitial)
	}

	if c.DBPath == "" {
		dir := c.DataDir
		if dir == "" {
			if dataDir == nil {
				return fmt.Errorf("DATA_DIR or DB_PATH must be set")
			}
			if dir, err = dataDir(); err != nil {
				return fmt.Errorf("resolve data dir: %w", err)
			}
			c.DataDir = dir
		}
		c.DBPath = filepath.Join(dir, "offline-sync.db")
	}
	return nil
}

// New creates a new Config by parsing environment variables prefixed with
// CAPTAINSLOG_SYNC_, e.g. CAPTAINSLOG_SYNC_API_URL, CAPTAINSLOG_SYNC_MAX_RETRIES.
func New(dataDir func() (string, error)) (*Config, error) {
	var cfg Config

	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(dataDir); err != nil {
		return nil, err
	}

	log.Debug().
		Str("environment", string(cfg.Environment)).
		Str("api_url", cfg.APIURL).
		Str("db_path", cfg.DBPath).
		Int("max_retries", cfg.MaxRetries).
		Dur("settle_delay", cfg.SettleDelay).
		Dur("probe_interval", cfg.ProbeInterval).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:         EnvTesting,
		APIURL:              "http://localhost:3000/api",
		CSRFPath:            "/auth/csrf-token",
		HealthPath:          "/health",
		HTTPTimeout:         5 * time.Second,
		DBPath:              ":memory:",
		MaxRetries:          5,
		SettleDelay:         10 * time.Millisecond,
		ProbeInterval:       50 * time.Millisecond,
		BackoffInitial:      10 * time.Millisecond,
		BackoffMax:          100 * time.Millisecond,
		BackoffJitter:       0,
		ConflictRetention:   720 * time.Hour,
		DeadLetterRetention: 720 * time.Hour,
		LogLevel:            "debug",
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}
