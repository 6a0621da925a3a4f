// Package cfg provides configuration for the testdeck control plane.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds control plane configuration.
type Config struct {
	// Listen is the address to listen on (e.g., ":8080").
	Listen string
	// DBURL is the database URL (SQLite path or Postgres URL).
	DBURL string
	// JWTSigningKey is the key used to sign JWTs.
	JWTSigningKey []byte
	// JWTIssuer is the JWT issuer claim.
	JWTIssuer string
	// AccessTokenTTL is how long access tokens are valid.
	AccessTokenTTL time.Duration
	// RefreshTokenTTL is how long refresh tokens are valid.
	RefreshTokenTTL time.Duration
	// AIProviderURL is the base URL of the external AI enhancement service.
	AIProviderURL string
	// AIProviderToken authenticates calls to the AI provider.
	AIProviderToken string
	// AITimeout bounds a single AI provider call.
	AITimeout time.Duration
	// ExecutorURL is the base URL of the external test execution engine.
	ExecutorURL string
	// ExecutorToken authenticates calls to the executor.
	ExecutorToken string
	// PollInterval is how often the run poller checks the executor.
	PollInterval time.Duration
	// RunDeadline is how long a run may stay non-terminal before it is
	// reaped as failed.
	RunDeadline time.Duration
	// Debug enables debug logging.
	Debug bool
	// Version is the server version string.
	Version string
}

// fileConfig is the YAML shape of an optional config file. Durations are
// strings in time.ParseDuration format.
type fileConfig struct {
	Listen          string `yaml:"listen"`
	DBURL           string `yaml:"db_url"`
	JWTIssuer       string `yaml:"jwt_issuer"`
	AccessTokenTTL  string `yaml:"access_token_ttl"`
	RefreshTokenTTL string `yaml:"refresh_token_ttl"`
	AIProviderURL   string `yaml:"ai_provider_url"`
	AITimeout       string `yaml:"ai_timeout"`
	ExecutorURL     string `yaml:"executor_url"`
	PollInterval    string `yaml:"poll_interval"`
	RunDeadline     string `yaml:"run_deadline"`
	Debug           bool   `yaml:"debug"`
}

// FromEnv creates a Config from environment variables, optionally seeded
// from a YAML file named by TD_CONFIG. Environment variables win.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Listen:          ":8080",
		DBURL:           "testdeck.db",
		JWTIssuer:       "testdeck",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		AIProviderURL:   "http://localhost:7461",
		AITimeout:       30 * time.Second,
		ExecutorURL:     "http://localhost:7462",
		PollInterval:    2 * time.Second,
		RunDeadline:     30 * time.Minute,
		Version:         "0.1.0",
	}

	if path := os.Getenv("TD_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Listen = getEnv("TD_LISTEN", cfg.Listen)
	cfg.DBURL = getEnv("TD_DB_URL", cfg.DBURL)
	cfg.JWTSigningKey = []byte(getEnv("TD_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"))
	cfg.JWTIssuer = getEnv("TD_JWT_ISSUER", cfg.JWTIssuer)
	cfg.AccessTokenTTL = getEnvDuration("TD_ACCESS_TOKEN_TTL", cfg.AccessTokenTTL)
	cfg.RefreshTokenTTL = getEnvDuration("TD_REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL)
	cfg.AIProviderURL = getEnv("TD_AI_PROVIDER_URL", cfg.AIProviderURL)
	cfg.AIProviderToken = getEnv("TD_AI_PROVIDER_TOKEN", "")
	cfg.AITimeout = getEnvDuration("TD_AI_TIMEOUT", cfg.AITimeout)
	cfg.ExecutorURL = getEnv("TD_EXECUTOR_URL", cfg.ExecutorURL)
	cfg.ExecutorToken = getEnv("TD_EXECUTOR_TOKEN", "")
	cfg.PollInterval = getEnvDuration("TD_POLL_INTERVAL", cfg.PollInterval)
	cfg.RunDeadline = getEnvDuration("TD_RUN_DEADLINE", cfg.RunDeadline)
	cfg.Debug = getEnvBool("TD_DEBUG", cfg.Debug)
	cfg.Version = getEnv("TD_VERSION", cfg.Version)

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fc.Listen != "" {
		c.Listen = fc.Listen
	}
	if fc.DBURL != "" {
		c.DBURL = fc.DBURL
	}
	if fc.JWTIssuer != "" {
		c.JWTIssuer = fc.JWTIssuer
	}
	if fc.AIProviderURL != "" {
		c.AIProviderURL = fc.AIProviderURL
	}
	if fc.ExecutorURL != "" {
		c.ExecutorURL = fc.ExecutorURL
	}
	if fc.Debug {
		c.Debug = true
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{fc.AccessTokenTTL, &c.AccessTokenTTL},
		{fc.RefreshTokenTTL, &c.RefreshTokenTTL},
		{fc.AITimeout, &c.AITimeout},
		{fc.PollInterval, &c.PollInterval},
		{fc.RunDeadline, &c.RunDeadline},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing duration %q in config file: %w", d.raw, err)
		}
		*d.dst = parsed
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
