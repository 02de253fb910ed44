// Package config loads service configuration from a YAML file, .env files and
// environment variable overrides (`env` struct tags). Environment always wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"go-idea-jobs/internal/logger"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Registry  RegistryConfig  `yaml:"registry"`
	Players   PlayersConfig   `yaml:"players"`
	Backend   BackendConfig   `yaml:"backend"`
	Logging   logger.Config   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `env:"HTTP_ADDR"          yaml:"addr"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT"  yaml:"read_timeout"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" yaml:"write_timeout"`
}

// DatabaseConfig points at the sqlite file used by the local backend.
type DatabaseConfig struct {
	Path string `env:"DB_PATH" yaml:"path"`
}

// RedisConfig configures the update channel transport. When Address is empty
// an in-process channel is used instead.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// RegistryConfig tunes the job registry.
type RegistryConfig struct {
	OwnerID       string        `env:"OWNER_ID"             yaml:"owner_id"`
	GracePeriod   time.Duration `env:"JOB_GRACE_PERIOD"     yaml:"grace_period"`
	SweepInterval time.Duration `env:"JOB_SWEEP_INTERVAL"   yaml:"sweep_interval"`
}

// PlayersConfig tunes the player pool.
type PlayersConfig struct {
	Capacity            int           `env:"PLAYER_POOL_CAPACITY"   yaml:"capacity"`
	VisibilityThreshold float64       `env:"PLAYER_VISIBILITY"      yaml:"visibility_threshold"`
	RetryDelay          time.Duration `env:"PLAYER_RETRY_DELAY"     yaml:"retry_delay"`
}

// BackendConfig selects the processing backend. An empty URL runs the local
// sqlite-backed pipeline.
type BackendConfig struct {
	URL        string        `env:"BACKEND_URL"         yaml:"url"`
	Timeout    time.Duration `env:"BACKEND_TIMEOUT"     yaml:"timeout"`
	Workers    int           `env:"LOCAL_WORKERS"       yaml:"workers"`
	StageDelay time.Duration `env:"LOCAL_STAGE_DELAY"   yaml:"stage_delay"`
}

// TelemetryConfig toggles OpenTelemetry export.
type TelemetryConfig struct {
	Enabled bool `env:"OTEL_ENABLED" yaml:"enabled"`
}

// SetDefaults applies default values for unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "jobs.db"
	}
	if c.Registry.GracePeriod == 0 {
		c.Registry.GracePeriod = 120 * time.Second
	}
	if c.Registry.SweepInterval == 0 {
		c.Registry.SweepInterval = 30 * time.Second
	}
	if c.Players.Capacity == 0 {
		c.Players.Capacity = 4
	}
	if c.Players.VisibilityThreshold == 0 {
		c.Players.VisibilityThreshold = 0.5
	}
	if c.Players.RetryDelay == 0 {
		c.Players.RetryDelay = 300 * time.Millisecond
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 15 * time.Second
	}
	if c.Backend.Workers == 0 {
		c.Backend.Workers = 2
	}
	if c.Backend.StageDelay == 0 {
		c.Backend.StageDelay = 2 * time.Second
	}
	c.Logging.SetDefaults()
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Registry.OwnerID == "" {
		return &ValidationError{Field: "registry.owner_id", Message: "is required"}
	}
	if c.Players.Capacity < 1 {
		return &ValidationError{Field: "players.capacity", Message: "must be at least 1"}
	}
	if c.Players.VisibilityThreshold <= 0 || c.Players.VisibilityThreshold > 1 {
		return &ValidationError{Field: "players.visibility_threshold", Message: "must be in (0, 1]"}
	}
	if c.Registry.SweepInterval < time.Second {
		return &ValidationError{Field: "registry.sweep_interval", Message: "must be at least 1s"}
	}
	return nil
}

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Message)
}

// Load reads the YAML file at path (a missing file is not an error), applies
// defaults and then environment overrides.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	cfg.SetDefaults()
	return &cfg, nil
}

// loadEnvFiles loads ENV_FILE if set, otherwise .env.local then .env.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Path returns CONFIG_PATH or the given default.
func Path(defaultPath string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultPath
}
