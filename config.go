package apptracker

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Defaults applied by New and LoadConfig for fields left unset.
const (
	DefaultBatchSize     = 20
	DefaultFlushInterval = 30 * time.Second
	DefaultDatabasePath  = "apptracker.db"
)

// Config holds the SDK configuration. Validation runs before any network or
// storage access.
type Config struct {
	// ProjectName names the collector project events belong to. Required
	// unless ProjectKey is set: bootstrap creates the project on first run.
	ProjectName string

	// BaseURL is the collector base URL. Required.
	BaseURL string

	// ProjectKey optionally overrides credential resolution with a known key.
	ProjectKey string

	// BatchSize is the number of events per delivery batch and the size
	// threshold that triggers an immediate flush. Defaults to 20.
	BatchSize int

	// FlushInterval is the periodic flush cadence. Defaults to 30s.
	FlushInterval time.Duration

	// DatabasePath is the SQLite file holding undelivered events and
	// identity state. Defaults to "apptracker.db".
	DatabasePath string

	// Logger receives SDK log output. Defaults to slog.Default().
	Logger *slog.Logger
}

// withDefaults returns a copy with unset fields filled in.
func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks the configuration. It performs no I/O.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ProjectName) == "" && strings.TrimSpace(c.ProjectKey) == "" {
		return fmt.Errorf("project_name is required when project_key is not set")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be > 0, got %s", c.FlushInterval)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database_path is required")
	}
	return nil
}

// fileConfig is the on-disk shape of the configuration. The flush interval
// travels as a duration string ("30s") and is parsed during load.
type fileConfig struct {
	ProjectName   string `koanf:"project_name"`
	BaseURL       string `koanf:"base_url"`
	ProjectKey    string `koanf:"project_key"`
	BatchSize     int    `koanf:"batch_size"`
	FlushInterval string `koanf:"flush_interval"`
	DatabasePath  string `koanf:"database_path"`
}

// LoadConfig parses configuration from an optional YAML file plus
// APPTRACKER_-prefixed environment variables (double underscore separates
// nesting levels), validates it, and returns it. Pass "" to load from
// defaults and environment only.
func LoadConfig(configPath string) (Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"batch_size":     DefaultBatchSize,
		"flush_interval": DefaultFlushInterval.String(),
		"database_path":  DefaultDatabasePath,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("APPTRACKER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "APPTRACKER_")), "__", ".", -1)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load env vars: %w", err)
	}

	var fc fileConfig
	if err := k.Unmarshal("", &fc); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	interval, err := time.ParseDuration(fc.FlushInterval)
	if err != nil {
		return Config{}, fmt.Errorf("invalid flush_interval %q: %w", fc.FlushInterval, err)
	}

	cfg := Config{
		ProjectName:   fc.ProjectName,
		BaseURL:       fc.BaseURL,
		ProjectKey:    fc.ProjectKey,
		BatchSize:     fc.BatchSize,
		FlushInterval: interval,
		DatabasePath:  fc.DatabasePath,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
