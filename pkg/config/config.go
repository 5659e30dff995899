// Package config loads and validates the runtime configuration and the
// declarative feature definition files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/featherstore/featherstore/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from a YAML duration string
// such as "500ms" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StoreConfig points at one SQL store. SQLite stores use Path; Postgres
// stores use DSN.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"required,oneof=sqlite postgres"`
	Path    string `yaml:"path,omitempty" validate:"required_if=Backend sqlite"`
	DSN     string `yaml:"dsn,omitempty" validate:"required_if=Backend postgres"`
}

// MaterializationConfig tunes the materialization orchestrator.
type MaterializationConfig struct {
	PollInterval Duration `yaml:"poll_interval,omitempty"`
}

// BackupConfig points at the S3-compatible object store used for registry
// snapshots.
type BackupConfig struct {
	Endpoint  string `yaml:"endpoint" validate:"required"`
	Bucket    string `yaml:"bucket" validate:"required"`
	AccessKey string `yaml:"access_key" validate:"required"`
	SecretKey string `yaml:"secret_key" validate:"required"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
}

// Config is the complete runtime configuration.
type Config struct {
	Project  string `yaml:"project" validate:"required"`
	Provider string `yaml:"provider,omitempty" validate:"oneof=local"`

	Registry        StoreConfig           `yaml:"registry"`
	OfflineStore    StoreConfig           `yaml:"offline_store"`
	OnlineStore     StoreConfig           `yaml:"online_store"`
	Materialization MaterializationConfig `yaml:"materialization,omitempty"`
	Telemetry       telemetry.Config      `yaml:"telemetry,omitempty"`
	Backup          *BackupConfig         `yaml:"backup,omitempty"`
}

// DefaultConfig returns a configuration with sensible local defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: "local",
		Registry: StoreConfig{
			Backend: "sqlite",
			Path:    "featherstore.db",
		},
		OfflineStore: StoreConfig{
			Backend: "sqlite",
			Path:    "offline.db",
		},
		OnlineStore: StoreConfig{
			Backend: "sqlite",
			Path:    "online.db",
		},
		Materialization: MaterializationConfig{
			PollInterval: Duration(500 * time.Millisecond),
		},
		Telemetry: telemetry.DefaultConfig("featherstore"),
	}
}

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "local"
	}
	if c.Materialization.PollInterval <= 0 {
		c.Materialization.PollInterval = Duration(500 * time.Millisecond)
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "featherstore"
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config: field %s failed %q validation", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
