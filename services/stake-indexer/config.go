package indexer

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the stake indexer.
type Config struct {
	Environment string         `yaml:"environment"`
	Source      SourceConfig   `yaml:"source"`
	Database    DatabaseConfig `yaml:"database"`
	Export      ExportConfig   `yaml:"export"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// SourceConfig points the indexer at the ledger's event stream.
type SourceConfig struct {
	URL              string   `yaml:"url"`
	Token            string   `yaml:"token"`
	TokenEnv         string   `yaml:"token_env"`
	ReconnectBackoff Duration `yaml:"reconnect_backoff"`
}

// DatabaseConfig selects the read-model store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ExportConfig schedules parquet snapshots of the position table.
type ExportConfig struct {
	Dir      string   `yaml:"dir"`
	Interval Duration `yaml:"interval"`
}

// LoggingConfig tunes the service logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Source.normalise(); err != nil {
		return cfg, fmt.Errorf("source: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.Source.URL == "" {
		cfg.Source.URL = "ws://127.0.0.1:8646/v1/events/stream"
	}
	if cfg.Source.ReconnectBackoff.Duration == 0 {
		cfg.Source.ReconnectBackoff.Duration = 2 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == DriverSQLite {
		cfg.Database.DSN = "stake-indexer.db"
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "stake-exports"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validateConfig(cfg Config) error {
	parsed, err := url.Parse(cfg.Source.URL)
	if err != nil {
		return fmt.Errorf("source url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("source url must use ws or wss, got %q", parsed.Scheme)
	}
	switch cfg.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database dsn must be configured")
	}
	if cfg.Export.Interval.Duration < 0 {
		return fmt.Errorf("export interval must not be negative")
	}
	return nil
}

func (s *SourceConfig) normalise() error {
	s.URL = strings.TrimSpace(s.URL)
	s.Token = strings.TrimSpace(s.Token)
	s.TokenEnv = strings.TrimSpace(s.TokenEnv)
	if s.Token != "" || s.TokenEnv == "" {
		return nil
	}
	value := strings.TrimSpace(os.Getenv(s.TokenEnv))
	if value == "" {
		return fmt.Errorf("token_env %s is empty", s.TokenEnv)
	}
	s.Token = value
	return nil
}
