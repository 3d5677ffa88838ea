package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// maxFileSize caps config reads so a mistaken path never slurps something
// huge into memory.
const maxFileSize = 1 * 1024 * 1024

// Config is the full trellis configuration, loaded from .trellis.yaml over
// embedded defaults.
type Config struct {
	DB        string        `yaml:"db"`
	Languages []string      `yaml:"languages"`
	Workers   int           `yaml:"workers"`
	BatchSize int           `yaml:"batch_size"`
	MaxCycles int           `yaml:"max_cycles"`
	Log       LogConfig     `yaml:"log"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Mirror    MirrorConfig  `yaml:"mirror"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type MirrorConfig struct {
	Neo4j Neo4jConfig `yaml:"neo4j"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Enabled reports whether a Neo4j mirror is configured.
func (c Neo4jConfig) Enabled() bool {
	return c.URI != ""
}

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := decodeStrict(defaultYAML, cfg); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}
	return cfg, nil
}

// Load reads the config file at path on top of the defaults. A missing
// file is not an error; the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config %s exceeds %d bytes", path, maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := decodeStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// decodeStrict rejects unknown keys so typos surface instead of being
// silently ignored.
func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxCycles <= 0 {
		return fmt.Errorf("max_cycles must be positive, got %d", c.MaxCycles)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
