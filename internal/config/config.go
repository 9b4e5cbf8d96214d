package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tanq16/ranger/internal/source"
	"github.com/tanq16/ranger/internal/utils"
	"gopkg.in/yaml.v3"
)

// Config defines configuration for the range server.
type Config struct {
	Listen          string
	StrictRanges    bool
	ChunkSize       int64
	RateLimit       int64
	ShutdownTimeout time.Duration
	Resources       []Resource
}

// Resource is one servable object, addressed as /download/{id}.
type Resource struct {
	ID          string `yaml:"id"`
	Path        string `yaml:"path"`
	S3          string `yaml:"s3"`
	Blob        string `yaml:"blob"`
	Key         string `yaml:"key"`
	ContentType string `yaml:"content_type"`
	Profile     string `yaml:"profile"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
}

const (
	KindFile = "file"
	KindS3   = "s3"
	KindBlob = "blob"
)

// Kind reports which store backs r, or "" when none or several are set.
func (r Resource) Kind() string {
	var kinds []string
	if r.Path != "" {
		kinds = append(kinds, KindFile)
	}
	if r.S3 != "" {
		kinds = append(kinds, KindS3)
	}
	if r.Blob != "" {
		kinds = append(kinds, KindBlob)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Listen:          ":8080",
		ChunkSize:       utils.DefaultBufferSize,
		ShutdownTimeout: 10 * time.Second,
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes.
type yamlConfig struct {
	Listen          string     `yaml:"listen"`
	StrictRanges    bool       `yaml:"strict_ranges"`
	ChunkSize       string     `yaml:"chunk_size"`
	RateLimit       string     `yaml:"rate_limit"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	Resources       []Resource `yaml:"resources"`
}

// Load reads path, applies RANGER_ environment overrides and validates
// the result.
func Load(path string) (Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if yc.Listen != "" {
		cfg.Listen = yc.Listen
	}
	cfg.StrictRanges = yc.StrictRanges
	if yc.ChunkSize != "" {
		size, err := utils.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.RateLimit != "" {
		limit, err := utils.ParseBytes(yc.RateLimit)
		if err != nil {
			return Config{}, fmt.Errorf("parse rate_limit: %w", err)
		}
		cfg.RateLimit = limit
	}
	if yc.ShutdownTimeout != "" {
		d, err := time.ParseDuration(yc.ShutdownTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	cfg.Resources = yc.Resources
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the RANGER_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("RANGER_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("RANGER_STRICT_RANGES"); v != "" {
		c.StrictRanges = v == "true" || v == "1"
	}
	if v := os.Getenv("RANGER_CHUNK_SIZE"); v != "" {
		size, err := utils.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse RANGER_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("RANGER_RATE_LIMIT"); v != "" {
		limit, err := utils.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse RANGER_RATE_LIMIT: %w", err)
		}
		c.RateLimit = limit
	}
	if v := os.Getenv("RANGER_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse RANGER_SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = d
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.ChunkSize > int64(^uint32(0)>>1) {
		return errors.New("config: chunk_size too large")
	}
	if c.RateLimit < 0 {
		return errors.New("config: rate_limit must not be negative")
	}
	if len(c.Resources) == 0 {
		return errors.New("config: at least one resource is required")
	}
	seen := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		if err := r.validate(); err != nil {
			return fmt.Errorf("config: resource %d: %w", i, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("config: duplicate resource id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

func (r Resource) validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	if strings.ContainsAny(r.ID, "/?#% ") {
		return fmt.Errorf("id %q must be a single path segment", r.ID)
	}
	switch r.Kind() {
	case KindFile:
	case KindS3:
		if _, _, err := source.ParseS3Location(r.S3); err != nil {
			return err
		}
	case KindBlob:
		if r.Key == "" {
			return fmt.Errorf("blob resource %q needs a key", r.ID)
		}
	default:
		return fmt.Errorf("resource %q must set exactly one of path, s3, blob", r.ID)
	}
	return nil
}
