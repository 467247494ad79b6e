package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all shmcopy configuration.
type Config struct {
	Segment  SegmentConfig  `toml:"segment" yaml:"segment"`
	Transfer TransferConfig `toml:"transfer" yaml:"transfer"`
	Logging  LogConfig      `toml:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`
}

// SegmentConfig locates and sizes the shared memory segment.
type SegmentConfig struct {
	Dir           string   `envconfig:"SHMCOPY_SEGMENT_DIR" toml:"dir" yaml:"dir"`
	Size          Size     `envconfig:"SHMCOPY_SEGMENT_SIZE" toml:"size" yaml:"size"`
	AttachTimeout Duration `envconfig:"SHMCOPY_ATTACH_TIMEOUT" toml:"attach_timeout" yaml:"attach_timeout"`
}

// TransferConfig holds protocol parameters.
type TransferConfig struct {
	Slots       int      `envconfig:"SHMCOPY_SLOTS" toml:"slots" yaml:"slots"`
	ChunkSize   Size     `envconfig:"SHMCOPY_CHUNK_SIZE" toml:"chunk_size" yaml:"chunk_size"`
	PeerTimeout Duration `envconfig:"SHMCOPY_PEER_TIMEOUT" toml:"peer_timeout" yaml:"peer_timeout"`
	RateLimit   Size     `envconfig:"SHMCOPY_RATE_LIMIT" toml:"rate_limit" yaml:"rate_limit"` // bytes per second, 0 = unlimited
	NoClobber   bool     `envconfig:"SHMCOPY_NO_CLOBBER" toml:"no_clobber" yaml:"no_clobber"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"SHMCOPY_LOG_LEVEL" toml:"level" yaml:"level"`
	Development bool   `envconfig:"SHMCOPY_LOG_DEV" toml:"development" yaml:"development"`
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	// File receives the transfer metrics in Prometheus textfile format.
	File string `envconfig:"SHMCOPY_METRICS_FILE" toml:"file" yaml:"file"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Segment: SegmentConfig{
			Dir:           "/dev/shm",
			Size:          64 * units.KiB,
			AttachTimeout: Duration(5 * time.Second),
		},
		Transfer: TransferConfig{
			Slots:     2,
			ChunkSize: 4 * units.KiB,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Load builds the configuration from defaults, then the optional file at
// path, then environment variables. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// applyFile decodes a TOML or YAML file over cfg, chosen by extension.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

// Validate checks value ranges that do not depend on the segment layout.
func (c *Config) Validate() error {
	switch {
	case c.Segment.Size <= 0:
		return fmt.Errorf("%w: segment size must be positive", ErrInvalid)
	case c.Transfer.Slots < 1:
		return fmt.Errorf("%w: slots must be at least 1, got %d", ErrInvalid, c.Transfer.Slots)
	case c.Transfer.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalid)
	case c.Transfer.ChunkSize > c.Segment.Size:
		return fmt.Errorf("%w: chunk size %s exceeds segment size %s", ErrInvalid, c.Transfer.ChunkSize, c.Segment.Size)
	case c.Transfer.PeerTimeout < 0 || c.Segment.AttachTimeout < 0:
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalid)
	case c.Transfer.RateLimit < 0:
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalid)
	}
	return nil
}

// Size is a byte count that decodes from human-readable strings such as
// "4KiB", "64k" or "1MB" (binary multiples).
type Size int64

// UnmarshalText parses a human-readable size.
func (s *Size) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", text, err)
	}
	*s = Size(n)
	return nil
}

// String returns the size in binary units.
func (s Size) String() string {
	return units.BytesSize(float64(s))
}

// Int returns the size as an int.
func (s Size) Int() int {
	return int(s)
}

// Duration decodes from time.ParseDuration strings in every source.
type Duration time.Duration

// UnmarshalText parses a duration such as "250ms" or "5s".
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
