// Package config loads svdb configuration.
//
// Configuration starts from Default, is merged with an optional YAML file
// and then with SVDB_* environment variables. Command line flags are applied
// by the caller last.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wolfeidau/svdb/backend"
	"github.com/wolfeidau/svdb/metadata"
	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	BackendBolt       = "bolt"
	BackendFilesystem = "filesystem"
	BackendMemory     = "memory"
)

// EnvPrefix is the prefix of environment variables that override file values.
const EnvPrefix = "SVDB_"

// Config is the configuration of the svdb binary.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StorageConfig configures the storage engine.
type StorageConfig struct {
	// Path is the store directory. Bolt keeps svdb.db in it, the filesystem
	// backend uses it as its root.
	Path string `yaml:"path"`

	// Backend is one of bolt, filesystem or memory.
	Backend string `yaml:"backend"`

	// Compression is applied to stored values: none, lz4 or zstd.
	Compression string `yaml:"compression"`

	// MetadataFormat selects the codec for new chunked records: json or cbor.
	// Records in either format are always readable.
	MetadataFormat string `yaml:"metadata_format"`

	// NoSync skips fsync on bolt commits.
	NoSync bool `yaml:"no_sync"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address string `yaml:"address"`

	// AuthToken enables token authentication when set.
	AuthToken string `yaml:"auth_token"`

	// MaxBodySize caps upload bodies in bytes.
	MaxBodySize int64 `yaml:"max_body_size"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Prometheus   bool   `yaml:"prometheus"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Storage: StorageConfig{
			Path:           filepath.Join(homeDir, ".svdb"),
			Backend:        BackendBolt,
			Compression:    backend.CompressionNone.String(),
			MetadataFormat: metadata.FormatJSON,
		},
		Server: ServerConfig{
			Address:      ":8080",
			MaxBodySize:  100 << 20,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			ServiceName: "svdb",
		},
	}
}

// Load returns Default merged with the file at path, when path is not
// empty, and then with the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.Storage.Path = expandHome(cfg.Storage.Path)

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides values from SVDB_* variables, for example
// SVDB_STORAGE_PATH or SVDB_SERVER_AUTH_TOKEN.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STORAGE_PATH":            &c.Storage.Path,
		"STORAGE_BACKEND":         &c.Storage.Backend,
		"STORAGE_COMPRESSION":     &c.Storage.Compression,
		"STORAGE_METADATA_FORMAT": &c.Storage.MetadataFormat,
		"SERVER_ADDRESS":          &c.Server.Address,
		"SERVER_AUTH_TOKEN":       &c.Server.AuthToken,
		"LOG_LEVEL":               &c.Log.Level,
		"LOG_FORMAT":              &c.Log.Format,
		"METRICS_OTLP_ENDPOINT":   &c.Metrics.OTLPEndpoint,
		"METRICS_SERVICE_NAME":    &c.Metrics.ServiceName,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	var errs []error

	bools := map[string]*bool{
		"STORAGE_NO_SYNC":    &c.Storage.NoSync,
		"METRICS_PROMETHEUS": &c.Metrics.Prometheus,
	}
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				continue
			}
			*dst = b
		}
	}

	if v, ok := lookup(EnvPrefix + "SERVER_MAX_BODY_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSERVER_MAX_BODY_SIZE: %w", EnvPrefix, err))
		} else {
			c.Server.MaxBodySize = n
		}
	}

	durations := map[string]*time.Duration{
		"SERVER_READ_TIMEOUT":  &c.Server.ReadTimeout,
		"SERVER_WRITE_TIMEOUT": &c.Server.WriteTimeout,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				continue
			}
			*dst = d
		}
	}

	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendBolt, BackendFilesystem:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid storage.backend: %q", c.Storage.Backend))
	}

	if _, err := backend.ParseCompression(c.Storage.Compression); err != nil {
		errs = append(errs, fmt.Errorf("storage.compression: %w", err))
	}

	if _, err := metadata.ForFormat(c.Storage.MetadataFormat); err != nil {
		errs = append(errs, fmt.Errorf("storage.metadata_format: %w", err))
	}

	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be positive"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log.level: %q", c.Log.Level))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log.format: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
