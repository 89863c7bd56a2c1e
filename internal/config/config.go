// Package config defines the process configuration of hktrend.
//
// Values are resolved from the OS environment, then a .env file in the
// working directory. Configuration is loaded once at startup and never
// modified; an invalid value fails the command before any data is read.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/vjranagit/hktrend/pkg/storage"
)

// Sink names accepted by SINK
const (
	SinkBadger   = "badger"
	SinkPostgres = "postgres"
)

// Config is the top-level configuration
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Routine RoutineConfig
	Storage StorageConfig
	Server  ServerConfig
}

// RoutineConfig selects the routine table and evaluation parallelism
type RoutineConfig struct {
	Instrument string `envconfig:"INSTRUMENT" default:"nirspec" validate:"oneof=nirspec miri"`
	// Optional YAML table; overrides the built-in table of Instrument
	File    string `envconfig:"ROUTINES_FILE"`
	Workers int    `envconfig:"WORKERS" default:"4" validate:"min=1"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Sink             string        `envconfig:"SINK" default:"badger" validate:"oneof=badger postgres"`
	Path             string        `envconfig:"STORAGE_PATH" default:"./data" validate:"required_if=Sink badger"`
	CompressionLevel int           `envconfig:"COMPRESSION_LEVEL" default:"3" validate:"min=1,max=4"`
	EnableWAL        bool          `envconfig:"ENABLE_WAL" default:"true"`
	FlushInterval    time.Duration `envconfig:"FLUSH_INTERVAL" default:"1s" validate:"gt=0"`
	BatchSize        int           `envconfig:"BATCH_SIZE" default:"256" validate:"min=1"`
	DatabaseURL      string        `envconfig:"DATABASE_URL" validate:"required_if=Sink postgres"`
}

// ServerConfig holds the read API configuration
type ServerConfig struct {
	ListenAddr    string        `envconfig:"LISTEN_ADDR" default:":9090" validate:"required"`
	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"1000" validate:"min=1"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"1m" validate:"gt=0"`
}

// ConfigErrorType categorizes configuration loading failures
type ConfigErrorType string

const (
	// ErrParsing indicates an environment value could not be converted
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed validation rules
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)

// ConfigError is returned by Load
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads the configuration. A missing .env file is not an error, and
// .env never overrides variables already set in the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		CompressionLevel: c.Storage.CompressionLevel,
		EnableWAL:        c.Storage.EnableWAL,
		FlushInterval:    c.Storage.FlushInterval,
		BatchSize:        c.Storage.BatchSize,
	}
}

// SlogLevel maps LogLevel to a slog level
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
