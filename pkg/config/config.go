// Package config loads the relay configuration from file, environment
// and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ericyarmo/buds-relay/pkg/blob"
	"github.com/ericyarmo/buds-relay/pkg/push"
	"github.com/ericyarmo/buds-relay/pkg/relay/api"
	"github.com/ericyarmo/buds-relay/pkg/relay/api/auth"
	"github.com/ericyarmo/buds-relay/pkg/relay/store"
)

// Config represents the relay configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (BUDSRELAY_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures message metadata and receipt persistence
	// (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Blob configures the encrypted payload store.
	Blob BlobConfig `mapstructure:"blob" yaml:"blob"`

	// Push configures silent APNs wake-ups. Optional; when disabled
	// recipients rely on inbox polling.
	Push push.Config `mapstructure:"push" yaml:"push"`

	// Server contains HTTP server configuration.
	Server api.Config `mapstructure:"server" yaml:"server"`

	// Auth configures bearer-token verification for API callers.
	Auth auth.JWTConfig `mapstructure:"auth" yaml:"auth"`

	// PhoneEncryptionKey is the base64-encoded 32-byte AES key used to
	// encrypt phone numbers at rest. Required; the relay refuses to
	// start without it. Rotating it orphans every stored mapping.
	PhoneEncryptionKey string `mapstructure:"phone_encryption_key" validate:"required" yaml:"phone_encryption_key"`

	// CleanupInterval is how often the expiry sweeper runs.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// BlobConfig selects and configures the payload blob store.
type BlobConfig struct {
	// Type selects the backend. Valid values: s3, memory.
	// The memory backend is for development and tests only; payloads
	// do not survive a restart.
	Type string `mapstructure:"type" validate:"required,oneof=s3 memory" yaml:"type"`

	// S3 configures the S3 backend (required when Type is s3).
	S3 blob.S3Config `mapstructure:"s3" yaml:"s3"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Environment-only secrets. Viper's AutomaticEnv does not surface
	// keys that never appear in the file, so bind the critical ones
	// explicitly.
	applyEnvOverrides(&cfg)

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  budsrelay init\n\n"+
				"Or specify a custom config file:\n"+
				"  budsrelay <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  budsrelay init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file holds the phone encryption key and the JWT secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config
// file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the BUDSRELAY_ prefix and underscores.
	// Example: BUDSRELAY_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("BUDSRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// applyEnvOverrides binds the secrets that are commonly supplied only
// through the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BUDSRELAY_PHONE_ENCRYPTION_KEY"); v != "" {
		cfg.PhoneEncryptionKey = v
	}
	if v := os.Getenv("BUDSRELAY_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("BUDSRELAY_PUSH_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
	if v := os.Getenv("BUDSRELAY_BLOB_S3_SECRET_ACCESS_KEY"); v != "" {
		cfg.Blob.S3.SecretAccessKey = v
	}
}

// configDecodeHooks returns a combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// the current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "budsrelay")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "budsrelay")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for
// the init command).
func GetConfigDir() string {
	return getConfigDir()
}
