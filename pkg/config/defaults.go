package config

import (
	"strings"
	"time"

	"github.com/ericyarmo/buds-relay/pkg/push"
	"github.com/ericyarmo/buds-relay/pkg/relay/api/auth"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}

	cfg.Database.ApplyDefaults()
	cfg.Server.ApplyDefaults()
	applyBlobDefaults(&cfg.Blob)
	applyPushDefaults(&cfg.Push)
	applyAuthDefaults(&cfg.Auth)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyBlobDefaults(cfg *BlobConfig) {
	if cfg.Type == "" {
		cfg.Type = "s3"
	}
	if cfg.S3.MaxRetries == 0 {
		cfg.S3.MaxRetries = 3
	}
}

func applyPushDefaults(cfg *push.Config) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.push.apple.com"
	}
}

func applyAuthDefaults(cfg *auth.JWTConfig) {
	if cfg.Issuer == "" {
		cfg.Issuer = "buds-auth"
	}
}

// GetDefaultConfig returns a Config with all default values applied.
// Useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
