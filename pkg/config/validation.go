package config

import (
	"encoding/base64"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ericyarmo/buds-relay/pkg/phonecrypt"
)

// Validate checks the configuration for errors. Struct tags cover the
// shape; cross-field rules are checked by hand.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid value for %s (rule: %s)", e.Namespace(), e.Tag())
		}
		return err
	}

	key, err := base64.StdEncoding.DecodeString(cfg.PhoneEncryptionKey)
	if err != nil {
		return fmt.Errorf("phone_encryption_key must be base64: %w", err)
	}
	if len(key) != phonecrypt.KeySize {
		return fmt.Errorf("phone_encryption_key must decode to %d bytes, got %d", phonecrypt.KeySize, len(key))
	}

	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 characters")
	}

	if cfg.Blob.Type == "s3" && cfg.Blob.S3.Bucket == "" {
		return fmt.Errorf("blob.s3.bucket is required when blob.type is s3")
	}

	if cfg.Push.Enabled {
		if cfg.Push.KeyID == "" || cfg.Push.TeamID == "" || cfg.Push.PrivateKey == "" || cfg.Push.Topic == "" {
			return fmt.Errorf("push requires key_id, team_id, private_key and topic when enabled")
		}
	}

	return nil
}
