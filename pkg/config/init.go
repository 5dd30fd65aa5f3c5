package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ericyarmo/buds-relay/pkg/phonecrypt"
)

// InitConfig creates a sample configuration file at the default
// location. Returns the path the file was written to.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath creates a sample configuration file at the given
// path. Fails if the file exists unless force is set.
//
// A random phone encryption key and JWT secret are generated so a dev
// setup works out of the box. Production deployments should supply
// both through the environment instead.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	cfg := GetDefaultConfig()

	phoneKey := make([]byte, phonecrypt.KeySize)
	if _, err := rand.Read(phoneKey); err != nil {
		return fmt.Errorf("failed to generate phone encryption key: %w", err)
	}
	cfg.PhoneEncryptionKey = base64.StdEncoding.EncodeToString(phoneKey)

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("failed to generate auth secret: %w", err)
	}
	cfg.Auth.Secret = hex.EncodeToString(secret)

	// Memory blobs so the sample config starts without S3 credentials.
	cfg.Blob.Type = "memory"

	return SaveConfig(cfg, path)
}
