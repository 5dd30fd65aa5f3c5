package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ericyarmo/buds-relay/pkg/phonecrypt"
	"github.com/ericyarmo/buds-relay/pkg/relay/store"
)

// validConfig returns a default config completed with the required
// secrets, using the memory blob backend.
func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.PhoneEncryptionKey = base64.StdEncoding.EncodeToString(make([]byte, phonecrypt.KeySize))
	cfg.Auth.Secret = strings.Repeat("s", 32)
	cfg.Blob.Type = "memory"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_MissingPhoneKey(t *testing.T) {
	cfg := validConfig()
	cfg.PhoneEncryptionKey = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for missing phone encryption key")
	}
}

func TestValidate_PhoneKeyWrongSize(t *testing.T) {
	cfg := validConfig()
	cfg.PhoneEncryptionKey = base64.StdEncoding.EncodeToString(make([]byte, 16))

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for short phone encryption key")
	}
	if !strings.Contains(err.Error(), "32 bytes") {
		t.Errorf("Expected key size error, got: %v", err)
	}
}

func TestValidate_PhoneKeyNotBase64(t *testing.T) {
	cfg := validConfig()
	cfg.PhoneEncryptionKey = "not base64!!"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for non-base64 phone encryption key")
	}
}

func TestValidate_ShortAuthSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Secret = "too-short"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for short auth secret")
	}
	if !strings.Contains(err.Error(), "auth.secret") {
		t.Errorf("Expected auth.secret error, got: %v", err)
	}
}

func TestValidate_S3WithoutBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Blob.Type = "s3"
	cfg.Blob.S3.Bucket = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for s3 blob store without bucket")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("Expected bucket error, got: %v", err)
	}
}

func TestValidate_PushEnabledWithoutCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Push.Enabled = true

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for push enabled without credentials")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidBlobType(t *testing.T) {
	cfg := validConfig()
	cfg.Blob.Type = "filesystem"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown blob type")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.CleanupInterval != 24*time.Hour {
		t.Errorf("Expected default cleanup interval 24h, got %v", cfg.CleanupInterval)
	}
	if cfg.Database.Type != store.DatabaseTypeSQLite {
		t.Errorf("Expected default database type sqlite, got %q", cfg.Database.Type)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Blob.Type != "s3" {
		t.Errorf("Expected default blob type s3, got %q", cfg.Blob.Type)
	}
	if cfg.Push.Endpoint != "https://api.push.apple.com" {
		t.Errorf("Expected default push endpoint, got %q", cfg.Push.Endpoint)
	}

	// Normalization
	cfg = &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected ApplyDefaults to normalize 'debug' to 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	key := base64.StdEncoding.EncodeToString(make([]byte, phonecrypt.KeySize))
	content := `
logging:
  level: debug
  format: json
server:
  port: 9999
  read_timeout: 15s
database:
  type: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "relay.db") + `
blob:
  type: memory
auth:
  secret: ` + strings.Repeat("x", 32) + `
phone_encryption_key: ` + key + `
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected DEBUG log level, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected json log format, got %q", cfg.Logging.Format)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Expected read timeout 15s, got %v", cfg.Server.ReadTimeout)
	}
	// Unset fields picked up defaults
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Expected default write timeout, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.PhoneEncryptionKey != key {
		t.Error("Expected phone encryption key from file")
	}
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
blob:
  type: memory
database:
  sqlite:
    path: ` + filepath.Join(dir, "relay.db") + `
auth:
  secret: ` + strings.Repeat("x", 32) + `
phone_encryption_key: placeholder
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	key := base64.StdEncoding.EncodeToString(make([]byte, phonecrypt.KeySize))
	t.Setenv("BUDSRELAY_PHONE_ENCRYPTION_KEY", key)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PhoneEncryptionKey != key {
		t.Error("Expected environment to override phone encryption key")
	}
}

func TestLoad_MissingPhoneKeyFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
blob:
  type: memory
auth:
  secret: ` + strings.Repeat("x", 32) + `
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Expected load to fail without phone encryption key")
	}
}

func TestInitConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	// Generated config must load and validate as-is.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of generated config failed: %v", err)
	}
	if cfg.Blob.Type != "memory" {
		t.Errorf("Expected generated config to use memory blobs, got %q", cfg.Blob.Type)
	}
	if len(cfg.Auth.Secret) < 32 {
		t.Error("Expected generated auth secret to satisfy the length rule")
	}

	// Refuses to overwrite without force
	if err := InitConfigToPath(path, false); err == nil {
		t.Fatal("Expected error when config file already exists")
	}
	if err := InitConfigToPath(path, true); err != nil {
		t.Errorf("Expected force overwrite to succeed, got: %v", err)
	}
}

func TestSaveConfig_Permissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	if err := SaveConfig(validConfig(), path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}
}
