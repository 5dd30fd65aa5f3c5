// Package commands implements the CLI commands for the relay server.
package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ericyarmo/buds-relay/internal/logger"
	"github.com/ericyarmo/buds-relay/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
	envName string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "budsrelay",
	Short: "Buds relay - zero-trust message and receipt relay",
	Long: `Buds relay stores and forwards end-to-end encrypted messages between
phone-addressed devices and keeps the ordered receipt logs that back
shared jars. The relay never sees plaintext: payloads arrive encrypted,
phone numbers are encrypted at rest, and receipts are opaque signed blobs.

Use "budsrelay [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/budsrelay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "environment to load config for: dev, staging, production (selects config.<env>.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// GetConfigFile returns the config file path selected by the global
// flags. --config wins over --env; with neither set the default
// location is used.
func GetConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	if envName != "" {
		return filepath.Join(config.GetConfigDir(), fmt.Sprintf("config.%s.yaml", envName))
	}
	return ""
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
