package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ericyarmo/buds-relay/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample relay configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/budsrelay/config.yaml.
Use --config to specify a custom path.

The generated config uses SQLite and the in-memory blob store so the
relay runs without external services. A random phone encryption key and
auth secret are generated for development use.

Examples:
  # Initialize with default location
  budsrelay init

  # Initialize with custom path
  budsrelay init --config /etc/budsrelay/config.yaml

  # Force overwrite existing config
  budsrelay init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the relay with: budsrelay serve")
	fmt.Printf("  3. Or specify custom config: budsrelay serve --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  Random secrets were generated for development use.")
	fmt.Println("  For production, supply them through the environment instead:")
	fmt.Println("    export BUDSRELAY_PHONE_ENCRYPTION_KEY=$(openssl rand -base64 32)")
	fmt.Println("    export BUDSRELAY_AUTH_SECRET=$(openssl rand -hex 32)")

	return nil
}
