package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ericyarmo/buds-relay/pkg/blob"
	"github.com/ericyarmo/buds-relay/pkg/config"
	"github.com/ericyarmo/buds-relay/pkg/phonecrypt"
	"github.com/ericyarmo/buds-relay/pkg/push"
	"github.com/ericyarmo/buds-relay/pkg/relay/service"
	"github.com/ericyarmo/buds-relay/pkg/relay/store"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one expiry sweep and exit",
	Long: `Run a single cleanup pass: delete expired messages and their
payload blobs, drop orphaned delivery rows, and deactivate devices that
have been idle past the retention window.

The serve command runs this sweep on a schedule; the standalone command
exists for cron-driven deployments and manual runs.

Examples:
  budsrelay cleanup
  budsrelay cleanup --config /etc/budsrelay/config.yaml`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx := context.Background()

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize relay store: %w", err)
	}
	defer func() { _ = st.Close() }()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = blobs.Close() }()

	phones, err := phonecrypt.FromBase64Key(cfg.PhoneEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize phone encryption: %w", err)
	}

	svc := service.New(st, blobs, push.NopNotifier{}, phones)
	service.NewCleanupRunner(svc, cfg.CleanupInterval).RunOnce(ctx)

	fmt.Println("Cleanup completed")
	return nil
}
