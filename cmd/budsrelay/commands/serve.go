package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericyarmo/buds-relay/internal/logger"
	"github.com/ericyarmo/buds-relay/internal/metrics"
	"github.com/ericyarmo/buds-relay/pkg/blob"
	"github.com/ericyarmo/buds-relay/pkg/config"
	"github.com/ericyarmo/buds-relay/pkg/phonecrypt"
	"github.com/ericyarmo/buds-relay/pkg/push"
	"github.com/ericyarmo/buds-relay/pkg/relay/api"
	"github.com/ericyarmo/buds-relay/pkg/relay/api/auth"
	"github.com/ericyarmo/buds-relay/pkg/relay/service"
	"github.com/ericyarmo/buds-relay/pkg/relay/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	Long: `Start the relay HTTP server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/budsrelay/config.yaml.

Examples:
  # Start with default config location
  budsrelay serve

  # Start with custom config file
  budsrelay serve --config /etc/budsrelay/config.yaml

  # Start with environment variable overrides
  BUDSRELAY_LOGGING_LEVEL=DEBUG budsrelay serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded",
		"database", cfg.Database.Type,
		"blob", cfg.Blob.Type,
		"push", cfg.Push.Enabled)

	// Persistence
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize relay store: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Blob store for encrypted payloads
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = blobs.Close() }()

	if err := blobs.HealthCheck(ctx); err != nil {
		return fmt.Errorf("blob store health check failed: %w", err)
	}

	// Phone encryption (key presence was enforced by config validation)
	phones, err := phonecrypt.FromBase64Key(cfg.PhoneEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize phone encryption: %w", err)
	}

	// Push notifier
	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	svc := service.New(st, blobs, notifier, phones)

	verifier, err := auth.NewJWTVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	limiter := api.NewRateLimiter()
	defer limiter.Close()

	router := api.NewRouter(svc, verifier, limiter)
	server := api.NewServer(cfg.Server, router)

	// Background expiry sweeper
	cleanup := service.NewCleanupRunner(svc, cfg.CleanupInterval)
	go cleanup.Run(ctx)

	// Optional metrics listener on its own port
	var metricsServer *http.Server
	if cfg.Server.MetricsPort != 0 {
		metricsServer = startMetricsServer(cfg.Server.MetricsPort)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Relay is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	return nil
}

// newBlobStore creates the payload store selected by configuration.
func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Blob.Type {
	case "s3":
		s3Store, err := blob.NewS3FromConfig(ctx, cfg.Blob.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 blob store: %w", err)
		}
		logger.Info("Blob store initialized", "type", "s3", "bucket", cfg.Blob.S3.Bucket)
		return s3Store, nil
	case "memory":
		logger.Warn("Using in-memory blob store; payloads will not survive a restart")
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob store type: %q", cfg.Blob.Type)
	}
}

// newNotifier creates the push notifier, falling back to a no-op when
// push is disabled.
func newNotifier(cfg *config.Config) (push.Notifier, error) {
	if !cfg.Push.Enabled {
		logger.Info("Push delivery disabled; recipients rely on inbox polling")
		return push.NopNotifier{}, nil
	}
	notifier, err := push.NewAPNS(cfg.Push)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize APNs notifier: %w", err)
	}
	logger.Info("Push delivery enabled", "topic", cfg.Push.Topic)
	return notifier, nil
}

// startMetricsServer serves Prometheus metrics on a dedicated port.
func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info("Metrics server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return srv
}
