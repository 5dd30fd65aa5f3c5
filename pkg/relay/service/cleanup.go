package service

import (
	"context"
	"time"

	"github.com/ericyarmo/buds-relay/internal/logger"
	"github.com/ericyarmo/buds-relay/internal/metrics"
)

// Retention defaults.
const (
	// DefaultCleanupInterval is how often the sweep runs. Daily is
	// sufficient for a 30-day TTL.
	DefaultCleanupInterval = 24 * time.Hour

	// deviceIdleTTL is how long a device may go without a heartbeat
	// before it is deleted.
	deviceIdleTTL = 90 * 24 * time.Hour
)

// CleanupRunner periodically removes expired messages, their blobs,
// orphan delivery rows and long-idle devices. Every step is idempotent;
// a rerun on a clean database is a no-op.
type CleanupRunner struct {
	service  *Service
	interval time.Duration
}

// NewCleanupRunner creates a runner. A non-positive interval falls back
// to the default.
func NewCleanupRunner(service *Service, interval time.Duration) *CleanupRunner {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupRunner{service: service, interval: interval}
}

// Run sweeps once immediately, then on every tick until the context is
// cancelled.
func (r *CleanupRunner) Run(ctx context.Context) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep. Blob deletions happen before row
// deletions; a message whose blob delete fails keeps its row so the
// next pass retries the blob instead of orphaning it.
func (r *CleanupRunner) RunOnce(ctx context.Context) {
	s := r.service
	now := s.now()

	expired, err := s.store.ExpiredMessages(ctx, now)
	if err != nil {
		logger.ErrorCtx(ctx, "cleanup: failed to list expired messages", "error", err)
		return
	}

	blobsDeleted := 0
	var retained []string
	for _, msg := range expired {
		if msg.BlobKey == nil {
			continue
		}
		if err := s.blobs.Delete(ctx, *msg.BlobKey); err != nil {
			logger.WarnCtx(ctx, "cleanup: failed to delete blob, keeping row for retry",
				"message_id", msg.MessageID, "error", err)
			retained = append(retained, msg.MessageID)
			continue
		}
		blobsDeleted++
	}

	messagesDeleted, err := s.store.DeleteExpiredMessages(ctx, now, retained)
	if err != nil {
		logger.ErrorCtx(ctx, "cleanup: failed to delete expired messages", "error", err)
		return
	}

	deliveriesDeleted, err := s.store.DeleteOrphanDeliveries(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, "cleanup: failed to delete orphan deliveries", "error", err)
		return
	}

	devicesDeleted, err := s.store.DeleteIdleDevices(ctx, now-deviceIdleTTL.Milliseconds())
	if err != nil {
		logger.ErrorCtx(ctx, "cleanup: failed to delete idle devices", "error", err)
		return
	}

	metrics.CleanupDeleted.WithLabelValues("blobs").Add(float64(blobsDeleted))
	metrics.CleanupDeleted.WithLabelValues("messages").Add(float64(messagesDeleted))
	metrics.CleanupDeleted.WithLabelValues("deliveries").Add(float64(deliveriesDeleted))
	metrics.CleanupDeleted.WithLabelValues("devices").Add(float64(devicesDeleted))

	if messagesDeleted > 0 || deliveriesDeleted > 0 || devicesDeleted > 0 {
		logger.InfoCtx(ctx, "cleanup sweep finished",
			"messages", messagesDeleted,
			"blobs", blobsDeleted,
			"deliveries", deliveriesDeleted,
			"devices", devicesDeleted)
	}
}
