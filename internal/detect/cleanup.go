package detect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finchops/finch/internal/store"
)

// JobCleanup is the lock key for the housekeeping detector.
const JobCleanup = "detect.cleanup"

// DefaultNotificationRetention is how long read notifications are kept.
const DefaultNotificationRetention = 30 * 24 * time.Hour

// Cleanup deletes expired auxiliary records: login links, password reset
// tokens, one-time codes, and read notifications past the retention window.
// Pure housekeeping, publishes no events.
type Cleanup struct {
	store     store.Store
	log       *slog.Logger
	retention time.Duration
	now       func() time.Time
}

// NewCleanup returns the detector. retention <= 0 uses the default.
func NewCleanup(s store.Store, log *slog.Logger, retention time.Duration, now func() time.Time) *Cleanup {
	if retention <= 0 {
		retention = DefaultNotificationRetention
	}
	return &Cleanup{store: s, log: log, retention: retention, now: now}
}

// Name implements Detector.
func (d *Cleanup) Name() string { return JobCleanup }

// Run implements Detector.
func (d *Cleanup) Run(ctx context.Context) error {
	now := d.now()

	tokens, err := d.store.PurgeExpiredAuthArtifacts(ctx, now)
	if err != nil {
		return fmt.Errorf("purging auth artifacts: %w", err)
	}
	notifications, err := d.store.PurgeReadNotifications(ctx, now.Add(-d.retention))
	if err != nil {
		return fmt.Errorf("purging read notifications: %w", err)
	}

	if tokens > 0 || notifications > 0 {
		d.log.Info("cleanup swept", "auth_artifacts", tokens, "notifications", notifications)
	}
	return nil
}
