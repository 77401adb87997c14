package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

// JobExpiringContracts is the lock key for the expiring contract detector.
const JobExpiringContracts = "detect.expiring_contracts"

// reminderDays is the exact day-count whitelist. A contract fires only when
// its days-until-expiry equals one of these, so each contract produces at
// most five reminders over its life. Re-running within the same calendar
// day re-fires the same event; downstream notification writes tolerate
// duplicates.
var reminderDays = map[int]bool{30: true, 14: true, 7: true, 3: true, 1: true}

// ExpiringContracts publishes contract.expiring_soon for active contracts
// whose expiry falls on a reminder day. It mutates nothing.
type ExpiringContracts struct {
	store store.Store
	pub   Publisher
	now   func() time.Time
}

// NewExpiringContracts returns the detector.
func NewExpiringContracts(s store.Store, pub Publisher, now func() time.Time) *ExpiringContracts {
	return &ExpiringContracts{store: s, pub: pub, now: now}
}

// Name implements Detector.
func (d *ExpiringContracts) Name() string { return JobExpiringContracts }

// Run implements Detector.
func (d *ExpiringContracts) Run(ctx context.Context) error {
	contracts, err := d.store.ListActiveContractsExpiring(ctx)
	if err != nil {
		return fmt.Errorf("scanning contracts: %w", err)
	}

	today := d.now()
	for _, c := range contracts {
		days := c.DaysUntilExpiry(today)
		if !reminderDays[days] {
			continue
		}
		d.pub.Publish(ctx, &model.Event{
			Source:     model.SourceDetector,
			EntityType: model.EntityContract,
			EventType:  model.EventExpiringSoon,
			EntityID:   c.ID,
			OrgID:      c.OrgID,
			NewValue:   days,
			Snapshot:   c,
		})
	}
	return nil
}
