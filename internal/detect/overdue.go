package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

// JobOverdueInvoices is the lock key for the overdue invoice detector.
const JobOverdueInvoices = "detect.overdue_invoices"

// OverdueInvoices flips invoices past their due date to overdue and
// publishes one invoice.status_changed event per transition.
//
// The scan and the status updates run in a single read-write transaction:
// a failure partway rolls back every change of that run and publishes
// nothing. The status guard (already-overdue invoices are not scanned)
// makes reruns idempotent.
type OverdueInvoices struct {
	store store.Store
	pub   Publisher
	now   func() time.Time
}

// NewOverdueInvoices returns the detector. now is the scan clock; pass
// time.Now outside tests.
func NewOverdueInvoices(s store.Store, pub Publisher, now func() time.Time) *OverdueInvoices {
	return &OverdueInvoices{store: s, pub: pub, now: now}
}

// Name implements Detector.
func (d *OverdueInvoices) Name() string { return JobOverdueInvoices }

// Run implements Detector.
func (d *OverdueInvoices) Run(ctx context.Context) error {
	// Events are collected during the transaction and published only after
	// it commits, so rolled-back rows never produce events.
	var pending []*model.Event

	err := d.store.RunInTransaction(ctx, func(tx store.Store) error {
		invoices, err := tx.ListInvoicesPastDue(ctx, d.now())
		if err != nil {
			return fmt.Errorf("scanning past-due invoices: %w", err)
		}
		for _, inv := range invoices {
			prev := inv.Status
			if err := tx.UpdateInvoiceStatus(ctx, inv.ID, model.InvoiceStatusOverdue); err != nil {
				return fmt.Errorf("marking invoice %s overdue: %w", inv.ID, err)
			}
			snapshot := *inv
			snapshot.Status = model.InvoiceStatusOverdue
			pending = append(pending, &model.Event{
				Source:     model.SourceDetector,
				EntityType: model.EntityInvoice,
				EventType:  model.EventStatusChanged,
				EntityID:   inv.ID,
				OrgID:      inv.OrgID,
				OldValue:   prev,
				NewValue:   model.InvoiceStatusOverdue,
				Snapshot:   &snapshot,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range pending {
		d.pub.Publish(ctx, e)
	}
	return nil
}
