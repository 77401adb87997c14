package detect

import (
	"context"
	"fmt"

	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

// JobLowStock is the lock key for the low stock detector.
const JobLowStock = "detect.low_stock"

// LowStock publishes product.low_stock for every stock row at or below its
// reorder point, on every run. The signal is level-triggered: as long as a
// row stays below threshold it keeps firing, which keeps the reminder alive
// until someone restocks. There is deliberately no edge guard here.
type LowStock struct {
	store store.Store
	pub   Publisher
}

// NewLowStock returns the detector.
func NewLowStock(s store.Store, pub Publisher) *LowStock {
	return &LowStock{store: s, pub: pub}
}

// Name implements Detector.
func (d *LowStock) Name() string { return JobLowStock }

// Run implements Detector.
func (d *LowStock) Run(ctx context.Context) error {
	rows, err := d.store.ListStockAtOrBelowReorder(ctx)
	if err != nil {
		return fmt.Errorf("scanning stock levels: %w", err)
	}
	for _, lvl := range rows {
		d.pub.Publish(ctx, &model.Event{
			Source:     model.SourceDetector,
			EntityType: model.EntityProduct,
			EventType:  model.EventLowStock,
			EntityID:   lvl.ProductID,
			OrgID:      lvl.OrgID,
			NewValue:   lvl.OnHand,
			Snapshot:   lvl,
		})
	}
	return nil
}
