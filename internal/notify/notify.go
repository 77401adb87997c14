// Package notify fans qualifying events out as one notification per active
// organization member.
//
// Routing is a fixed finite table keyed by the event dispatch key; events
// outside the table produce nothing. Delivery is at-least-once: a condition
// re-signaled by a later event produces duplicate rows by design, there is
// no deduplication here.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finchops/finch/internal/idgen"
	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

// template renders a notification for a matched event. ok=false means the
// event matched the key but failed the template's extra gate.
type template func(e *model.Event) (title, body string, ok bool)

// dispatch is the routing table. Keys are entityType.eventType.
var dispatch = map[string]template{
	"invoice.status_changed": func(e *model.Event) (string, string, bool) {
		if e.NewString() != model.InvoiceStatusOverdue {
			return "", "", false
		}
		inv, ok := e.Snapshot.(*model.Invoice)
		if !ok {
			return "", "", false
		}
		return "Invoice Overdue",
			fmt.Sprintf("Invoice %s is overdue. Balance due: %s %.2f.", inv.Number, inv.Currency, inv.BalanceDue),
			true
	},
	"invoice.payment_received": func(e *model.Event) (string, string, bool) {
		inv, ok := e.Snapshot.(*model.Invoice)
		if !ok {
			return "", "", false
		}
		return "Payment Received",
			fmt.Sprintf("A payment was received for invoice %s.", inv.Number),
			true
	},
	"contract.expiring_soon": func(e *model.Event) (string, string, bool) {
		c, ok := e.Snapshot.(*model.Contract)
		if !ok {
			return "", "", false
		}
		return "Contract Expiring Soon",
			fmt.Sprintf("Contract %q expires in %v day(s).", c.Title, e.NewValue),
			true
	},
	"product.low_stock": func(e *model.Event) (string, string, bool) {
		s, ok := e.Snapshot.(*model.StockLevel)
		if !ok {
			return "", "", false
		}
		return "Low Stock Alert",
			fmt.Sprintf("Product %s at %s is low on stock: %d on hand, reorder point %d.",
				s.ProductName, s.Location, s.OnHand, s.ReorderPoint),
			true
	},
	"quote.status_changed": func(e *model.Event) (string, string, bool) {
		q, ok := e.Snapshot.(*model.Quote)
		if !ok {
			return "", "", false
		}
		return "Quote Status Changed",
			fmt.Sprintf("Quote %s status changed to %s.", q.Number, e.NewString()),
			true
	},
	"project.status_changed": func(e *model.Event) (string, string, bool) {
		p, ok := e.Snapshot.(*model.Project)
		if !ok {
			return "", "", false
		}
		return "Project Status Changed",
			fmt.Sprintf("Project %q status changed to %s.", p.Title, e.NewString()),
			true
	},
}

// FanOut is the bus subscriber that writes notification rows.
type FanOut struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

// New returns a fan-out subscriber writing through the given store.
func New(s store.Store, log *slog.Logger) *FanOut {
	return &FanOut{store: s, log: log, now: time.Now}
}

// Name implements bus.Subscriber.
func (f *FanOut) Name() string { return "notify" }

// Handle implements bus.Subscriber. One row per active member of the
// event's organization; inactive members receive nothing.
func (f *FanOut) Handle(ctx context.Context, e *model.Event) error {
	tmpl, ok := dispatch[e.Key()]
	if !ok {
		return nil
	}
	title, body, ok := tmpl(e)
	if !ok {
		return nil
	}

	members, err := f.store.ListMembers(ctx, e.OrgID)
	if err != nil {
		return fmt.Errorf("listing members of %s: %w", e.OrgID, err)
	}

	var failed int
	for _, m := range members {
		if !m.Active {
			continue
		}
		n := &model.Notification{
			ID:         idgen.MustGenerate(idgen.PrefixNotification),
			OrgID:      e.OrgID,
			UserID:     m.UserID,
			Title:      title,
			Body:       body,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			CreatedAt:  f.now().UTC(),
		}
		if err := f.store.CreateNotification(ctx, n); err != nil {
			failed++
			f.log.Error("notification write failed",
				"org_id", e.OrgID, "user_id", m.UserID, "key", e.Key(), "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d fan-out writes failed for %s", failed, e.Key())
	}
	return nil
}
