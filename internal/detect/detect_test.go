package detect

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/finchops/finch/internal/lock"
	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
	"github.com/finchops/finch/internal/store/memory"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// capturePublisher records published events synchronously.
type capturePublisher struct {
	mu     sync.Mutex
	events []*model.Event
}

func (p *capturePublisher) Publish(ctx context.Context, e *model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) all() []*model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.Event(nil), p.events...)
}

func fixedNow() time.Time {
	return time.Date(2026, 4, 15, 8, 0, 0, 0, time.UTC)
}

func TestOverdueInvoices_TransitionsAndPublishes(t *testing.T) {
	s := memory.New()
	s.AddInvoice(&model.Invoice{
		ID: "inv-1", OrgID: "org-1", Number: "INV-1001", Status: model.InvoiceStatusSent,
		Currency: "USD", BalanceDue: 1250, DueDate: fixedNow().AddDate(0, 0, -3),
	})
	s.AddInvoice(&model.Invoice{
		ID: "inv-2", OrgID: "org-1", Number: "INV-1002", Status: model.InvoiceStatusSent,
		DueDate: fixedNow().AddDate(0, 0, 5),
	})
	s.AddInvoice(&model.Invoice{
		ID: "inv-3", OrgID: "org-1", Number: "INV-1003", Status: model.InvoiceStatusPaid,
		DueDate: fixedNow().AddDate(0, 0, -10),
	})

	pub := &capturePublisher{}
	d := NewOverdueInvoices(s, pub, fixedNow)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	events := pub.all()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	e := events[0]
	if e.EntityID != "inv-1" || e.OldString() != model.InvoiceStatusSent || e.NewString() != model.InvoiceStatusOverdue {
		t.Errorf("unexpected event %+v", e)
	}
	if inv, _ := s.Invoice("inv-1"); inv.Status != model.InvoiceStatusOverdue {
		t.Errorf("inv-1 status = %s, want overdue", inv.Status)
	}
	if inv, _ := s.Invoice("inv-2"); inv.Status != model.InvoiceStatusSent {
		t.Errorf("inv-2 status = %s, want sent (not yet due)", inv.Status)
	}
}

func TestOverdueInvoices_SecondRunIsNoop(t *testing.T) {
	s := memory.New()
	s.AddInvoice(&model.Invoice{
		ID: "inv-1", OrgID: "org-1", Number: "INV-1001", Status: model.InvoiceStatusSent,
		DueDate: fixedNow().AddDate(0, 0, -1),
	})

	pub := &capturePublisher{}
	d := NewOverdueInvoices(s, pub, fixedNow)
	for i := 0; i < 2; i++ {
		if err := d.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	if n := len(pub.all()); n != 1 {
		t.Errorf("published %d events across two runs, want 1 (status guard)", n)
	}
}

// failingStore wraps a store and fails the Nth invoice status update.
type failingStore struct {
	store.Store
	failAfter int
	updates   int
}

func (f *failingStore) UpdateInvoiceStatus(ctx context.Context, id, status string) error {
	f.updates++
	if f.updates > f.failAfter {
		return errors.New("write failed")
	}
	return f.Store.UpdateInvoiceStatus(ctx, id, status)
}

func (f *failingStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	// Delegate rollback to the inner store but keep fn seeing the wrapper.
	return f.Store.RunInTransaction(ctx, func(store.Store) error { return fn(f) })
}

func TestOverdueInvoices_PartialFailureRollsBackAndPublishesNothing(t *testing.T) {
	s := memory.New()
	for _, id := range []string{"inv-1", "inv-2"} {
		s.AddInvoice(&model.Invoice{
			ID: id, OrgID: "org-1", Status: model.InvoiceStatusSent,
			DueDate: fixedNow().AddDate(0, 0, -2),
		})
	}

	pub := &capturePublisher{}
	d := NewOverdueInvoices(&failingStore{Store: s, failAfter: 1}, pub, fixedNow)
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("run succeeded, want error")
	}

	if n := len(pub.all()); n != 0 {
		t.Errorf("published %d events from a rolled-back run, want 0", n)
	}
	for _, id := range []string{"inv-1", "inv-2"} {
		if inv, _ := s.Invoice(id); inv.Status != model.InvoiceStatusSent {
			t.Errorf("%s status = %s, want sent after rollback", id, inv.Status)
		}
	}
}

func TestExpiringContracts_DayWhitelist(t *testing.T) {
	for _, tc := range []struct {
		days int
		want int
	}{
		{30, 1}, {14, 1}, {7, 1}, {3, 1}, {1, 1},
		{31, 0}, {15, 0}, {2, 0}, {0, 0}, {-1, 0}, {90, 0},
	} {
		s := memory.New()
		exp := fixedNow().AddDate(0, 0, tc.days)
		s.AddContract(&model.Contract{ID: "ct-1", OrgID: "org-1", Title: "Hosting", Active: true, ExpiresAt: &exp})

		pub := &capturePublisher{}
		if err := NewExpiringContracts(s, pub, fixedNow).Run(context.Background()); err != nil {
			t.Fatalf("days=%d: %v", tc.days, err)
		}
		if n := len(pub.all()); n != tc.want {
			t.Errorf("days=%d: published %d events, want %d", tc.days, n, tc.want)
		}
		if tc.want == 1 {
			if got := pub.all()[0].NewValue; got != tc.days {
				t.Errorf("days=%d: event NewValue = %v", tc.days, got)
			}
		}
	}
}

func TestExpiringContracts_SkipsInactiveAndNoExpiry(t *testing.T) {
	s := memory.New()
	exp := fixedNow().AddDate(0, 0, 7)
	s.AddContract(&model.Contract{ID: "ct-1", OrgID: "org-1", Active: false, ExpiresAt: &exp})
	s.AddContract(&model.Contract{ID: "ct-2", OrgID: "org-1", Active: true})

	pub := &capturePublisher{}
	if err := NewExpiringContracts(s, pub, fixedNow).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := len(pub.all()); n != 0 {
		t.Errorf("published %d events, want 0", n)
	}
}

func TestLowStock_LevelTriggered(t *testing.T) {
	s := memory.New()
	s.AddStock(&model.StockLevel{ProductID: "p-1", OrgID: "org-1", ProductName: "Widget", Location: "Main", OnHand: 3, ReorderPoint: 10})
	s.AddStock(&model.StockLevel{ProductID: "p-2", OrgID: "org-1", ProductName: "Gadget", Location: "Main", OnHand: 10, ReorderPoint: 10})
	s.AddStock(&model.StockLevel{ProductID: "p-3", OrgID: "org-1", ProductName: "Sprocket", Location: "Main", OnHand: 50, ReorderPoint: 10})

	pub := &capturePublisher{}
	d := NewLowStock(s, pub)

	// Level-triggered: each run re-fires for every qualifying row.
	for i := 0; i < 2; i++ {
		if err := d.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
	if n := len(pub.all()); n != 4 {
		t.Errorf("published %d events across two runs, want 4 (2 rows x 2 runs)", n)
	}
}

func TestCleanup_PurgesExpired(t *testing.T) {
	s := memory.New()
	s.AddAuthArtifact(&memory.AuthArtifact{ID: "tok-1", Kind: "reset_token", ExpiresAt: fixedNow().Add(-time.Hour)})
	s.AddAuthArtifact(&memory.AuthArtifact{ID: "tok-2", Kind: "login_link", ExpiresAt: fixedNow().Add(time.Hour)})

	d := NewCleanup(s, testLogger(), 0, fixedNow)
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// A second sweep finds nothing left to purge.
	n, err := s.PurgeExpiredAuthArtifacts(context.Background(), fixedNow())
	if err != nil || n != 0 {
		t.Errorf("second purge removed %d artifacts (err=%v), want 0", n, err)
	}
}

// countingDetector records how many times its body ran.
type countingDetector struct {
	name string
	mu   sync.Mutex
	runs int
}

func (d *countingDetector) Name() string { return d.name }
func (d *countingDetector) Run(ctx context.Context) error {
	d.mu.Lock()
	d.runs++
	d.mu.Unlock()
	return nil
}

func TestScheduler_ConcurrentInstancesSingleRun(t *testing.T) {
	// Two schedulers simulate two app instances sharing one lock store.
	locker := lock.NewMemory()
	det := &countingDetector{name: "detect.shared"}
	job := Job{Detector: det, Interval: time.Hour, MaxHold: time.Minute, MinHold: time.Minute}

	s1 := NewScheduler(locker, nil, testLogger())
	s2 := NewScheduler(locker, nil, testLogger())

	var wg sync.WaitGroup
	for _, s := range []*Scheduler{s1, s2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunOnce(context.Background(), job)
		}()
	}
	wg.Wait()

	if det.runs != 1 {
		t.Errorf("detector body ran %d times, want 1 (min-hold window)", det.runs)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	locker := lock.NewMemory()
	det := &countingDetector{name: "detect.tick"}
	s := NewScheduler(locker, []Job{{Detector: det, Interval: time.Hour, MaxHold: time.Minute}}, testLogger())

	s.Start()
	s.Stop()

	det.mu.Lock()
	defer det.mu.Unlock()
	if det.runs != 1 {
		t.Errorf("detector ran %d times, want 1 (immediate run on start)", det.runs)
	}
}
