package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store/memory"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// traceActions records the order rules fire in via a "log"-like executor.
type traceActions struct {
	mu    sync.Mutex
	fired []string
}

func (tr *traceActions) executors() map[model.ActionType]ActionFunc {
	return map[model.ActionType]ActionFunc{
		model.ActionLog: func(ctx context.Context, e *model.Event, a model.Action) error {
			tr.mu.Lock()
			defer tr.mu.Unlock()
			tr.fired = append(tr.fired, a.Params["message"])
			return nil
		},
		"explode": func(ctx context.Context, e *model.Event, a model.Action) error {
			return errors.New("action failed")
		},
		"sleep": func(ctx context.Context, e *model.Event, a model.Action) error {
			select {
			case <-time.After(time.Minute):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

func (tr *traceActions) order() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.fired...)
}

func logRule(id, orgID string, order int, active bool) *model.WorkflowRule {
	return &model.WorkflowRule{
		ID: id, OrgID: orgID, Name: id, Active: active,
		TriggerEntityType: model.EntityInvoice,
		TriggerEventType:  model.EventStatusChanged,
		ExecutionOrder:    order,
		Actions:           []model.Action{{Type: model.ActionLog, Params: map[string]string{"message": id}}},
	}
}

func invoiceEvent() *model.Event {
	return &model.Event{
		Source:     model.SourceAPI,
		EntityType: model.EntityInvoice,
		EventType:  model.EventStatusChanged,
		EntityID:   "inv-1",
		OrgID:      "org-1",
		OldValue:   "sent",
		NewValue:   "overdue",
		Snapshot:   &model.Invoice{ID: "inv-1", Number: "INV-1001", BalanceDue: 1250, Currency: "USD"},
	}
}

func TestHandle_RulesRunInExecutionOrder(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	// Inserted out of order on purpose.
	for _, r := range []*model.WorkflowRule{
		logRule("rule-b", "org-1", 20, true),
		logRule("rule-a", "org-1", 10, true),
		logRule("rule-c", "org-1", 30, true),
	} {
		if err := s.CreateRule(ctx, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	tr := &traceActions{}
	ev := New(s, testLogger(), tr.executors())
	if err := ev.Handle(ctx, invoiceEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}

	want := []string{"rule-a", "rule-b", "rule-c"}
	got := tr.order()
	if len(got) != len(want) {
		t.Fatalf("fired %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fired %v, want %v", got, want)
		}
	}
}

func TestHandle_TiesBreakByCreationOrder(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	for _, id := range []string{"rule-first", "rule-second", "rule-third"} {
		if err := s.CreateRule(ctx, logRule(id, "org-1", 5, true)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	tr := &traceActions{}
	if err := New(s, testLogger(), tr.executors()).Handle(ctx, invoiceEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := tr.order()
	want := []string{"rule-first", "rule-second", "rule-third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fired %v, want %v (stable creation order)", got, want)
		}
	}
}

func TestHandle_InactiveRulesNeverEvaluated(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	s.CreateRule(ctx, logRule("rule-live", "org-1", 1, true))
	s.CreateRule(ctx, logRule("rule-off", "org-1", 2, false))

	tr := &traceActions{}
	if err := New(s, testLogger(), tr.executors()).Handle(ctx, invoiceEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := tr.order(); len(got) != 1 || got[0] != "rule-live" {
		t.Errorf("fired %v, want only rule-live", got)
	}
}

func TestHandle_FailingRuleDoesNotBlockNext(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	bad := logRule("rule-bad", "org-1", 1, true)
	bad.Actions = []model.Action{{Type: "explode"}}
	s.CreateRule(ctx, bad)
	s.CreateRule(ctx, logRule("rule-after", "org-1", 2, true))

	tr := &traceActions{}
	if err := New(s, testLogger(), tr.executors()).Handle(ctx, invoiceEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := tr.order(); len(got) != 1 || got[0] != "rule-after" {
		t.Errorf("fired %v, want rule-after despite earlier failure", got)
	}
}

func TestHandle_UnknownActionIsolated(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	odd := logRule("rule-odd", "org-1", 1, true)
	odd.Actions = []model.Action{{Type: "no_such_action"}}
	s.CreateRule(ctx, odd)
	s.CreateRule(ctx, logRule("rule-after", "org-1", 2, true))

	tr := &traceActions{}
	if err := New(s, testLogger(), tr.executors()).Handle(ctx, invoiceEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := tr.order(); len(got) != 1 || got[0] != "rule-after" {
		t.Errorf("fired %v, want rule-after", got)
	}
}

func TestHandle_BudgetAbortsOverrunningAction(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	slow := logRule("rule-slow", "org-1", 1, true)
	slow.Actions = []model.Action{{Type: "sleep"}}
	s.CreateRule(ctx, slow)

	tr := &traceActions{}
	ev := New(s, testLogger(), tr.executors()).WithBudget(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- ev.Handle(ctx, invoiceEvent()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("budget did not abort the overrunning action")
	}
}

func TestHandle_ConditionGatesRule(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	gated := logRule("rule-gated", "org-1", 1, true)
	gated.Condition = model.Condition{Field: "new", Op: model.OpEq, Value: "overdue"}
	s.CreateRule(ctx, gated)

	skipped := logRule("rule-skipped", "org-1", 2, true)
	skipped.Condition = model.Condition{Field: "new", Op: model.OpEq, Value: "paid"}
	s.CreateRule(ctx, skipped)

	snapshot := logRule("rule-snapshot", "org-1", 3, true)
	snapshot.Condition = model.Condition{Field: "balance_due", Op: model.OpGt, Value: 1000}
	s.CreateRule(ctx, snapshot)

	tr := &traceActions{}
	if err := New(s, testLogger(), tr.executors()).Handle(ctx, invoiceEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := tr.order()
	want := []string{"rule-gated", "rule-snapshot"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("fired %v, want %v", got, want)
	}
}

func TestHandle_OtherTenantsRulesUntouched(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	s.CreateRule(ctx, logRule("rule-other-org", "org-2", 1, true))

	tr := &traceActions{}
	if err := New(s, testLogger(), tr.executors()).Handle(ctx, invoiceEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := tr.order(); len(got) != 0 {
		t.Errorf("fired %v for another tenant's event, want none", got)
	}
}
