package activity

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/finchops/finch/internal/authctx"
	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
	"github.com/finchops/finch/internal/store/memory"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func statusEvent() *model.Event {
	return &model.Event{
		Source:     model.SourceAPI,
		EntityType: model.EntityInvoice,
		EventType:  model.EventStatusChanged,
		EntityID:   "inv-1",
		OrgID:      "org-1",
		OldValue:   "sent",
		NewValue:   "overdue",
	}
}

func TestHandle_RecordsActorFromContext(t *testing.T) {
	s := memory.New()
	l := New(s, testLogger())

	ctx := authctx.WithUser(context.Background(), "user-7")
	if err := l.Handle(ctx, statusEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}

	entries, err := s.ListActivity(context.Background(), store.ActivityFilter{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.ActorID != "user-7" {
		t.Errorf("actor = %q, want user-7", e.ActorID)
	}
	if e.Changes["old"] != "sent" || e.Changes["new"] != "overdue" {
		t.Errorf("changes = %v", e.Changes)
	}
	if e.Metadata["source"] != model.SourceAPI {
		t.Errorf("metadata source = %q", e.Metadata["source"])
	}
}

func TestHandle_NoActorForDetectorEvents(t *testing.T) {
	s := memory.New()
	l := New(s, testLogger())

	e := statusEvent()
	e.Source = model.SourceDetector
	if err := l.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}

	entries, _ := s.ListActivity(context.Background(), store.ActivityFilter{OrgID: "org-1"})
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].ActorID != "" {
		t.Errorf("actor = %q, want empty for detector-triggered event", entries[0].ActorID)
	}
}

func TestHandle_NoChangesWhenValuesAbsent(t *testing.T) {
	s := memory.New()
	l := New(s, testLogger())

	e := statusEvent()
	e.OldValue = nil
	e.NewValue = nil
	if err := l.Handle(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}

	entries, _ := s.ListActivity(context.Background(), store.ActivityFilter{OrgID: "org-1"})
	if entries[0].Changes != nil {
		t.Errorf("changes = %v, want nil", entries[0].Changes)
	}
}

type failingActivityStore struct {
	store.Store
}

func (failingActivityStore) CreateActivity(ctx context.Context, e *model.ActivityEntry) error {
	return errors.New("db down")
}

func TestHandle_PersistenceFailureSurfacesError(t *testing.T) {
	l := New(failingActivityStore{memory.New()}, testLogger())
	if err := l.Handle(context.Background(), statusEvent()); err == nil {
		t.Error("handle returned nil, want error for the bus to log")
	}
}
