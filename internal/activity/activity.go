// Package activity records an audit trail entry for every published event.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finchops/finch/internal/authctx"
	"github.com/finchops/finch/internal/idgen"
	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

// Logger is the bus subscriber that turns events into activity entries.
// Entries are best-effort: a failed write is logged and dropped, the audit
// trail is an observability aid, not a source of truth.
type Logger struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

// New returns an activity logger writing through the given store.
func New(s store.Store, log *slog.Logger) *Logger {
	return &Logger{store: s, log: log, now: time.Now}
}

// Name implements bus.Subscriber.
func (l *Logger) Name() string { return "activity" }

// Handle implements bus.Subscriber. The acting user comes from the ambient
// context: present for request-triggered events, absent for detector runs.
func (l *Logger) Handle(ctx context.Context, e *model.Event) error {
	entry := &model.ActivityEntry{
		ID:         idgen.MustGenerate(idgen.PrefixActivity),
		OrgID:      e.OrgID,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     string(e.EventType),
		Metadata:   map[string]string{"source": e.Source},
		CreatedAt:  l.now().UTC(),
	}
	if actor, ok := authctx.UserID(ctx); ok {
		entry.ActorID = actor
	}
	if e.OldValue != nil || e.NewValue != nil {
		entry.Changes = map[string]any{}
		if e.OldValue != nil {
			entry.Changes["old"] = e.OldValue
		}
		if e.NewValue != nil {
			entry.Changes["new"] = e.NewValue
		}
	}

	if err := l.store.CreateActivity(ctx, entry); err != nil {
		return fmt.Errorf("recording activity for %s %s: %w", e.Key(), e.EntityID, err)
	}
	return nil
}
