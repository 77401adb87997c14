// Package workflow evaluates tenant-configured automation rules against
// published events.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

// DefaultBudget bounds total rule processing per event. An action that
// overruns it is aborted and logged as a timeout; it is not retried within
// the same dispatch.
const DefaultBudget = 10 * time.Second

// ActionFunc executes one rule action. It must honor ctx cancellation.
type ActionFunc func(ctx context.Context, e *model.Event, a model.Action) error

// Evaluator is the bus subscriber that runs workflow rules.
//
// For each event it fetches the active rules bound to the event's trigger
// key within the event's organization, ordered by execution order, and runs
// them one at a time. A rule that fails is logged and skipped; the rules
// after it still run.
type Evaluator struct {
	store   store.Store
	log     *slog.Logger
	budget  time.Duration
	actions map[model.ActionType]ActionFunc
}

// New returns an evaluator with the given action executors. Executors for
// model.ActionWebhook, model.ActionNotifyUser and model.ActionLog are
// registered by the caller (see Actions in actions.go for the defaults).
func New(s store.Store, log *slog.Logger, actions map[model.ActionType]ActionFunc) *Evaluator {
	return &Evaluator{store: s, log: log, budget: DefaultBudget, actions: actions}
}

// WithBudget overrides the per-event time budget.
func (ev *Evaluator) WithBudget(d time.Duration) *Evaluator {
	if d > 0 {
		ev.budget = d
	}
	return ev
}

// Name implements bus.Subscriber.
func (ev *Evaluator) Name() string { return "workflow" }

// Handle implements bus.Subscriber.
func (ev *Evaluator) Handle(ctx context.Context, e *model.Event) error {
	rules, err := ev.store.ListActiveRules(ctx, e.OrgID, e.EntityType, e.EventType)
	if err != nil {
		return fmt.Errorf("fetching rules for %s/%s: %w", e.OrgID, e.Key(), err)
	}
	if len(rules) == 0 {
		return nil
	}

	evalCtx := buildContext(e)

	ctx, cancel := context.WithTimeout(ctx, ev.budget)
	defer cancel()

	for i, rule := range rules {
		if err := ctx.Err(); err != nil {
			ev.log.Error("rule budget exhausted, aborting remaining rules",
				"org_id", e.OrgID, "key", e.Key(), "rules_skipped", len(rules)-i)
			break
		}
		if err := ev.runRule(ctx, rule, e, evalCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				ev.log.Error("rule timed out",
					"rule_id", rule.ID, "org_id", e.OrgID, "key", e.Key())
				continue
			}
			ev.log.Error("rule failed",
				"rule_id", rule.ID, "org_id", e.OrgID, "key", e.Key(), "error", err)
		}
	}
	return nil
}

func (ev *Evaluator) runRule(ctx context.Context, rule *model.WorkflowRule, e *model.Event, evalCtx map[string]any) error {
	match, err := Matches(rule.Condition, evalCtx)
	if err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	if !match {
		return nil
	}
	for _, a := range rule.Actions {
		fn, ok := ev.actions[a.Type]
		if !ok {
			return fmt.Errorf("unknown action type %q", a.Type)
		}
		if err := fn(ctx, e, a); err != nil {
			return fmt.Errorf("action %s: %w", a.Type, err)
		}
	}
	return nil
}
