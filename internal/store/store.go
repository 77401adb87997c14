package store

import (
	"context"
	"errors"
	"time"

	"github.com/finchops/finch/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	OrgID      string
	UserID     string
	UnreadOnly bool
	Limit      int
}

// ActivityFilter narrows ListActivity.
type ActivityFilter struct {
	OrgID      string
	EntityType model.EntityType
	EntityID   string
	Limit      int
}

// Store defines the persistence interface the engine consumes. Domain entity
// CRUD beyond what the detectors and subscribers need stays outside.
type Store interface {
	// Invoice scans and status transitions (overdue detector).
	ListInvoicesPastDue(ctx context.Context, asOf time.Time) ([]*model.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id, status string) error

	// Contract scans (expiring-contract detector).
	ListActiveContractsExpiring(ctx context.Context) ([]*model.Contract, error)

	// Stock scans (low-stock detector).
	ListStockAtOrBelowReorder(ctx context.Context) ([]*model.StockLevel, error)

	// Organization membership (notification fan-out).
	ListMembers(ctx context.Context, orgID string) ([]*model.Member, error)

	// Notifications
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, f NotificationFilter) ([]*model.Notification, error)
	MarkNotificationRead(ctx context.Context, orgID, id string) error

	// Activity log
	CreateActivity(ctx context.Context, entry *model.ActivityEntry) error
	ListActivity(ctx context.Context, f ActivityFilter) ([]*model.ActivityEntry, error)
	// ListActivitySince returns entries across all organizations created at
	// or after the cutoff, oldest first. Used by the archive exporter.
	ListActivitySince(ctx context.Context, since time.Time) ([]*model.ActivityEntry, error)

	// Workflow rules. ListActiveRules returns active rules matching the
	// trigger key ordered by (execution_order, created_at, id).
	CreateRule(ctx context.Context, r *model.WorkflowRule) error
	GetRule(ctx context.Context, orgID, id string) (*model.WorkflowRule, error)
	ListRules(ctx context.Context, orgID string) ([]*model.WorkflowRule, error)
	ListActiveRules(ctx context.Context, orgID string, entityType model.EntityType, eventType model.EventType) ([]*model.WorkflowRule, error)
	UpdateRule(ctx context.Context, r *model.WorkflowRule) error
	DeleteRule(ctx context.Context, orgID, id string) error

	// Housekeeping (cleanup detector). Each returns the number of rows removed.
	PurgeExpiredAuthArtifacts(ctx context.Context, now time.Time) (int64, error)
	PurgeReadNotifications(ctx context.Context, olderThan time.Time) (int64, error)

	// RunInTransaction executes fn against a transactional view of the
	// store; any error rolls back everything fn did.
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
