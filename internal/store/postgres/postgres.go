// Package postgres implements the store.Store interface backed by PostgreSQL.
// It also backs the distributed lock: the locks table is the cluster-shared
// key/TTL store the detector scheduler coordinates through.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/finchops/finch/internal/lock"
	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store and lock.Locker.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time checks.
var (
	_ store.Store = (*PostgresStore)(nil)
	_ lock.Locker = (*PostgresStore)(nil)
)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an existing connection without running migrations.
// Tests use this with sqlmock.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Store interface, delegating to the query layer.

func (s *PostgresStore) ListInvoicesPastDue(ctx context.Context, asOf time.Time) ([]*model.Invoice, error) {
	return queryListInvoicesPastDue(ctx, s.db, asOf)
}

func (s *PostgresStore) UpdateInvoiceStatus(ctx context.Context, id, status string) error {
	return queryUpdateInvoiceStatus(ctx, s.db, id, status)
}

func (s *PostgresStore) ListActiveContractsExpiring(ctx context.Context) ([]*model.Contract, error) {
	return queryListActiveContractsExpiring(ctx, s.db)
}

func (s *PostgresStore) ListStockAtOrBelowReorder(ctx context.Context) ([]*model.StockLevel, error) {
	return queryListStockAtOrBelowReorder(ctx, s.db)
}

func (s *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]*model.Member, error) {
	return queryListMembers(ctx, s.db, orgID)
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	return queryCreateNotification(ctx, s.db, n)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, f store.NotificationFilter) ([]*model.Notification, error) {
	return queryListNotifications(ctx, s.db, f)
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, orgID, id string) error {
	return queryMarkNotificationRead(ctx, s.db, orgID, id)
}

func (s *PostgresStore) CreateActivity(ctx context.Context, entry *model.ActivityEntry) error {
	return queryCreateActivity(ctx, s.db, entry)
}

func (s *PostgresStore) ListActivity(ctx context.Context, f store.ActivityFilter) ([]*model.ActivityEntry, error) {
	return queryListActivity(ctx, s.db, f)
}

func (s *PostgresStore) ListActivitySince(ctx context.Context, since time.Time) ([]*model.ActivityEntry, error) {
	return queryListActivitySince(ctx, s.db, since)
}

func (s *PostgresStore) CreateRule(ctx context.Context, r *model.WorkflowRule) error {
	return queryCreateRule(ctx, s.db, r)
}

func (s *PostgresStore) GetRule(ctx context.Context, orgID, id string) (*model.WorkflowRule, error) {
	return queryGetRule(ctx, s.db, orgID, id)
}

func (s *PostgresStore) ListRules(ctx context.Context, orgID string) ([]*model.WorkflowRule, error) {
	return queryListRules(ctx, s.db, orgID)
}

func (s *PostgresStore) ListActiveRules(ctx context.Context, orgID string, entityType model.EntityType, eventType model.EventType) ([]*model.WorkflowRule, error) {
	return queryListActiveRules(ctx, s.db, orgID, entityType, eventType)
}

func (s *PostgresStore) UpdateRule(ctx context.Context, r *model.WorkflowRule) error {
	return queryUpdateRule(ctx, s.db, r)
}

func (s *PostgresStore) DeleteRule(ctx context.Context, orgID, id string) error {
	return queryDeleteRule(ctx, s.db, orgID, id)
}

func (s *PostgresStore) PurgeExpiredAuthArtifacts(ctx context.Context, now time.Time) (int64, error) {
	return queryPurgeExpiredAuthArtifacts(ctx, s.db, now)
}

func (s *PostgresStore) PurgeReadNotifications(ctx context.Context, olderThan time.Time) (int64, error) {
	return queryPurgeReadNotifications(ctx, s.db, olderThan)
}

// TryAcquire implements lock.Locker with a single conditional upsert: the
// database enforces the at-most-one-holder invariant, not process state.
func (s *PostgresStore) TryAcquire(ctx context.Context, name string, maxHold, minHold time.Duration) (bool, error) {
	return queryTryAcquireLock(ctx, s.db, name, maxHold, minHold)
}

// Release implements lock.Locker, shortening the hold to its minimum window.
func (s *PostgresStore) Release(ctx context.Context, name string) error {
	return queryReleaseLock(ctx, s.db, name)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) ListInvoicesPastDue(ctx context.Context, asOf time.Time) ([]*model.Invoice, error) {
	return queryListInvoicesPastDue(ctx, s.tx, asOf)
}

func (s *txStore) UpdateInvoiceStatus(ctx context.Context, id, status string) error {
	return queryUpdateInvoiceStatus(ctx, s.tx, id, status)
}

func (s *txStore) ListActiveContractsExpiring(ctx context.Context) ([]*model.Contract, error) {
	return queryListActiveContractsExpiring(ctx, s.tx)
}

func (s *txStore) ListStockAtOrBelowReorder(ctx context.Context) ([]*model.StockLevel, error) {
	return queryListStockAtOrBelowReorder(ctx, s.tx)
}

func (s *txStore) ListMembers(ctx context.Context, orgID string) ([]*model.Member, error) {
	return queryListMembers(ctx, s.tx, orgID)
}

func (s *txStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	return queryCreateNotification(ctx, s.tx, n)
}

func (s *txStore) ListNotifications(ctx context.Context, f store.NotificationFilter) ([]*model.Notification, error) {
	return queryListNotifications(ctx, s.tx, f)
}

func (s *txStore) MarkNotificationRead(ctx context.Context, orgID, id string) error {
	return queryMarkNotificationRead(ctx, s.tx, orgID, id)
}

func (s *txStore) CreateActivity(ctx context.Context, entry *model.ActivityEntry) error {
	return queryCreateActivity(ctx, s.tx, entry)
}

func (s *txStore) ListActivity(ctx context.Context, f store.ActivityFilter) ([]*model.ActivityEntry, error) {
	return queryListActivity(ctx, s.tx, f)
}

func (s *txStore) ListActivitySince(ctx context.Context, since time.Time) ([]*model.ActivityEntry, error) {
	return queryListActivitySince(ctx, s.tx, since)
}

func (s *txStore) CreateRule(ctx context.Context, r *model.WorkflowRule) error {
	return queryCreateRule(ctx, s.tx, r)
}

func (s *txStore) GetRule(ctx context.Context, orgID, id string) (*model.WorkflowRule, error) {
	return queryGetRule(ctx, s.tx, orgID, id)
}

func (s *txStore) ListRules(ctx context.Context, orgID string) ([]*model.WorkflowRule, error) {
	return queryListRules(ctx, s.tx, orgID)
}

func (s *txStore) ListActiveRules(ctx context.Context, orgID string, entityType model.EntityType, eventType model.EventType) ([]*model.WorkflowRule, error) {
	return queryListActiveRules(ctx, s.tx, orgID, entityType, eventType)
}

func (s *txStore) UpdateRule(ctx context.Context, r *model.WorkflowRule) error {
	return queryUpdateRule(ctx, s.tx, r)
}

func (s *txStore) DeleteRule(ctx context.Context, orgID, id string) error {
	return queryDeleteRule(ctx, s.tx, orgID, id)
}

func (s *txStore) PurgeExpiredAuthArtifacts(ctx context.Context, now time.Time) (int64, error) {
	return queryPurgeExpiredAuthArtifacts(ctx, s.tx, now)
}

func (s *txStore) PurgeReadNotifications(ctx context.Context, olderThan time.Time) (int64, error) {
	return queryPurgeReadNotifications(ctx, s.tx, olderThan)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
