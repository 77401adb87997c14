package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Column lists used for SELECT statements.
const (
	invoiceColumns      = `id, org_id, number, status, currency, balance_due, due_date`
	contractColumns     = `id, org_id, title, active, expires_at`
	notificationColumns = `id, org_id, user_id, title, body, entity_type, entity_id, read, created_at`
	activityColumns     = `id, org_id, entity_type, entity_id, action, actor_id, changes, metadata, created_at`
	ruleColumns         = `id, org_id, name, trigger_entity_type, trigger_event_type, active, execution_order, condition, actions, created_at, updated_at`
)

// Invoices

func queryListInvoicesPastDue(ctx context.Context, db executor, asOf time.Time) ([]*model.Invoice, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE due_date < $1 AND status NOT IN ($2, $3, $4)
		ORDER BY id
		FOR UPDATE`,
		asOf, model.InvoiceStatusOverdue, model.InvoiceStatusPaid, model.InvoiceStatusVoided)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func queryUpdateInvoiceStatus(ctx context.Context, db executor, id, status string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE invoices SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	return oneRowAffected(res)
}

// Contracts

func queryListActiveContractsExpiring(ctx context.Context, db executor) ([]*model.Contract, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE active AND expires_at IS NOT NULL
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stock

func queryListStockAtOrBelowReorder(ctx context.Context, db executor) ([]*model.StockLevel, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.product_id, s.org_id, p.name, s.location, s.on_hand, p.reorder_point
		FROM stock_levels s
		JOIN products p ON p.id = s.product_id
		WHERE s.on_hand <= p.reorder_point
		ORDER BY s.product_id, s.location`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.StockLevel
	for rows.Next() {
		lvl, err := scanStockLevel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, rows.Err()
}

// Members

func queryListMembers(ctx context.Context, db executor, orgID string) ([]*model.Member, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT org_id, user_id, active FROM org_members
		WHERE org_id = $1
		ORDER BY user_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Active); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Notifications

func queryCreateNotification(ctx context.Context, db executor, n *model.Notification) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, org_id, user_id, title, body, entity_type, entity_id, read, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.OrgID, n.UserID, n.Title, n.Body,
		string(n.EntityType), n.EntityID, n.Read, n.CreatedAt)
	return err
}

func queryListNotifications(ctx context.Context, db executor, f store.NotificationFilter) ([]*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE org_id = $1`
	args := []any{f.OrgID}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.UnreadOnly {
		query += " AND NOT read"
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func queryMarkNotificationRead(ctx context.Context, db executor, orgID, id string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return err
	}
	return oneRowAffected(res)
}

// Activity log

func queryCreateActivity(ctx context.Context, db executor, e *model.ActivityEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO activity_log (
			id, org_id, entity_type, entity_id, action, actor_id, changes, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.OrgID, string(e.EntityType), e.EntityID, e.Action,
		nullString(e.ActorID), jsonbOrNull(e.Changes), jsonbOrNull(e.Metadata), e.CreatedAt)
	return err
}

func queryListActivity(ctx context.Context, db executor, f store.ActivityFilter) ([]*model.ActivityEntry, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_log WHERE org_id = $1`
	args := []any{f.OrgID}
	if f.EntityType != "" {
		args = append(args, string(f.EntityType))
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ActivityEntry
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func queryListActivitySince(ctx context.Context, db executor, since time.Time) ([]*model.ActivityEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activity_log
		WHERE created_at >= $1
		ORDER BY created_at, id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ActivityEntry
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Workflow rules

func queryCreateRule(ctx context.Context, db executor, r *model.WorkflowRule) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO workflow_rules (
			id, org_id, name, trigger_entity_type, trigger_event_type,
			active, execution_order, condition, actions, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.OrgID, r.Name, string(r.TriggerEntityType), string(r.TriggerEventType),
		r.Active, r.ExecutionOrder, jsonbOrNull(r.Condition), jsonbOrNull(r.Actions),
		r.CreatedAt, r.UpdatedAt)
	return err
}

func queryGetRule(ctx context.Context, db executor, orgID, id string) (*model.WorkflowRule, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM workflow_rules WHERE org_id = $1 AND id = $2`, orgID, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return r, err
}

func queryListRules(ctx context.Context, db executor, orgID string) ([]*model.WorkflowRule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM workflow_rules
		WHERE org_id = $1
		ORDER BY execution_order, created_at, id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func queryListActiveRules(ctx context.Context, db executor, orgID string, entityType model.EntityType, eventType model.EventType) ([]*model.WorkflowRule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM workflow_rules
		WHERE org_id = $1 AND active AND trigger_entity_type = $2 AND trigger_event_type = $3
		ORDER BY execution_order, created_at, id`,
		orgID, string(entityType), string(eventType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func collectRules(rows *sql.Rows) ([]*model.WorkflowRule, error) {
	var out []*model.WorkflowRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryUpdateRule(ctx context.Context, db executor, r *model.WorkflowRule) error {
	res, err := db.ExecContext(ctx, `
		UPDATE workflow_rules SET
			name = $3, trigger_entity_type = $4, trigger_event_type = $5,
			active = $6, execution_order = $7, condition = $8, actions = $9, updated_at = $10
		WHERE org_id = $1 AND id = $2`,
		r.OrgID, r.ID, r.Name, string(r.TriggerEntityType), string(r.TriggerEventType),
		r.Active, r.ExecutionOrder, jsonbOrNull(r.Condition), jsonbOrNull(r.Actions),
		r.UpdatedAt)
	if err != nil {
		return err
	}
	return oneRowAffected(res)
}

func queryDeleteRule(ctx context.Context, db executor, orgID, id string) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM workflow_rules WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return err
	}
	return oneRowAffected(res)
}

// Housekeeping

func queryPurgeExpiredAuthArtifacts(ctx context.Context, db executor, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM auth_artifacts WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func queryPurgeReadNotifications(ctx context.Context, db executor, olderThan time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM notifications WHERE read AND created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Distributed lock. A single conditional upsert takes the lock only when no
// live hold exists; the WHERE guard is what makes two concurrent acquirers
// resolve to one winner inside the database.

func queryTryAcquireLock(ctx context.Context, db executor, name string, maxHold, minHold time.Duration) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO job_locks (name, held_until, acquired_at, min_hold_secs)
		VALUES ($1, now() + ($2 * interval '1 second'), now(), $3)
		ON CONFLICT (name) DO UPDATE SET
			held_until = EXCLUDED.held_until,
			acquired_at = EXCLUDED.acquired_at,
			min_hold_secs = EXCLUDED.min_hold_secs
		WHERE job_locks.held_until < now()`,
		name, maxHold.Seconds(), minHold.Seconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func queryReleaseLock(ctx context.Context, db executor, name string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE job_locks SET
			held_until = LEAST(held_until, acquired_at + (min_hold_secs * interval '1 second'))
		WHERE name = $1`,
		name)
	return err
}

func oneRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
