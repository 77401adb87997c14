package postgres

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"

	"github.com/finchops/finch/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanInvoice(row scannable) (*model.Invoice, error) {
	var inv model.Invoice
	err := row.Scan(&inv.ID, &inv.OrgID, &inv.Number, &inv.Status,
		&inv.Currency, &inv.BalanceDue, &inv.DueDate)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanContract(row scannable) (*model.Contract, error) {
	var c model.Contract
	var expiresAt sql.NullTime
	err := row.Scan(&c.ID, &c.OrgID, &c.Title, &c.Active, &expiresAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}

func scanStockLevel(row scannable) (*model.StockLevel, error) {
	var lvl model.StockLevel
	err := row.Scan(&lvl.ProductID, &lvl.OrgID, &lvl.ProductName,
		&lvl.Location, &lvl.OnHand, &lvl.ReorderPoint)
	if err != nil {
		return nil, err
	}
	return &lvl, nil
}

func scanNotification(row scannable) (*model.Notification, error) {
	var n model.Notification
	var entityType string
	err := row.Scan(&n.ID, &n.OrgID, &n.UserID, &n.Title, &n.Body,
		&entityType, &n.EntityID, &n.Read, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.EntityType = model.EntityType(entityType)
	return &n, nil
}

func scanActivity(row scannable) (*model.ActivityEntry, error) {
	var e model.ActivityEntry
	var (
		entityType string
		actorID    sql.NullString
		changes    []byte
		metadata   []byte
	)
	err := row.Scan(&e.ID, &e.OrgID, &entityType, &e.EntityID, &e.Action,
		&actorID, &changes, &metadata, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.EntityType = model.EntityType(entityType)
	e.ActorID = actorID.String
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return nil, err
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func scanRule(row scannable) (*model.WorkflowRule, error) {
	var r model.WorkflowRule
	var (
		entityType string
		eventType  string
		condition  []byte
		actions    []byte
	)
	err := row.Scan(&r.ID, &r.OrgID, &r.Name, &entityType, &eventType,
		&r.Active, &r.ExecutionOrder, &condition, &actions, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.TriggerEntityType = model.EntityType(entityType)
	r.TriggerEventType = model.EventType(eventType)
	if len(condition) > 0 {
		if err := json.Unmarshal(condition, &r.Condition); err != nil {
			return nil, err
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &r.Actions); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// jsonbValue defers JSON encoding until the driver asks for the value, so
// query helpers can pass Go maps and slices straight through to jsonb
// columns. A nil/empty value becomes SQL NULL.
type jsonbValue struct {
	v any
}

func (j jsonbValue) Value() (driver.Value, error) {
	if j.v == nil {
		return nil, nil
	}
	data, err := json.Marshal(j.v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

func jsonbOrNull(v any) driver.Valuer {
	return jsonbValue{v: v}
}
