package model

import "time"

// Slim domain records. Full entity persistence, DTO mapping and validation
// live outside the engine; these carry only the fields the detectors scan
// and the notification templates format.

// Invoice statuses the engine cares about.
const (
	InvoiceStatusDraft   = "draft"
	InvoiceStatusSent    = "sent"
	InvoiceStatusOverdue = "overdue"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusVoided  = "voided"
)

type Invoice struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	Number     string    `json:"number"`
	Status     string    `json:"status"`
	Currency   string    `json:"currency"`
	BalanceDue float64   `json:"balance_due"`
	DueDate    time.Time `json:"due_date"`
}

type Contract struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	Title     string     `json:"title"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// DaysUntilExpiry returns whole calendar days from today until the contract
// expires, or -1 when no expiry is set. The comparison is date-based: a
// contract expiring tomorrow returns 1 regardless of time of day.
func (c *Contract) DaysUntilExpiry(today time.Time) int {
	if c.ExpiresAt == nil {
		return -1
	}
	ty, tm, td := today.Date()
	ey, em, ed := c.ExpiresAt.Date()
	t0 := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(t1.Sub(t0).Hours() / 24)
}

type Product struct {
	ID           string `json:"id"`
	OrgID        string `json:"org_id"`
	Name         string `json:"name"`
	ReorderPoint int    `json:"reorder_point"`
}

// StockLevel is the on-hand quantity of one product at one location.
// Snapshot for product.low_stock events.
type StockLevel struct {
	ProductID    string `json:"product_id"`
	OrgID        string `json:"org_id"`
	ProductName  string `json:"product_name"`
	Location     string `json:"location"`
	OnHand       int    `json:"on_hand"`
	ReorderPoint int    `json:"reorder_point"`
}

type Quote struct {
	ID     string `json:"id"`
	OrgID  string `json:"org_id"`
	Number string `json:"number"`
	Status string `json:"status"`
}

type Project struct {
	ID     string `json:"id"`
	OrgID  string `json:"org_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}
