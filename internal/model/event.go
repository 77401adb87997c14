package model

// EntityType identifies the kind of domain entity an event refers to.
type EntityType string

const (
	EntityInvoice  EntityType = "invoice"
	EntityContract EntityType = "contract"
	EntityProduct  EntityType = "product"
	EntityQuote    EntityType = "quote"
	EntityProject  EntityType = "project"
	EntityClient   EntityType = "client"
)

// String returns the string representation of the entity type.
func (t EntityType) String() string {
	return string(t)
}

// EventType names what happened to an entity.
type EventType string

const (
	EventStatusChanged   EventType = "status_changed"
	EventPaymentReceived EventType = "payment_received"
	EventExpiringSoon    EventType = "expiring_soon"
	EventLowStock        EventType = "low_stock"
	EventCreated         EventType = "created"
	EventUpdated         EventType = "updated"
	EventDeleted         EventType = "deleted"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Source labels recorded in activity metadata.
const (
	SourceAPI      = "api"
	SourceDetector = "detector"
)

// Event describes a single entity state change. It is the unit of dispatch:
// created once, handed to the bus, consumed by every subscriber within one
// dispatch cycle, and never persisted as a record of its own.
//
// OrgID is mandatory and bounds every downstream effect to one tenant.
// Snapshot is a read-only reference to the triggering domain object, used
// only for formatting messages; subscribers must not mutate it.
type Event struct {
	Source     string     `json:"source"`
	EntityType EntityType `json:"entity_type"`
	EventType  EventType  `json:"event_type"`
	EntityID   string     `json:"entity_id"`
	OrgID      string     `json:"org_id"`
	OldValue   any        `json:"old_value,omitempty"`
	NewValue   any        `json:"new_value,omitempty"`
	Snapshot   any        `json:"-"`
}

// Key returns the dispatch key used to route the event to notification
// templates and workflow rules, e.g. "invoice.status_changed".
func (e *Event) Key() string {
	return string(e.EntityType) + "." + string(e.EventType)
}

// OldString returns OldValue as a string, or "" when absent or non-string.
func (e *Event) OldString() string { return anyString(e.OldValue) }

// NewString returns NewValue as a string, or "" when absent or non-string.
func (e *Event) NewString() string { return anyString(e.NewValue) }

func anyString(v any) string {
	s, _ := v.(string)
	return s
}
