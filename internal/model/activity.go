package model

import "time"

// ActivityEntry is one append-only audit trail record. Entries are created
// by the activity subscriber and never mutated or deleted by the engine.
//
// ActorID is empty when the triggering context had no authenticated user,
// e.g. detector-triggered events. It is never defaulted to a placeholder.
type ActivityEntry struct {
	ID         string            `json:"id"`
	OrgID      string            `json:"org_id"`
	EntityType EntityType        `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Action     string            `json:"action"`
	ActorID    string            `json:"actor_id,omitempty"`
	Changes    map[string]any    `json:"changes,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Notification is one row delivered to one user. Rows are append-only until
// marked read through the HTTP API; the engine itself never updates them.
type Notification struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	UserID     string     `json:"user_id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Read       bool       `json:"read"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Member is one user's membership in an organization. Notification fan-out
// addresses active members only.
type Member struct {
	OrgID  string `json:"org_id"`
	UserID string `json:"user_id"`
	Active bool   `json:"active"`
}
