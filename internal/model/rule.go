package model

import "time"

// ConditionOp is a comparison operator in a rule condition.
type ConditionOp string

const (
	OpEq       ConditionOp = "eq"
	OpNe       ConditionOp = "ne"
	OpGt       ConditionOp = "gt"
	OpGte      ConditionOp = "gte"
	OpLt       ConditionOp = "lt"
	OpLte      ConditionOp = "lte"
	OpContains ConditionOp = "contains"
)

// IsValid checks whether the operator is a known value.
func (op ConditionOp) IsValid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains:
		return true
	}
	return false
}

// Condition is a single comparison evaluated against the event context.
// Field addresses "old", "new", or a snapshot field name. A zero Condition
// (empty Field) always matches.
type Condition struct {
	Field string      `json:"field,omitempty"`
	Op    ConditionOp `json:"op,omitempty"`
	Value any         `json:"value,omitempty"`
}

// Empty reports whether the condition is unset and therefore always true.
func (c Condition) Empty() bool {
	return c.Field == ""
}

// ActionType names a rule action executor.
type ActionType string

const (
	ActionWebhook    ActionType = "webhook"
	ActionNotifyUser ActionType = "notify_user"
	ActionLog        ActionType = "log"
)

// Action is one step a matched rule executes. Params are interpreted by the
// executor registered for Type.
type Action struct {
	Type   ActionType        `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

// WorkflowRule is a tenant-defined automation rule. Rules are owned and
// mutated by tenant admins; the engine only reads them. Several rules may
// share one trigger key; they are totally ordered by ExecutionOrder
// ascending, ties broken by creation order.
type WorkflowRule struct {
	ID                string     `json:"id"`
	OrgID             string     `json:"org_id"`
	Name              string     `json:"name"`
	TriggerEntityType EntityType `json:"trigger_entity_type"`
	TriggerEventType  EventType  `json:"trigger_event_type"`
	Active            bool       `json:"active"`
	ExecutionOrder    int        `json:"execution_order"`
	Condition         Condition  `json:"condition"`
	Actions           []Action   `json:"actions"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TriggerKey returns the dispatch key this rule is bound to.
func (r *WorkflowRule) TriggerKey() string {
	return string(r.TriggerEntityType) + "." + string(r.TriggerEventType)
}
