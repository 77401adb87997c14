package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/finchops/finch/internal/model"
)

// buildContext flattens an event into the map the condition model evaluates
// against: "old" and "new" plus the snapshot's JSON fields by name.
func buildContext(e *model.Event) map[string]any {
	ctx := map[string]any{}
	if e.Snapshot != nil {
		if data, err := json.Marshal(e.Snapshot); err == nil {
			_ = json.Unmarshal(data, &ctx)
		}
	}
	// Old/new shadow snapshot fields of the same name.
	if e.OldValue != nil {
		ctx["old"] = e.OldValue
	}
	if e.NewValue != nil {
		ctx["new"] = e.NewValue
	}
	return ctx
}

// Matches evaluates a single condition against the event context. An empty
// condition always matches. A condition addressing a field absent from the
// context matches nothing.
func Matches(c model.Condition, evalCtx map[string]any) (bool, error) {
	if c.Empty() {
		return true, nil
	}
	if !c.Op.IsValid() {
		return false, fmt.Errorf("invalid operator %q", c.Op)
	}
	actual, ok := evalCtx[c.Field]
	if !ok {
		return false, nil
	}

	switch c.Op {
	case model.OpEq, model.OpNe:
		eq := looseEqual(actual, c.Value)
		if c.Op == model.OpNe {
			return !eq, nil
		}
		return eq, nil
	case model.OpContains:
		s, ok1 := actual.(string)
		sub, ok2 := c.Value.(string)
		if !ok1 || !ok2 {
			return false, fmt.Errorf("contains requires strings, got %T and %T", actual, c.Value)
		}
		return strings.Contains(s, sub), nil
	default:
		a, okA := toFloat(actual)
		b, okB := toFloat(c.Value)
		if !okA || !okB {
			return false, fmt.Errorf("%s requires numbers, got %T and %T", c.Op, actual, c.Value)
		}
		switch c.Op {
		case model.OpGt:
			return a > b, nil
		case model.OpGte:
			return a >= b, nil
		case model.OpLt:
			return a < b, nil
		case model.OpLte:
			return a <= b, nil
		}
	}
	return false, fmt.Errorf("unhandled operator %q", c.Op)
}

// looseEqual compares across the numeric representations JSON round-trips
// produce (int vs float64) and otherwise falls back to string forms.
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
