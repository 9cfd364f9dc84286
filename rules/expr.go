package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/Knetic/govaluate"

	"github.com/hookline/triage/event"
)

// exprCache holds compiled When expressions keyed by source text.
var exprCache sync.Map // string -> *govaluate.EvaluableExpression

// compileExpr returns the compiled expression for src, compiling once.
func compileExpr(src string) (*govaluate.EvaluableExpression, error) {
	if cached, ok := exprCache.Load(src); ok {
		return cached.(*govaluate.EvaluableExpression), nil
	}

	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return nil, fmt.Errorf("rules: compile expression: %w", err)
	}
	exprCache.Store(src, expr)
	return expr, nil
}

// evalWhen evaluates a rule's When expression against the flattened event.
// Expressions reference fields with underscore-joined paths, for example
// issue_priority, issue_state_type, or new_assignee.
func evalWhen(src string, evt event.AssignmentEvent) (bool, error) {
	expr, err := compileExpr(src)
	if err != nil {
		return false, err
	}

	result, err := expr.Evaluate(eventParams(evt))
	if err != nil {
		return false, fmt.Errorf("rules: evaluate expression: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("rules: expression result is %T, want bool", result)
	}
	return matched, nil
}

// eventParams flattens an assignment event into expression parameters.
func eventParams(evt event.AssignmentEvent) map[string]any {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil
	}

	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil
	}

	params := make(map[string]any)
	flatten("", tree, params)
	return params
}

// flatten walks a decoded JSON tree, joining nested keys with underscores.
// Array elements get their index as a path segment.
func flatten(prefix string, value any, out map[string]any) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			flatten(joinKey(prefix, key), child, out)
		}
	case []any:
		out[joinKey(prefix, "count")] = float64(len(v))
		for i, child := range v {
			flatten(joinKey(prefix, strconv.Itoa(i)), child, out)
		}
	default:
		out[prefix] = v
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}
