// Package rules matches assignment events against configured rules and runs
// their actions.
//
// Rules are evaluated in registration order. Every applicable rule runs;
// a failing rule never stops its siblings. Within one rule, actions run in
// declared order and the first failure aborts the rest of that rule's
// actions only.
package rules

import (
	"errors"
	"time"

	"github.com/hookline/triage/internal/entity"
)

// ErrRuleNotFound is returned when a rule ID is not registered.
var ErrRuleNotFound = errors.New("rules: rule not found")

// Action type names.
const (
	ActionNotify          = "notify"
	ActionAutoStart       = "auto_start"
	ActionEscalate        = "escalate"
	ActionAssignReviewer  = "assign_reviewer"
	ActionCreateBranch    = "create_branch"
	ActionTriggerWorkflow = "trigger_workflow"
)

// Rule is one assignment-automation rule.
type Rule struct {
	entity.Entity

	// ID is the registry key; assigned on Add when empty.
	ID string `json:"id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// TeamID restricts the rule to one team when set.
	TeamID string `json:"team_id,omitempty"`

	// AssigneePattern is a case-insensitive regular expression matched
	// against the new assignee. It is tested against the user ID first; on
	// a miss the user's name, display name, and email are fetched and
	// tested.
	AssigneePattern string `json:"assignee_pattern,omitempty"`

	// Conditions are structural filters on the issue.
	Conditions Conditions `json:"conditions"`

	// When is an optional boolean expression over the flattened event.
	When string `json:"when,omitempty"`

	// Actions run in order when the rule matches.
	Actions []Action `json:"actions"`

	// Enabled rules participate in evaluation.
	Enabled bool `json:"enabled"`
}

// Conditions filter which issues a rule applies to. Empty fields match
// everything.
type Conditions struct {
	// Priority matches when the issue priority is in the list.
	Priority []int `json:"priority,omitempty"`

	// Labels matches when at least one listed label is on the issue.
	Labels []string `json:"labels,omitempty"`

	// StateType matches when the issue's workflow state type is in the list.
	StateType []string `json:"state_type,omitempty"`

	// TitlePattern is a case-insensitive regular expression matched
	// against the issue title.
	TitlePattern string `json:"title_pattern,omitempty"`
}

// Action is one step of a matched rule.
type Action struct {
	// Type selects the action semantics (notify, auto_start, ...).
	Type string `json:"type"`

	// Config carries per-action parameters.
	Config map[string]any `json:"config,omitempty"`

	// Delay defers execution via the scheduler when positive.
	Delay time.Duration `json:"delay,omitempty"`
}

// ConfigString returns a string config value, or def when absent.
func (a Action) ConfigString(key, def string) string {
	if v, ok := a.Config[key].(string); ok && v != "" {
		return v
	}
	return def
}
