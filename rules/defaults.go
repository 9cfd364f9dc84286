package rules

import "time"

// DefaultRules returns the built-in rule set seeded into a fresh registry.
// Hosts can remove or reorder them through the registry API.
func DefaultRules() []*Rule {
	return []*Rule{
		{
			ID:   "rule_backlog_auto_start",
			Name: "Auto-start backlog issues on assignment",
			Conditions: Conditions{
				StateType: []string{"backlog", "unstarted"},
			},
			Actions: []Action{
				{Type: ActionAutoStart},
			},
			Enabled: true,
		},
		{
			ID:   "rule_urgent_escalation",
			Name: "Escalate urgent issues",
			Conditions: Conditions{
				Priority: []int{1},
			},
			Actions: []Action{
				{
					Type:   ActionEscalate,
					Config: map[string]any{"message": "Urgent issue assigned, escalating."},
				},
				{
					Type:   ActionAssignReviewer,
					Delay:  15 * time.Minute,
					Config: map[string]any{"reviewer": "on-call"},
				},
			},
			Enabled: true,
		},
		{
			ID:              "rule_autonomous_agent",
			Name:            "Kick off autonomous development for agent assignees",
			AssigneePattern: "^bot-",
			Conditions: Conditions{
				Labels: []string{"autonomous"},
			},
			Actions: []Action{
				{
					Type:   ActionCreateBranch,
					Config: map[string]any{"branch_prefix": "codegen"},
				},
				{
					Type:   ActionTriggerWorkflow,
					Config: map[string]any{"workflow": "autonomous-development"},
				},
			},
			Enabled: true,
		},
	}
}
