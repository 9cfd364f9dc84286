package upstream

import "github.com/hookline/triage/event"

// User is a tracker user identity.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Team is a tracker team.
type Team struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// WorkflowState is one state in a team's workflow.
type WorkflowState struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Position float64 `json:"position,omitempty"`
}

// Comment is a created issue comment.
type Comment struct {
	ID      string `json:"id"`
	Body    string `json:"body"`
	IssueID string `json:"issueId"`
}

// IssueCreate is the input for creating an issue.
type IssueCreate struct {
	TeamID      string `json:"teamId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assigneeId,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	StateID     string `json:"stateId,omitempty"`
}

// IssueUpdate is a partial issue mutation. Nil fields are left unchanged.
type IssueUpdate struct {
	Title      *string `json:"title,omitempty"`
	AssigneeID *string `json:"assigneeId,omitempty"`
	Priority   *int    `json:"priority,omitempty"`
	StateID    *string `json:"stateId,omitempty"`
}

// Issue aliases the shared tracker issue shape.
type Issue = event.Issue
