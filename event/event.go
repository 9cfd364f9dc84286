// Package event defines the webhook event model for triage.
//
// An inbound delivery is parsed into a WebhookEvent envelope. The entity
// payload stays as raw JSON on the envelope so queue stores can serialize
// it losslessly; Decode returns a tagged Payload variant so dispatch
// switches are exhaustive over the known entity types.
package event

import (
	"encoding/json"
	"time"
)

// Action is the change kind declared by the sender.
type Action string

// Action values.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Entity type names used by the issue tracker.
const (
	TypeIssue   = "Issue"
	TypeComment = "Comment"
	TypeProject = "Project"
)

// WebhookEvent is the parsed, immutable form of one webhook delivery.
// It is owned by the queue from enqueue until the handler completes.
type WebhookEvent struct {
	// Action is the change kind (create, update, delete).
	Action Action `json:"action"`

	// EntityType is the source-declared entity type ("Issue", "Comment", ...).
	EntityType string `json:"type"`

	// Data is the raw entity payload.
	Data json.RawMessage `json:"data"`

	// UpdatedFrom carries the prior values of changed fields on updates.
	UpdatedFrom json.RawMessage `json:"updatedFrom,omitempty"`

	// OrganizationID identifies the sending organization.
	OrganizationID string `json:"organizationId"`

	// WebhookTimestamp is the delivery timestamp in unix seconds.
	WebhookTimestamp int64 `json:"webhookTimestamp"`

	// WebhookID is the sender-assigned (or generated) delivery ID.
	WebhookID string `json:"webhookId"`
}

// Time returns the delivery timestamp as a time.Time.
func (e *WebhookEvent) Time() time.Time {
	return time.Unix(e.WebhookTimestamp, 0).UTC()
}

// EntityID returns the "id" field of the entity payload, or "" if absent.
func (e *WebhookEvent) EntityID() string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Data, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// ──────────────────────────────────────────────────
// Tracker entity shapes
// ──────────────────────────────────────────────────

// IssueState is a workflow state attached to an issue.
type IssueState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Label is an issue label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LabelConnection is the tracker's paginated label container.
type LabelConnection struct {
	Nodes []Label `json:"nodes"`
}

// Issue is the tracker's issue shape, reduced to the fields triage reads.
type Issue struct {
	ID          string          `json:"id"`
	Identifier  string          `json:"identifier"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	TeamID      string          `json:"teamId"`
	AssigneeID  string          `json:"assigneeId"`
	Priority    int             `json:"priority"`
	State       IssueState      `json:"state"`
	Labels      LabelConnection `json:"labels"`
}

// LabelNames returns the issue's label names.
func (i Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels.Nodes))
	for _, l := range i.Labels.Nodes {
		names = append(names, l.Name)
	}
	return names
}

// HasLabel reports whether the issue carries the named label.
func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Labels.Nodes {
		if l.Name == name {
			return true
		}
	}
	return false
}

// IssueDelta holds the prior values of changed issue fields on an update.
// Pointer fields distinguish "not changed" from "changed to empty".
type IssueDelta struct {
	AssigneeID *string     `json:"assigneeId,omitempty"`
	State      *IssueState `json:"state,omitempty"`
	Priority   *int        `json:"priority,omitempty"`
	Title      *string     `json:"title,omitempty"`
}

// Comment is the tracker's comment shape.
type Comment struct {
	ID      string `json:"id"`
	Body    string `json:"body"`
	IssueID string `json:"issueId"`
	UserID  string `json:"userId"`
}

// Project is the tracker's project shape.
type Project struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// ──────────────────────────────────────────────────
// Assignment events
// ──────────────────────────────────────────────────

// AssignmentEvent records that an issue's assignee changed. Derived from an
// Issue update whose assigneeId differs from its prior value; immutable once
// created.
type AssignmentEvent struct {
	IssueID          string    `json:"issue_id"`
	IssueIdentifier  string    `json:"issue_identifier"`
	TeamID           string    `json:"team_id"`
	PreviousAssignee string    `json:"previous_assignee,omitempty"`
	NewAssignee      string    `json:"new_assignee"`
	Timestamp        time.Time `json:"timestamp"`
	Issue            Issue     `json:"issue"`
}
