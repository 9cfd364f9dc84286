package event

import (
	"encoding/json"
	"fmt"
)

// Payload is the tagged variant decoded from a WebhookEvent's raw data.
// Exactly one concrete type exists per known entity type, plus
// UnknownPayload as the fallback carrying the raw bytes.
type Payload interface {
	payloadKind() string
}

// IssuePayload is the decoded payload of an Issue event.
type IssuePayload struct {
	Issue       Issue
	UpdatedFrom IssueDelta
}

// CommentPayload is the decoded payload of a Comment event.
type CommentPayload struct {
	Comment Comment
}

// ProjectPayload is the decoded payload of a Project event.
type ProjectPayload struct {
	Project Project
}

// UnknownPayload carries the raw data of an unrecognized entity type.
type UnknownPayload struct {
	EntityType string
	Raw        json.RawMessage
}

func (IssuePayload) payloadKind() string   { return TypeIssue }
func (CommentPayload) payloadKind() string { return TypeComment }
func (ProjectPayload) payloadKind() string { return TypeProject }
func (p UnknownPayload) payloadKind() string {
	return p.EntityType
}

// Decode returns the typed payload variant for this event.
func (e *WebhookEvent) Decode() (Payload, error) {
	switch e.EntityType {
	case TypeIssue:
		var p IssuePayload
		if err := json.Unmarshal(e.Data, &p.Issue); err != nil {
			return nil, fmt.Errorf("event: decode issue data: %w", err)
		}
		if len(e.UpdatedFrom) > 0 {
			if err := json.Unmarshal(e.UpdatedFrom, &p.UpdatedFrom); err != nil {
				return nil, fmt.Errorf("event: decode issue updatedFrom: %w", err)
			}
		}
		return p, nil

	case TypeComment:
		var p CommentPayload
		if err := json.Unmarshal(e.Data, &p.Comment); err != nil {
			return nil, fmt.Errorf("event: decode comment data: %w", err)
		}
		return p, nil

	case TypeProject:
		var p ProjectPayload
		if err := json.Unmarshal(e.Data, &p.Project); err != nil {
			return nil, fmt.Errorf("event: decode project data: %w", err)
		}
		return p, nil

	default:
		return UnknownPayload{EntityType: e.EntityType, Raw: e.Data}, nil
	}
}

// DeriveAssignment returns the AssignmentEvent carried by an Issue update
// whose assignee actually changed, or ok=false otherwise.
func DeriveAssignment(e *WebhookEvent) (AssignmentEvent, bool, error) {
	if e.EntityType != TypeIssue || e.Action != ActionUpdate {
		return AssignmentEvent{}, false, nil
	}

	payload, err := e.Decode()
	if err != nil {
		return AssignmentEvent{}, false, err
	}
	p, ok := payload.(IssuePayload)
	if !ok {
		return AssignmentEvent{}, false, nil
	}

	// updatedFrom.assigneeId absent means the assignee did not change.
	if p.UpdatedFrom.AssigneeID == nil {
		return AssignmentEvent{}, false, nil
	}
	if *p.UpdatedFrom.AssigneeID == p.Issue.AssigneeID {
		return AssignmentEvent{}, false, nil
	}

	return AssignmentEvent{
		IssueID:          p.Issue.ID,
		IssueIdentifier:  p.Issue.Identifier,
		TeamID:           p.Issue.TeamID,
		PreviousAssignee: *p.UpdatedFrom.AssigneeID,
		NewAssignee:      p.Issue.AssigneeID,
		Timestamp:        e.Time(),
		Issue:            p.Issue,
	}, true, nil
}

// StatusChange returns the prior and current state of an Issue update whose
// workflow state changed, or ok=false otherwise.
func StatusChange(e *WebhookEvent) (previous, current IssueState, ok bool) {
	if e.EntityType != TypeIssue || e.Action != ActionUpdate {
		return IssueState{}, IssueState{}, false
	}

	payload, err := e.Decode()
	if err != nil {
		return IssueState{}, IssueState{}, false
	}
	p, isIssue := payload.(IssuePayload)
	if !isIssue || p.UpdatedFrom.State == nil {
		return IssueState{}, IssueState{}, false
	}
	if p.UpdatedFrom.State.ID == p.Issue.State.ID {
		return IssueState{}, IssueState{}, false
	}

	return *p.UpdatedFrom.State, p.Issue.State, true
}
