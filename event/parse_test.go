package event_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hookline/triage/event"
)

var receivedAt = time.Unix(1700000500, 0).UTC()

const assignmentBody = `{
	"type": "Issue",
	"action": "update",
	"data": {
		"id": "I1",
		"identifier": "ENG-42",
		"title": "Fix flaky retry",
		"teamId": "team-1",
		"assigneeId": "bot-7",
		"priority": 2,
		"state": {"id": "st-1", "name": "Backlog", "type": "backlog"},
		"labels": {"nodes": [{"id": "l1", "name": "autonomous"}, {"id": "l2", "name": "ai-ready"}]}
	},
	"updatedFrom": {"assigneeId": "U1"},
	"organizationId": "org1",
	"webhookTimestamp": 1700000000,
	"webhookId": "w1"
}`

func TestParseWebhook(t *testing.T) {
	evt, err := event.ParseWebhook([]byte(assignmentBody), receivedAt)
	if err != nil {
		t.Fatal(err)
	}

	if evt.EntityType != event.TypeIssue {
		t.Errorf("EntityType = %q", evt.EntityType)
	}
	if evt.Action != event.ActionUpdate {
		t.Errorf("Action = %q", evt.Action)
	}
	if evt.OrganizationID != "org1" {
		t.Errorf("OrganizationID = %q", evt.OrganizationID)
	}
	if evt.WebhookTimestamp != 1700000000 {
		t.Errorf("WebhookTimestamp = %d", evt.WebhookTimestamp)
	}
	if evt.WebhookID != "w1" {
		t.Errorf("WebhookID = %q", evt.WebhookID)
	}
}

func TestParseWebhookDefaults(t *testing.T) {
	body := `{"type":"Comment","data":{"id":"c1"},"organizationId":"org1"}`

	evt, err := event.ParseWebhook([]byte(body), receivedAt)
	if err != nil {
		t.Fatal(err)
	}

	if evt.Action != event.ActionUpdate {
		t.Errorf("default action = %q, want update", evt.Action)
	}
	if evt.WebhookTimestamp != receivedAt.Unix() {
		t.Errorf("default timestamp = %d, want %d", evt.WebhookTimestamp, receivedAt.Unix())
	}
	if !strings.HasPrefix(evt.WebhookID, "wh_") {
		t.Errorf("generated webhook ID = %q, want wh_ prefix", evt.WebhookID)
	}
}

func TestParseWebhookInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"missing type", `{"data":{},"organizationId":"org1"}`},
		{"missing data", `{"type":"Issue","organizationId":"org1"}`},
		{"missing organizationId", `{"type":"Issue","data":{}}`},
		{"data not an object", `{"type":"Issue","data":"x","organizationId":"org1"}`},
		{"empty type", `{"type":"","data":{},"organizationId":"org1"}`},
		{"bad action", `{"type":"Issue","data":{},"organizationId":"org1","action":"merge"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := event.ParseWebhook([]byte(tt.body), receivedAt)
			if !errors.Is(err, event.ErrInvalidPayload) {
				t.Errorf("err = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestDecodeVariants(t *testing.T) {
	issue, err := event.ParseWebhook([]byte(assignmentBody), receivedAt)
	if err != nil {
		t.Fatal(err)
	}
	p, err := issue.Decode()
	if err != nil {
		t.Fatal(err)
	}
	ip, ok := p.(event.IssuePayload)
	if !ok {
		t.Fatalf("payload type %T, want IssuePayload", p)
	}
	if ip.Issue.Identifier != "ENG-42" {
		t.Errorf("identifier = %q", ip.Issue.Identifier)
	}
	if ip.UpdatedFrom.AssigneeID == nil || *ip.UpdatedFrom.AssigneeID != "U1" {
		t.Errorf("updatedFrom.assigneeId = %v", ip.UpdatedFrom.AssigneeID)
	}
	if !ip.Issue.HasLabel("autonomous") {
		t.Error("expected autonomous label")
	}

	unknown, err := event.ParseWebhook(
		[]byte(`{"type":"Cycle","data":{"id":"cy1"},"organizationId":"org1"}`), receivedAt)
	if err != nil {
		t.Fatal(err)
	}
	p, err = unknown.Decode()
	if err != nil {
		t.Fatal(err)
	}
	up, ok := p.(event.UnknownPayload)
	if !ok {
		t.Fatalf("payload type %T, want UnknownPayload", p)
	}
	if up.EntityType != "Cycle" {
		t.Errorf("EntityType = %q", up.EntityType)
	}
}

func TestDeriveAssignment(t *testing.T) {
	evt, err := event.ParseWebhook([]byte(assignmentBody), receivedAt)
	if err != nil {
		t.Fatal(err)
	}

	ae, ok, err := event.DeriveAssignment(evt)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected an assignment event")
	}
	if ae.NewAssignee != "bot-7" {
		t.Errorf("NewAssignee = %q", ae.NewAssignee)
	}
	if ae.PreviousAssignee != "U1" {
		t.Errorf("PreviousAssignee = %q", ae.PreviousAssignee)
	}
	if ae.IssueIdentifier != "ENG-42" {
		t.Errorf("IssueIdentifier = %q", ae.IssueIdentifier)
	}
	if !ae.Timestamp.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("Timestamp = %v", ae.Timestamp)
	}
}

func TestDeriveAssignmentNoChange(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			"no updatedFrom",
			`{"type":"Issue","action":"update","data":{"id":"I1","assigneeId":"U1"},"organizationId":"org1"}`,
		},
		{
			"assignee unchanged",
			`{"type":"Issue","action":"update","data":{"id":"I1","assigneeId":"U1"},"updatedFrom":{"assigneeId":"U1"},"organizationId":"org1"}`,
		},
		{
			"status-only change",
			`{"type":"Issue","action":"update","data":{"id":"I1","assigneeId":"U1","state":{"id":"s2","type":"started"}},"updatedFrom":{"state":{"id":"s1","type":"backlog"}},"organizationId":"org1"}`,
		},
		{
			"create action",
			`{"type":"Issue","action":"create","data":{"id":"I1","assigneeId":"U1"},"organizationId":"org1"}`,
		},
		{
			"comment entity",
			`{"type":"Comment","action":"update","data":{"id":"c1"},"organizationId":"org1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := event.ParseWebhook([]byte(tt.body), receivedAt)
			if err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := event.DeriveAssignment(evt); ok {
				t.Error("unexpected assignment event")
			}
		})
	}
}

func TestStatusChange(t *testing.T) {
	body := `{"type":"Issue","action":"update","data":{"id":"I1","state":{"id":"s2","name":"In Progress","type":"started"}},"updatedFrom":{"state":{"id":"s1","name":"Backlog","type":"backlog"}},"organizationId":"org1"}`

	evt, err := event.ParseWebhook([]byte(body), receivedAt)
	if err != nil {
		t.Fatal(err)
	}

	prev, curr, ok := event.StatusChange(evt)
	if !ok {
		t.Fatal("expected a status change")
	}
	if prev.Type != "backlog" || curr.Type != "started" {
		t.Errorf("prev=%q curr=%q", prev.Type, curr.Type)
	}
}
