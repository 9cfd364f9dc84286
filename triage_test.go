package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hookline/triage/observe"
	"github.com/hookline/triage/signature"
	"github.com/hookline/triage/store/memory"
)

const testSecret = "whsec_roottest"

func newTestTriage(t *testing.T, opts ...Option) *Triage {
	t.Helper()
	base := []Option{
		WithStore(memory.New()),
		WithSigningSecret(testSecret),
		WithPollInterval(10 * time.Millisecond),
	}
	tr, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func signedRequest(body []byte) *http.Request {
	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Webhook-Signature", signature.Sign(body, testSecret, ts))
	return req
}

func TestNewValidation(t *testing.T) {
	if _, err := New(WithSigningSecret("s")); !errors.Is(err, ErrNoStore) {
		t.Fatalf("New without store = %v, want ErrNoStore", err)
	}
	if _, err := New(WithStore(memory.New())); !errors.Is(err, ErrNoSigningSecret) {
		t.Fatalf("New without secret = %v, want ErrNoSigningSecret", err)
	}
}

func TestDefaultRulesSeeded(t *testing.T) {
	tr := newTestTriage(t)
	if tr.Rules().Len() != 3 {
		t.Fatalf("seeded rules = %d, want 3", tr.Rules().Len())
	}

	tr = newTestTriage(t, WithoutDefaultRules())
	if tr.Rules().Len() != 0 {
		t.Fatalf("rules = %d with WithoutDefaultRules, want 0", tr.Rules().Len())
	}
}

// TestAssignmentFlow drives a signed assignment webhook through the gateway,
// queue, and rule engine, and checks the autonomous-agent rule fires.
func TestAssignmentFlow(t *testing.T) {
	tr := newTestTriage(t)

	assigned := make(chan observe.Observation, 1)
	branched := make(chan observe.Observation, 1)
	workflow := make(chan observe.Observation, 1)
	tr.Bus().Subscribe(observe.KindIssueAssigned, func(o observe.Observation) {
		select {
		case assigned <- o:
		default:
		}
	})
	tr.Bus().Subscribe(observe.KindBranchCreationRequest, func(o observe.Observation) {
		select {
		case branched <- o:
		default:
		}
	})
	tr.Bus().Subscribe(observe.KindWorkflowTriggered, func(o observe.Observation) {
		select {
		case workflow <- o:
		default:
		}
	})

	ctx := context.Background()
	tr.Start(ctx)
	defer tr.Stop(ctx)

	body, _ := json.Marshal(map[string]any{
		"action":           "update",
		"type":             "Issue",
		"organizationId":   "org1",
		"webhookTimestamp": time.Now().Unix(),
		"webhookId":        "w1",
		"data": map[string]any{
			"id":         "i1",
			"identifier": "ENG-42",
			"title":      "Implement autonomous fix",
			"teamId":     "team1",
			"assigneeId": "bot-7",
			"priority":   3,
			"state":      map[string]any{"id": "st1", "name": "In Progress", "type": "started"},
			"labels": map[string]any{
				"nodes": []map[string]any{
					{"id": "l1", "name": "autonomous"},
				},
			},
		},
		"updatedFrom": map[string]any{"assigneeId": "U1"},
	})

	rec := httptest.NewRecorder()
	tr.Gateway().ServeHTTP(rec, signedRequest(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("gateway status = %d; body: %s", rec.Code, rec.Body.String())
	}

	waitFor := func(name string, ch chan observe.Observation) observe.Observation {
		t.Helper()
		select {
		case o := <-ch:
			return o
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s observation", name)
			return observe.Observation{}
		}
	}

	o := waitFor("issue-assigned", assigned)
	if o.Fields["new_assignee"] != "bot-7" || o.Fields["previous_assignee"] != "U1" {
		t.Fatalf("assignment fields = %v", o.Fields)
	}

	o = waitFor("branch-creation-requested", branched)
	if o.Fields["branch"] != "codegen/eng-42" {
		t.Fatalf("branch = %v, want codegen/eng-42", o.Fields["branch"])
	}

	o = waitFor("workflow-triggered", workflow)
	if o.Fields["workflow"] != "autonomous-development" {
		t.Fatalf("workflow = %v, want autonomous-development", o.Fields["workflow"])
	}

	// The job completed and left the queue.
	deadline := time.Now().Add(3 * time.Second)
	for {
		stats, err := tr.Store().QueueStats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.Completed == 1 && stats.Waiting == 0 && stats.Active == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue never drained: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
