package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hookline/triage/dedup"
	"github.com/hookline/triage/observe"
	"github.com/hookline/triage/signature"
	"github.com/hookline/triage/store/memory"
)

const testSecret = "whsec_test"

func newTestHandler(t *testing.T) (*Handler, *memory.Store, *observe.Bus) {
	t.Helper()
	st := memory.New()
	bus := observe.NewBus(nil)
	h := NewHandler(
		Config{},
		signature.NewVerifier(testSecret, 0),
		dedup.New(st, 0),
		st,
		nil,
		bus,
		nil,
		nil,
	)
	return h, st, bus
}

func webhookBody(webhookID string) []byte {
	body := map[string]any{
		"action":           "update",
		"type":             "Issue",
		"organizationId":   "org1",
		"webhookTimestamp": 1700000000,
		"webhookId":        webhookID,
		"data": map[string]any{
			"id":         "i1",
			"identifier": "ENG-42",
			"title":      "Fix login flow",
			"teamId":     "team1",
			"assigneeId": "u2",
		},
	}
	raw, _ := json.Marshal(body)
	return raw
}

// signedRequest builds a POST with a valid signature over the body.
func signedRequest(body []byte) *http.Request {
	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(DefaultTimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(DefaultSignatureHeader, signature.Sign(body, testSecret, ts))
	return req
}

func TestWebhookAccepted(t *testing.T) {
	h, st, _ := newTestHandler(t)
	routes := h.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, signedRequest(webhookBody("w1")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "accepted" || resp["eventId"] != "w1" {
		t.Fatalf("response = %v", resp)
	}

	stats, err := st.QueueStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1", stats.Waiting)
	}
}

func TestWebhookDuplicateRejected(t *testing.T) {
	h, st, bus := newTestHandler(t)
	routes := h.Routes()

	var dupes int
	bus.Subscribe(observe.KindDuplicateEvent, func(observe.Observation) { dupes++ })

	body := webhookBody("w1")
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, signedRequest(body))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	if dupes != 1 {
		t.Fatalf("duplicate observations = %d, want 1", dupes)
	}
	stats, err := st.QueueStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1 (duplicate must not enqueue)", stats.Waiting)
	}
}

func TestWebhookSignatureRejection(t *testing.T) {
	h, st, bus := newTestHandler(t)
	routes := h.Routes()

	var violations int
	bus.Subscribe(observe.KindSecurityViolation, func(observe.Observation) { violations++ })

	body := webhookBody("w1")
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	tests := []struct {
		name  string
		sig   string
		tsHdr string
	}{
		{"missing signature", "", ts},
		{"garbage signature", "deadbeef", ts},
		{"wrong secret", signature.Sign(body, "whsec_other", time.Now().Unix()), ts},
		{"missing timestamp", signature.Sign(body, testSecret, time.Now().Unix()), ""},
		{"stale timestamp", signature.Sign(body, testSecret, time.Now().Unix()-3600), strconv.FormatInt(time.Now().Unix()-3600, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
			req.Header.Set(DefaultSignatureHeader, tt.sig)
			req.Header.Set(DefaultTimestampHeader, tt.tsHdr)

			rec := httptest.NewRecorder()
			routes.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}

	if violations != len(tests) {
		t.Fatalf("security violations = %d, want %d", violations, len(tests))
	}
	stats, err := st.QueueStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 0 {
		t.Fatal("rejected request reached the queue")
	}
}

func TestWebhookInvalidPayload(t *testing.T) {
	h, _, _ := newTestHandler(t)
	routes := h.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, signedRequest([]byte(`{"not":"a webhook"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["error"] != "Invalid payload" {
		t.Fatalf("error = %q, want %q", resp["error"], "Invalid payload")
	}
}

func TestWebhookIdempotentEnqueue(t *testing.T) {
	// Same delivery posted concurrently-ish: the dedup marker may race,
	// but the deterministic job ID still collapses to one job.
	h, st, _ := newTestHandler(t)
	routes := h.Routes()

	body := webhookBody("w1")
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, signedRequest(body))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}

	stats, err := st.QueueStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1", stats.Waiting)
	}
}

func TestWebhookIngressRateLimit(t *testing.T) {
	st := memory.New()
	h := NewHandler(
		Config{IngressRate: 0.001, IngressBurst: 2},
		signature.NewVerifier(testSecret, 0),
		dedup.New(st, 0),
		st,
		nil,
		nil,
		nil,
		nil,
	)
	routes := h.Routes()

	var limited int
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		req := signedRequest(webhookBody(fmt.Sprintf("w%d", i)))
		req.RemoteAddr = "10.0.0.1:1234"
		routes.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 2 {
		t.Fatalf("limited = %d, want 2 (burst of 2)", limited)
	}

	// A different client is unaffected.
	rec := httptest.NewRecorder()
	req := signedRequest(webhookBody("w-other"))
	req.RemoteAddr = "10.0.0.2:1234"
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)
	routes := h.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", resp["status"])
	}
	if _, ok := resp["queueStats"]; !ok {
		t.Fatal("response missing queueStats")
	}
}

func TestWebhookBodyTooLarge(t *testing.T) {
	st := memory.New()
	h := NewHandler(
		Config{MaxBodyBytes: 64},
		signature.NewVerifier(testSecret, 0),
		dedup.New(st, 0),
		st,
		nil,
		nil,
		nil,
		nil,
	)
	routes := h.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, signedRequest(webhookBody("w1")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized body", rec.Code)
	}
}
