// Package upstream is the rate-limited client for the issue-tracking API.
//
// Every outbound call goes through a single serialized lane: one in-flight
// request at a time with a small inter-request pause, so that quota
// accounting is exact no matter how many goroutines call concurrently.
// When the remaining quota drops to the buffer, the lane blocks until the
// advertised reset instead of failing fast — a deliberate backpressure
// choice.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hookline/triage/observability"
	"github.com/hookline/triage/observe"
)

// Defaults for client configuration.
const (
	DefaultBuffer            = 10
	DefaultInterRequestDelay = 100 * time.Millisecond
	DefaultRetryAttempts     = 3
	DefaultRetryBackoffBase  = 1 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
)

// ErrClientClosed is returned for calls made after Close.
var ErrClientClosed = errors.New("upstream: client is closed")

// APIError is a non-retryable upstream response (4xx other than 429).
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Body)
}

// Config holds client configuration. Zero fields select the defaults above.
type Config struct {
	BaseURL           string
	Token             string
	Buffer            int
	InterRequestDelay time.Duration
	RetryAttempts     int
	RetryBackoffBase  time.Duration
	RequestTimeout    time.Duration
	CacheTTL          time.Duration
}

func (c Config) withDefaults() Config {
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.InterRequestDelay <= 0 {
		c.InterRequestDelay = DefaultInterRequestDelay
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = DefaultRetryBackoffBase
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// call is one queued request on the serialized lane.
type call struct {
	ctx    context.Context
	method string
	path   string
	body   any
	result chan callResult
}

type callResult struct {
	data []byte
	err  error
}

// Client is the serialized, quota-aware tracker API client.
type Client struct {
	config  Config
	http    *http.Client
	cache   *Cache
	bus     *observe.Bus
	metrics *observability.Metrics
	logger  *slog.Logger

	calls chan *call
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	mu    sync.RWMutex
	state RateLimitState
}

// NewClient creates a client and starts its request lane.
func NewClient(cfg Config, bus *observe.Bus, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	c := &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		cache:   NewCache(),
		bus:     bus,
		metrics: metrics,
		logger:  logger,
		calls:   make(chan *call),
		done:    make(chan struct{}),
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.lane()
	}()

	return c
}

// Close stops the request lane. In-flight calls finish; queued calls fail
// with ErrClientClosed.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}

// RateLimit returns the most recently observed quota state.
func (c *Client) RateLimit() RateLimitState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Cache exposes the response cache, mainly for host diagnostics.
func (c *Client) Cache() *Cache {
	return c.cache
}

// ──────────────────────────────────────────────────
// Serialized request lane
// ──────────────────────────────────────────────────

// lane processes calls one at a time: quota gate, retrying execution, then
// the inter-request pause.
func (c *Client) lane() {
	for {
		select {
		case <-c.done:
			c.failPending()
			return
		case cl := <-c.calls:
			if err := c.waitQuota(cl.ctx); err != nil {
				cl.result <- callResult{err: err}
				continue
			}

			data, err := c.doWithRetry(cl)
			cl.result <- callResult{data: data, err: err}

			select {
			case <-time.After(c.config.InterRequestDelay):
			case <-c.done:
				c.failPending()
				return
			}
		}
	}
}

// failPending drains any calls queued behind a Close.
func (c *Client) failPending() {
	for {
		select {
		case cl := <-c.calls:
			cl.result <- callResult{err: ErrClientClosed}
		default:
			return
		}
	}
}

// waitQuota blocks until the quota allows another call. No call is ever
// issued while remaining <= buffer before the reset boundary.
func (c *Client) waitQuota(ctx context.Context) error {
	for {
		c.mu.RLock()
		state := c.state
		c.mu.RUnlock()

		now := time.Now()
		if !state.Exhausted(c.config.Buffer, now) {
			return nil
		}

		wait := state.ResetTime.Sub(now)
		c.logger.Warn("upstream quota exhausted, waiting for reset",
			"remaining", state.Remaining, "reset_in", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClientClosed
		}
	}
}

// doWithRetry executes one call with client-level retries.
// Retryable: HTTP 429, HTTP >= 500, and transport errors. Anything else
// propagates immediately.
func (c *Client) doWithRetry(cl *call) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoffBase
			for i := 1; i < attempt; i++ {
				backoff *= 2
			}
			select {
			case <-time.After(backoff):
			case <-cl.ctx.Done():
				return nil, cl.ctx.Err()
			case <-c.done:
				return nil, ErrClientClosed
			}
		}

		data, retryable, err := c.doOnce(cl)
		if err == nil {
			if c.metrics != nil {
				c.metrics.RecordUpstreamCall("ok")
			}
			return data, nil
		}
		if !retryable {
			if c.metrics != nil {
				c.metrics.RecordUpstreamCall("error")
			}
			return nil, err
		}

		lastErr = err
		c.logger.DebugContext(cl.ctx, "upstream call retrying",
			"method", cl.method, "path", cl.path, "attempt", attempt+1, "error", err)
	}

	if c.metrics != nil {
		c.metrics.RecordUpstreamCall("retries_exhausted")
	}
	return nil, fmt.Errorf("upstream: retries exhausted: %w", lastErr)
}

// doOnce performs a single HTTP exchange and updates the quota state from
// the response headers.
func (c *Client) doOnce(cl *call) (data []byte, retryable bool, err error) {
	var reqBody io.Reader
	if cl.body != nil {
		raw, marshalErr := json.Marshal(cl.body)
		if marshalErr != nil {
			return nil, false, fmt.Errorf("upstream: marshal request: %w", marshalErr)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(cl.ctx, cl.method, c.config.BaseURL+cl.path, reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("upstream: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "triage/1.0")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Connection reset, timeout, DNS failure: all retryable.
		return nil, true, fmt.Errorf("upstream: %w", err)
	}
	defer resp.Body.Close()

	c.updateState(resp.Header)

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, true, fmt.Errorf("upstream: read response: %w", readErr)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("upstream: status %d", resp.StatusCode)
	default:
		return nil, false, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// updateState parses quota headers and publishes the new state.
func (c *Client) updateState(h http.Header) {
	state, ok := parseRateLimit(h)
	if !ok {
		return
	}

	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.UpstreamRemaining.Set(float64(state.Remaining))
	}
	if c.bus != nil {
		c.bus.Emit(observe.KindRateLimitUpdate, map[string]any{
			"limit":     state.Limit,
			"remaining": state.Remaining,
			"reset":     state.ResetTime,
		})
	}
}

// ──────────────────────────────────────────────────
// Request plumbing
// ──────────────────────────────────────────────────

// submit queues a call on the lane and waits for its result.
func (c *Client) submit(ctx context.Context, method, path string, body any) ([]byte, error) {
	cl := &call{
		ctx:    ctx,
		method: method,
		path:   path,
		body:   body,
		result: make(chan callResult, 1),
	}

	select {
	case c.calls <- cl:
	case <-c.done:
		return nil, ErrClientClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-cl.result:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// getCached performs a cacheable read. cacheKey also serves as the
// invalidation prefix target for related writes.
func (c *Client) getCached(ctx context.Context, path, cacheKey string, out any) error {
	if data, ok := c.cache.Get(cacheKey); ok {
		return json.Unmarshal(data, out)
	}

	data, err := c.submit(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	c.cache.Set(cacheKey, data, c.config.CacheTTL)
	return json.Unmarshal(data, out)
}

// write performs a mutation and invalidates the given cache prefixes.
func (c *Client) write(ctx context.Context, method, path string, body, out any, invalidate ...string) error {
	data, err := c.submit(ctx, method, path, body)
	if err != nil {
		return err
	}

	for _, prefix := range invalidate {
		c.cache.InvalidatePrefix(prefix)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// ──────────────────────────────────────────────────
// Tracker API surface
// ──────────────────────────────────────────────────

// Viewer returns the identity the client is authenticated as.
func (c *Client) Viewer(ctx context.Context) (*User, error) {
	var u User
	if err := c.getCached(ctx, "/viewer", "user:viewer", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// User returns a tracker user by ID.
func (c *Client) User(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := c.getCached(ctx, "/users/"+url.PathEscape(userID), "user:"+userID, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Team returns a team by ID.
func (c *Client) Team(ctx context.Context, teamID string) (*Team, error) {
	var t Team
	if err := c.getCached(ctx, "/teams/"+url.PathEscape(teamID), "team:"+teamID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// WorkflowStates returns a team's workflow states.
func (c *Client) WorkflowStates(ctx context.Context, teamID string) ([]WorkflowState, error) {
	var states []WorkflowState
	key := "team:" + teamID + ":states"
	if err := c.getCached(ctx, "/teams/"+url.PathEscape(teamID)+"/states", key, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// Issue returns an issue by ID.
func (c *Client) Issue(ctx context.Context, issueID string) (*Issue, error) {
	var iss Issue
	if err := c.getCached(ctx, "/issues/"+url.PathEscape(issueID), "issue:"+issueID, &iss); err != nil {
		return nil, err
	}
	return &iss, nil
}

// SearchIssues returns issues matching a query string.
func (c *Client) SearchIssues(ctx context.Context, query string) ([]Issue, error) {
	var issues []Issue
	path := "/issues?q=" + url.QueryEscape(query)
	if err := c.getCached(ctx, path, "search:"+query, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// CreateIssue creates an issue and invalidates the team's cached reads.
func (c *Client) CreateIssue(ctx context.Context, in IssueCreate) (*Issue, error) {
	var iss Issue
	err := c.write(ctx, http.MethodPost, "/issues", in, &iss,
		"team:"+in.TeamID, "search:")
	if err != nil {
		return nil, err
	}
	return &iss, nil
}

// UpdateIssue applies a partial mutation and invalidates the issue's and
// team's cached reads.
func (c *Client) UpdateIssue(ctx context.Context, issueID string, patch IssueUpdate) (*Issue, error) {
	var iss Issue
	err := c.write(ctx, http.MethodPatch, "/issues/"+url.PathEscape(issueID), patch, &iss,
		"issue:"+issueID, "search:")
	if err != nil {
		return nil, err
	}
	c.cache.InvalidatePrefix("team:" + iss.TeamID)
	return &iss, nil
}

// CreateComment posts a comment on an issue.
func (c *Client) CreateComment(ctx context.Context, issueID, body string) (*Comment, error) {
	var cm Comment
	in := map[string]string{"body": body}
	err := c.write(ctx, http.MethodPost, "/issues/"+url.PathEscape(issueID)+"/comments", in, &cm,
		"issue:"+issueID)
	if err != nil {
		return nil, err
	}
	return &cm, nil
}
