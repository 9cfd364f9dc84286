package upstream

import (
	"net/http"
	"strconv"
	"time"
)

// Quota header names returned by the tracker API.
const (
	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
)

// RateLimitState is the client's view of the upstream quota, parsed from
// response headers after every call. Remaining only decreases between
// resets.
type RateLimitState struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// Exhausted reports whether the quota is at or below the buffer with the
// reset still ahead of now.
func (s RateLimitState) Exhausted(buffer int, now time.Time) bool {
	if s.Limit == 0 {
		return false // no quota information yet
	}
	return s.Remaining <= buffer && s.ResetTime.After(now)
}

// parseRateLimit extracts quota headers from a response. ok is false when
// the response carries no quota information.
func parseRateLimit(h http.Header) (RateLimitState, bool) {
	limitStr := h.Get(headerRateLimit)
	if limitStr == "" {
		return RateLimitState{}, false
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return RateLimitState{}, false
	}

	remaining, err := strconv.Atoi(h.Get(headerRateRemaining))
	if err != nil {
		return RateLimitState{}, false
	}

	var reset time.Time
	if resetUnix, err := strconv.ParseInt(h.Get(headerRateReset), 10, 64); err == nil {
		reset = time.Unix(resetUnix, 0).UTC()
	}

	return RateLimitState{Limit: limit, Remaining: remaining, ResetTime: reset}, true
}
