// Package api provides the admin HTTP API for triage: rule management,
// dead-letter inspection and replay, and processing stats.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/hookline/triage/deadletter"
	"github.com/hookline/triage/queue"
	"github.com/hookline/triage/rules"
	"github.com/hookline/triage/schedule"
)

// Handler is the root HTTP handler for the triage admin API.
type Handler struct {
	registry  *rules.Registry
	dead      *deadletter.Service
	jobs      queue.Store
	engine    *queue.Engine
	scheduler *schedule.Scheduler
	logger    *slog.Logger
	mux       *http.ServeMux
}

// NewHandler creates a new admin API handler.
func NewHandler(
	registry *rules.Registry,
	dead *deadletter.Service,
	jobs queue.Store,
	engine *queue.Engine,
	scheduler *schedule.Scheduler,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		registry:  registry,
		dead:      dead,
		jobs:      jobs,
		engine:    engine,
		scheduler: scheduler,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Rules
	h.mux.HandleFunc("POST /rules", h.createRule)
	h.mux.HandleFunc("GET /rules", h.listRules)
	h.mux.HandleFunc("GET /rules/{id}", h.getRule)
	h.mux.HandleFunc("PUT /rules/{id}", h.updateRule)
	h.mux.HandleFunc("DELETE /rules/{id}", h.deleteRule)

	// Dead letters
	h.mux.HandleFunc("GET /dead-letters", h.listDeadLetters)
	h.mux.HandleFunc("GET /dead-letters/{id}", h.getDeadLetter)
	h.mux.HandleFunc("POST /dead-letters/{id}/replay", h.replayDeadLetter)
	h.mux.HandleFunc("POST /dead-letters/replay", h.replayBulkDeadLetters)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}
