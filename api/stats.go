package api

import "net/http"

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}

	if h.engine != nil {
		resp["processing"] = h.engine.Stats()
	}
	if stats, err := h.jobs.QueueStats(r.Context()); err == nil {
		resp["queue"] = stats
	}
	if count, err := h.dead.Count(r.Context()); err == nil {
		resp["deadLetters"] = count
	}
	resp["rules"] = h.registry.Len()
	if h.scheduler != nil {
		resp["scheduledActions"] = h.scheduler.Len()
	}

	writeJSON(w, http.StatusOK, resp)
}
