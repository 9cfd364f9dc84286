package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/hookline/triage/deadletter"
	"github.com/hookline/triage/id"
)

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	opts := deadletter.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}

	entries, err := h.dead.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) getDeadLetter(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDeadID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dead-letter ID")
		return
	}

	entry, err := h.dead.Get(r.Context(), entryID)
	if err != nil {
		if errors.Is(err, deadletter.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "dead-letter entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) replayDeadLetter(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDeadID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dead-letter ID")
		return
	}

	if replayErr := h.dead.Replay(r.Context(), entryID); replayErr != nil {
		if errors.Is(replayErr, deadletter.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "dead-letter entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, replayErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type replayBulkRequest struct {
	From string `json:"from"` // RFC3339
	To   string `json:"to"`   // RFC3339
}

func (h *Handler) replayBulkDeadLetters(w http.ResponseWriter, r *http.Request) {
	var req replayBulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
		return
	}

	count, replayErr := h.dead.ReplayBulk(r.Context(), from, to)
	if replayErr != nil {
		writeError(w, http.StatusInternalServerError, replayErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"replayed": count})
}
