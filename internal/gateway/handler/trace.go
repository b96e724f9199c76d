package handler

import (
	"net/http"
	"strings"

	"repoanalyzer/internal/gateway/trace"
)

type TraceHandler struct {
	trace *trace.Logger
}

func NewTraceHandler(t *trace.Logger) *TraceHandler {
	return &TraceHandler{trace: t}
}

func (h *TraceHandler) HandleSessionLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	events, err := h.trace.Read(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"events":     events,
	})
}
