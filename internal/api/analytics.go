package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/TimurManjosov/flagledger/internal/analytics"
)

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	hours, ok := intQuery(w, r, "hours", analytics.DefaultWindowHours)
	if !ok {
		return
	}
	stats, err := s.svc.FlagStats(r.Context(), chi.URLParam(r, "key"), hours)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit", analytics.DefaultHistoryLimit)
	if !ok {
		return
	}
	id := analytics.Identity{
		UserID:    r.URL.Query().Get("user_id"),
		SessionID: r.URL.Query().Get("session_id"),
	}
	history, err := s.svc.History(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, history)
}

// intQuery parses an optional integer query parameter, writing a 422 when it is malformed.
func intQuery(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		ValidationError(w, r, "Validation failed", map[string]string{name: "Must be an integer"})
		return 0, false
	}
	return n, true
}
