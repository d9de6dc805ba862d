package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TimurManjosov/flagledger/internal/engine"
)

type evaluateRequest struct {
	Context engine.Context `json:"context"`
}

type evaluateResponse struct {
	Key     string        `json:"key"`
	Enabled bool          `json:"enabled"`
	Reason  string        `json:"reason"`
	Code    engine.Reason `json:"code"`
}

type checkResponse struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

// handleEvaluate always answers 200: an unknown flag or a store outage is reported
// through the reason, never as an HTTP error.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	key := chi.URLParam(r, "key")
	result := s.svc.Evaluate(r.Context(), key, req.Context)
	writeData(w, http.StatusOK, evaluateResponse{
		Key:     key,
		Enabled: result.Enabled,
		Reason:  result.Reason.Message(),
		Code:    result.Reason,
	})
}

// handleCheck takes the context from a JSON body on POST and from query parameters on GET.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var evalCtx engine.Context
	if r.Method == http.MethodPost {
		var req evaluateRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}
		evalCtx = req.Context
	} else {
		evalCtx = contextFromQuery(r)
	}

	key := chi.URLParam(r, "key")
	result := s.svc.Check(r.Context(), key, evalCtx)
	writeJSON(w, http.StatusOK, checkResponse{Key: key, Enabled: result.Enabled})
}

func contextFromQuery(r *http.Request) engine.Context {
	query := r.URL.Query()
	ctx := make(engine.Context, len(query))
	for name, values := range query {
		if len(values) > 0 {
			ctx[name] = values[0]
		}
	}
	return ctx
}
