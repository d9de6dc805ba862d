package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TimurManjosov/flagledger/internal/service"
)

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.svc.ListFlags(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, flags)
}

func (s *Server) handleActiveFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.svc.ActiveFlags(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, flags)
}

func (s *Server) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := s.svc.GetFlag(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, flag)
}

// handleCreateFlag creates a flag, or replaces it when the key already exists.
func (s *Server) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var in service.FlagInput
	if !decodeJSON(w, r, &in, false) {
		return
	}
	flag, err := s.svc.CreateFlag(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, flag)
}

func (s *Server) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	var patch service.FlagPatch
	if !decodeJSON(w, r, &patch, false) {
		return
	}
	flag, err := s.svc.UpdateFlag(r.Context(), chi.URLParam(r, "key"), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, flag)
}

func (s *Server) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.svc.DeleteFlag(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !deleted {
		NotFoundError(w, r, "Feature flag not found")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Feature flag deleted successfully"})
}
