package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clerk-agent/clerk/internal/provider"
)

func (s *Server) handleProviderList(w http.ResponseWriter, r *http.Request) {
	providers, err := s.providers.List()
	if err != nil {
		s.logger.Error("provider list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list providers")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"providers": providers,
		"count":     len(providers),
	}, s.logger)
}

func (s *Server) handleProviderCreate(w http.ResponseWriter, r *http.Request) {
	var p provider.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.providers.Create(&p)
	if err != nil {
		s.providerError(w, err, "create")
		return
	}

	s.logger.Info("provider created", "id", created.ID, "name", created.Name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, created, s.logger)
}

func (s *Server) handleProviderGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.providers.Get(r.PathValue("id"))
	if err != nil {
		s.providerError(w, err, "get")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, p, s.logger)
}

func (s *Server) handleProviderUpdate(w http.ResponseWriter, r *http.Request) {
	var p provider.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.ID = r.PathValue("id")

	updated, err := s.providers.Update(&p)
	if err != nil {
		s.providerError(w, err, "update")
		return
	}

	s.logger.Info("provider updated", "id", updated.ID, "name", updated.Name)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, updated, s.logger)
}

func (s *Server) handleProviderDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.providers.Delete(id); err != nil {
		s.providerError(w, err, "delete")
		return
	}

	s.logger.Info("provider deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProviderEnable(w http.ResponseWriter, r *http.Request) {
	s.setProviderActive(w, r, true)
}

func (s *Server) handleProviderDisable(w http.ResponseWriter, r *http.Request) {
	s.setProviderActive(w, r, false)
}

func (s *Server) setProviderActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := r.PathValue("id")
	if err := s.providers.SetActive(id, active); err != nil {
		s.providerError(w, err, "set active")
		return
	}

	s.logger.Info("provider toggled", "id", id, "active", active)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"id": id, "active": active}, s.logger)
}

// handleProviderReload reconnects every active provider and swaps the
// flattened tool set. Providers that fail to connect are reported in
// the statuses; the rest still come up.
func (s *Server) handleProviderReload(w http.ResponseWriter, r *http.Request) {
	configs, err := s.providers.Active()
	if err != nil {
		s.logger.Error("provider reload failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load providers")
		return
	}

	statuses := s.manager.Reload(r.Context(), configs)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"providers": statuses,
		"tools":     s.manager.Registry().Names(),
	}, s.logger)
}

// handleProviderTest connects to a provider definition without saving
// it or touching the live tool set.
// POST /v1/providers/test {"name": "x", "transport": "network", ...}
func (s *Server) handleProviderTest(w http.ResponseWriter, r *http.Request) {
	var p provider.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := p.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	status := s.manager.Test(r.Context(), p.ServerConfig())

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, status, s.logger)
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"providers": s.manager.Statuses(),
	}, s.logger)
}

// handleToolList returns the flattened tool set currently offered to
// the agent, builtins and bridged provider tools alike.
func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	specs := s.manager.Tools()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"tools": specs,
		"count": len(specs),
	}, s.logger)
}

// providerError maps store errors onto HTTP statuses.
func (s *Server) providerError(w http.ResponseWriter, err error, op string) {
	var verr *provider.ValidationError
	switch {
	case errors.Is(err, provider.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, "provider not found")
	case errors.As(err, &verr):
		s.errorResponse(w, http.StatusBadRequest, verr.Error())
	default:
		s.logger.Error("provider operation failed", "op", op, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "provider "+op+" failed")
	}
}
