package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/semantis-ai/semcache/internal/tenant"
)

// handleCreateTenant issues a tenant and returns its API key. The key is
// shown exactly once; only its hash is stored.
func (s *server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string      `json:"name"`
		Plan tenant.Plan `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request_error")
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", "invalid_request_error")
		return
	}
	if body.Plan == "" {
		body.Plan = tenant.PlanFree
	}

	tn, apiKey, err := s.registry.Create(r.Context(), body.Name, body.Plan)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"tenant":  tn,
		"api_key": apiKey,
	})
}

func (s *server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": tenants})
}

func (s *server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tn, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeTenantError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tn)
}

// handleUpdateTenant applies partial updates: plan, status, and the
// similarity-threshold override.
func (s *server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Plan                *tenant.Plan   `json:"plan,omitempty"`
		Status              *tenant.Status `json:"status,omitempty"`
		SimilarityThreshold *float64       `json:"similarity_threshold,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request_error")
		return
	}

	ctx := r.Context()
	if body.Plan != nil {
		if err := s.registry.UpdatePlan(ctx, id, *body.Plan); err != nil {
			writeTenantError(w, err)
			return
		}
	}
	if body.Status != nil {
		if err := s.registry.UpdateStatus(ctx, id, *body.Status); err != nil {
			writeTenantError(w, err)
			return
		}
	}
	if body.SimilarityThreshold != nil {
		if err := s.registry.UpdateThreshold(ctx, id, *body.SimilarityThreshold); err != nil {
			writeTenantError(w, err)
			return
		}
	}

	tn, err := s.registry.Get(ctx, id)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tn)
}

func (s *server) handleTenantUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	usage, err := s.registry.Usage(r.Context(), id)
	if err != nil {
		writeTenantError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": id,
		"usage":     usage,
		"stats":     s.engine.Recorder().TenantStats(id),
		"entries":   s.engine.Store().TenantEntryCount(id),
	})
}

func writeTenantError(w http.ResponseWriter, err error) {
	if errors.Is(err, tenant.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found", "not_found")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
}
