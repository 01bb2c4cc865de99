package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	semcache "github.com/semantis-ai/semcache"
	"github.com/semantis-ai/semcache/internal/events"
	"github.com/semantis-ai/semcache/internal/logging"
	"github.com/semantis-ai/semcache/internal/tenant"
	"github.com/semantis-ai/semcache/upstream"
)

// completionResponse is the OpenAI response envelope extended with cache
// metadata.
type completionResponse struct {
	*upstream.Response
	Meta semcache.Meta `json:"meta"`
}

// handleChatCompletions serves POST /v1/chat/completions through the cache.
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	tn := tenantFromContext(r.Context())

	var req upstream.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request_error")
		return
	}

	result, err := s.engine.Execute(r.Context(), tn, req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.recordUsage(r, tn, result)

	writeJSON(w, http.StatusOK, completionResponse{Response: result.Response, Meta: result.Meta})
}

// handleQuery serves GET /query?prompt=...&model=...: a single-prompt
// convenience wrapper around the completions path.
func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	tn := tenantFromContext(r.Context())

	prompt := r.URL.Query().Get("prompt")
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt query parameter is required", "invalid_request_error")
		return
	}
	model := r.URL.Query().Get("model")
	if model == "" {
		model = "gpt-4o-mini"
	}

	req := upstream.Request{
		Model:    model,
		Messages: []upstream.Message{{Role: upstream.RoleUser, Content: prompt}},
	}
	if t := r.URL.Query().Get("temperature"); t != "" {
		temp, err := strconv.ParseFloat(t, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "temperature must be a number", "invalid_request_error")
			return
		}
		req.Temperature = &temp
	}

	result, err := s.engine.Execute(r.Context(), tn, req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.recordUsage(r, tn, result)

	answer := ""
	if len(result.Response.Choices) > 0 {
		answer = result.Response.Choices[0].Message.Content
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer":  answer,
		"meta":    result.Meta,
		"metrics": s.engine.Recorder().TenantStats(tn.ID),
	})
}

// handleMetrics serves the JSON aggregate view. Prometheus exposition lives
// at /metrics/prometheus.
func (s *server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	rec := s.engine.Recorder()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine": map[string]interface{}{
			"strategy":             s.engine.Strategy(),
			"similarity_threshold": s.cfg.Cache.SimilarityThreshold,
			"entries":              s.engine.Store().Len(),
		},
		"totals":  rec.Stats(),
		"tenants": rec.AllTenantStats(),
	})
}

// handleEvents serves the most recent decision events, newest first.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "invalid_request_error")
			return
		}
		limit = n
	}
	evs := s.engine.Recorder().Recent(limit)
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": evs})
}

// recordUsage books one request against the tenant, plus the upstream
// tokens actually consumed (zero on hits).
func (s *server) recordUsage(r *http.Request, tn *tenant.Tenant, result *semcache.Result) {
	var tokens int64
	if !result.Meta.Cached() && result.Response != nil {
		tokens = int64(result.Response.Usage.TotalTokens)
	}
	if err := s.registry.RecordUsage(r.Context(), tn.ID, 1, tokens); err != nil {
		logging.FromContext(r.Context()).Warn("usage accounting failed",
			"tenant", tn.ID,
			"error", err,
		)
	}
}

// writeEngineError maps engine failures onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, semcache.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
	case errors.Is(err, upstream.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "upstream_unavailable")
	default:
		var ue *upstream.Error
		if errors.As(err, &ue) {
			writeError(w, http.StatusBadGateway, ue.Error(), "upstream_error")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), "server_error")
	}
}

// writeError writes an OpenAI-compatible JSON error response.
func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
