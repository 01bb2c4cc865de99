package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/semantis-ai/semcache/internal/logging"
	"github.com/semantis-ai/semcache/internal/tenant"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

// tenantFromContext returns the tenant stored by the auth middleware.
func tenantFromContext(ctx context.Context) *tenant.Tenant {
	t, _ := ctx.Value(tenantContextKey).(*tenant.Tenant)
	return t
}

// authenticate resolves the Bearer API key to a tenant and enforces its
// quota before the request reaches the engine.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization: Bearer <api key>", "authentication_error")
			return
		}

		tn, err := s.registry.Resolve(r.Context(), key)
		switch {
		case errors.Is(err, tenant.ErrInvalidKey):
			writeError(w, http.StatusUnauthorized, "invalid api key", "authentication_error")
			return
		case errors.Is(err, tenant.ErrInactive):
			writeError(w, http.StatusForbidden, "tenant is suspended or cancelled", "permission_error")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "tenant lookup failed", "server_error")
			return
		}

		usage, err := s.registry.Usage(r.Context(), tn.ID)
		if err != nil {
			// Fail open: a broken usage backend must not take the cache
			// down, but it has to be visible.
			logging.FromContext(r.Context()).Warn("usage lookup failed, skipping quota check",
				"tenant", tn.ID,
				"error", err,
			)
		} else if qerr := tenant.CheckQuota(tn, usage); qerr != nil {
			writeError(w, http.StatusTooManyRequests, qerr.Error(), "quota_exceeded")
			return
		}

		ctx := context.WithValue(r.Context(), tenantContextKey, tn)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminAuth guards /admin with the configured admin token.
func (s *server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Server.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token", "authentication_error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}
