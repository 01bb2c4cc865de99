// Package tenant resolves API keys to tenant identities and enforces plan
// quotas. Every other component is scoped by the tenant ID this package
// hands out, so it is the isolation boundary for the whole engine.
//
// Tenants are never hard-deleted: status transitions (active → suspended →
// cancelled) preserve historical analytics.
package tenant

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Plan is a billing tier. The plan decides monthly quotas.
type Plan string

// Supported plans.
const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// Quota returns the monthly limits for the plan. Zero means unlimited.
func (p Plan) Quota() Quota {
	switch p {
	case PlanPro:
		return Quota{RequestsPerMonth: 50_000, TokensPerMonth: 5_000_000}
	case PlanEnterprise:
		return Quota{}
	default:
		return Quota{RequestsPerMonth: 1_000, TokensPerMonth: 100_000}
	}
}

// Status is a tenant lifecycle state.
type Status string

// Supported statuses.
const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusCancelled:
		return true
	}
	return false
}

// Quota holds monthly limits. A zero field is unlimited.
type Quota struct {
	RequestsPerMonth int64
	TokensPerMonth   int64
}

// Usage is a tenant's consumption within one monthly period.
type Usage struct {
	Period   string // "2006-01"
	Requests int64
	Tokens   int64
}

// Tenant is a resolved API-key identity.
type Tenant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	APIKeyHash string `json:"-"`
	Plan       Plan   `json:"plan"`
	Status     Status `json:"status"`
	// SimilarityThreshold overrides the engine default when non-zero.
	SimilarityThreshold float64   `json:"similarity_threshold,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Registry errors.
var (
	ErrInvalidKey    = errors.New("invalid api key")
	ErrInactive      = errors.New("tenant is not active")
	ErrQuotaExceeded = errors.New("tenant quota exceeded")
	ErrNotFound      = errors.New("tenant not found")
)

// Registry is the tenant store. The in-memory Store and the SQL-backed
// SQLStore implement it.
type Registry interface {
	// Resolve maps a presented API key to its tenant. Unknown keys fail
	// with ErrInvalidKey; suspended or cancelled tenants with ErrInactive.
	Resolve(ctx context.Context, apiKey string) (*Tenant, error)
	// Create registers a tenant and returns it with the freshly generated
	// API key. The key is returned exactly once; only its hash is stored.
	Create(ctx context.Context, name string, plan Plan) (*Tenant, string, error)
	Get(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	UpdatePlan(ctx context.Context, id string, plan Plan) error
	// UpdateStatus performs a soft transition; tenants are never deleted.
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdateThreshold(ctx context.Context, id string, threshold float64) error
	// RecordUsage adds to the tenant's consumption in the current period.
	RecordUsage(ctx context.Context, id string, requests, tokens int64) error
	Usage(ctx context.Context, id string) (Usage, error)
}

// CheckQuota returns ErrQuotaExceeded when usage is at or over any limit of
// the tenant's plan.
func CheckQuota(t *Tenant, u Usage) error {
	q := t.Plan.Quota()
	if q.RequestsPerMonth > 0 && u.Requests >= q.RequestsPerMonth {
		return fmt.Errorf("%w: %d requests this period (limit %d)", ErrQuotaExceeded, u.Requests, q.RequestsPerMonth)
	}
	if q.TokensPerMonth > 0 && u.Tokens >= q.TokensPerMonth {
		return fmt.Errorf("%w: %d tokens this period (limit %d)", ErrQuotaExceeded, u.Tokens, q.TokensPerMonth)
	}
	return nil
}

// CurrentPeriod returns the usage period for now, e.g. "2026-09".
func CurrentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}

// NewAPIKey generates an "sc-" prefixed random key.
func NewAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return "sc-" + hex.EncodeToString(b), nil
}

// HashKey returns the hex SHA-256 of an API key; only hashes are persisted.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewID generates a random tenant ID.
func NewID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}
