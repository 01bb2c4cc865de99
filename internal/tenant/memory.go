package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the in-memory Registry used by default and in tests.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*Tenant
	byHash map[string]string // api key hash -> tenant ID
	usage  map[string]*Usage // tenant ID -> current-period usage
}

// NewStore creates an empty in-memory registry.
func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*Tenant),
		byHash: make(map[string]string),
		usage:  make(map[string]*Usage),
	}
}

// Create registers a tenant under a freshly generated API key.
func (s *Store) Create(_ context.Context, name string, plan Plan) (*Tenant, string, error) {
	if !plan.Valid() {
		return nil, "", fmt.Errorf("unknown plan %q", plan)
	}
	key, err := NewAPIKey()
	if err != nil {
		return nil, "", err
	}
	id, err := NewID()
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	t := &Tenant{
		ID:         id,
		Name:       name,
		APIKeyHash: HashKey(key),
		Plan:       plan,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = t
	s.byHash[t.APIKeyHash] = id

	cp := *t
	return &cp, key, nil
}

// Resolve maps an API key to its tenant.
func (s *Store) Resolve(_ context.Context, apiKey string) (*Tenant, error) {
	hash := HashKey(apiKey)

	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrInvalidKey
	}
	t := s.byID[id]
	if t.Status != StatusActive {
		return nil, fmt.Errorf("%w: status %s", ErrInactive, t.Status)
	}
	cp := *t
	return &cp, nil
}

// Get returns a tenant by ID.
func (s *Store) Get(_ context.Context, id string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// List returns all tenants.
func (s *Store) List(_ context.Context) ([]*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Tenant, 0, len(s.byID))
	for _, t := range s.byID {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// UpdatePlan moves a tenant to a different plan.
func (s *Store) UpdatePlan(_ context.Context, id string, plan Plan) error {
	if !plan.Valid() {
		return fmt.Errorf("unknown plan %q", plan)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	t.Plan = plan
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateStatus transitions a tenant's lifecycle state.
func (s *Store) UpdateStatus(_ context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateThreshold sets the tenant's similarity-threshold override. Zero
// clears the override back to the engine default.
func (s *Store) UpdateThreshold(_ context.Context, id string, threshold float64) error {
	if threshold != 0 && (threshold < 0.5 || threshold > 1.0) {
		return fmt.Errorf("threshold %v out of range [0.5, 1.0]", threshold)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	t.SimilarityThreshold = threshold
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordUsage adds to the tenant's consumption for the current period.
// Usage from previous periods is discarded on rollover.
func (s *Store) RecordUsage(_ context.Context, id string, requests, tokens int64) error {
	period := CurrentPeriod()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	u := s.usage[id]
	if u == nil || u.Period != period {
		u = &Usage{Period: period}
		s.usage[id] = u
	}
	u.Requests += requests
	u.Tokens += tokens
	return nil
}

// Usage returns the tenant's consumption for the current period.
func (s *Store) Usage(_ context.Context, id string) (Usage, error) {
	period := CurrentPeriod()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byID[id]; !ok {
		return Usage{}, ErrNotFound
	}
	u := s.usage[id]
	if u == nil || u.Period != period {
		return Usage{Period: period}, nil
	}
	return *u, nil
}
