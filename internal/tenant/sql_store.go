package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore persists tenants and their usage counters in SQL backends
// (SQLite or Postgres).
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore creates a SQLite-backed registry.
// dsn can be a file path (e.g. /var/lib/semcache/tenants.db) or SQLite DSN.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "semcache-tenants.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite registry: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectSQLite}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore creates a Postgres-backed registry.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres registry: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectPostgres}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s registry: %w", s.dialect, err)
	}

	var ddl string
	switch s.dialect {
	case dialectPostgres:
		ddl = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	api_key_hash TEXT UNIQUE NOT NULL,
	plan TEXT NOT NULL,
	status TEXT NOT NULL,
	similarity_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tenants_key_hash ON tenants(api_key_hash);
CREATE TABLE IF NOT EXISTS tenant_usage (
	tenant_id TEXT NOT NULL,
	period TEXT NOT NULL,
	requests BIGINT NOT NULL DEFAULT 0,
	tokens BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, period)
);`
	default:
		ddl = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	api_key_hash TEXT UNIQUE NOT NULL,
	plan TEXT NOT NULL,
	status TEXT NOT NULL,
	similarity_threshold REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tenants_key_hash ON tenants(api_key_hash);
CREATE TABLE IF NOT EXISTS tenant_usage (
	tenant_id TEXT NOT NULL,
	period TEXT NOT NULL,
	requests INTEGER NOT NULL DEFAULT 0,
	tokens INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, period)
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s registry schema: %w", s.dialect, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Create registers a tenant under a freshly generated API key.
func (s *SQLStore) Create(ctx context.Context, name string, plan Plan) (*Tenant, string, error) {
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

	q := s.bind(`
INSERT INTO tenants(id, name, api_key_hash, plan, status, similarity_threshold, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, t.ID, t.Name, t.APIKeyHash, string(t.Plan), string(t.Status), t.SimilarityThreshold, t.CreatedAt, t.UpdatedAt); err != nil {
		return nil, "", fmt.Errorf("create tenant: %w", err)
	}
	return t, key, nil
}

// Resolve maps an API key to its tenant.
func (s *SQLStore) Resolve(ctx context.Context, apiKey string) (*Tenant, error) {
	q := s.bind(`
SELECT id, name, api_key_hash, plan, status, similarity_threshold, created_at, updated_at
FROM tenants
WHERE api_key_hash = ?`)

	t, err := scanTenant(s.db.QueryRowContext(ctx, q, HashKey(apiKey)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}
	if t.Status != StatusActive {
		return nil, fmt.Errorf("%w: status %s", ErrInactive, t.Status)
	}
	return t, nil
}

// Get returns a tenant by ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*Tenant, error) {
	q := s.bind(`
SELECT id, name, api_key_hash, plan, status, similarity_threshold, created_at, updated_at
FROM tenants
WHERE id = ?`)

	t, err := scanTenant(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// List returns all tenants.
func (s *SQLStore) List(ctx context.Context) ([]*Tenant, error) {
	q := `
SELECT id, name, api_key_hash, plan, status, similarity_threshold, created_at, updated_at
FROM tenants
ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	tenants := make([]*Tenant, 0)
	for rows.Next() {
		t, scanErr := scanTenant(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("list tenants: %w", scanErr)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// UpdatePlan moves a tenant to a different plan.
func (s *SQLStore) UpdatePlan(ctx context.Context, id string, plan Plan) error {
	if !plan.Valid() {
		return fmt.Errorf("unknown plan %q", plan)
	}
	q := s.bind(`UPDATE tenants SET plan = ?, updated_at = ? WHERE id = ?`)
	return s.execOne(ctx, q, string(plan), time.Now().UTC(), id)
}

// UpdateStatus transitions a tenant's lifecycle state.
func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	q := s.bind(`UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`)
	return s.execOne(ctx, q, string(status), time.Now().UTC(), id)
}

// UpdateThreshold sets the tenant's similarity-threshold override.
func (s *SQLStore) UpdateThreshold(ctx context.Context, id string, threshold float64) error {
	if threshold != 0 && (threshold < 0.5 || threshold > 1.0) {
		return fmt.Errorf("threshold %v out of range [0.5, 1.0]", threshold)
	}
	q := s.bind(`UPDATE tenants SET similarity_threshold = ?, updated_at = ? WHERE id = ?`)
	return s.execOne(ctx, q, threshold, time.Now().UTC(), id)
}

// RecordUsage adds to the tenant's consumption for the current period.
func (s *SQLStore) RecordUsage(ctx context.Context, id string, requests, tokens int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	period := CurrentPeriod()
	var q string
	switch s.dialect {
	case dialectPostgres:
		q = s.bind(`
INSERT INTO tenant_usage(tenant_id, period, requests, tokens)
VALUES(?, ?, ?, ?)
ON CONFLICT (tenant_id, period)
DO UPDATE SET requests = tenant_usage.requests + EXCLUDED.requests, tokens = tenant_usage.tokens + EXCLUDED.tokens`)
	default:
		q = `
INSERT INTO tenant_usage(tenant_id, period, requests, tokens)
VALUES(?, ?, ?, ?)
ON CONFLICT (tenant_id, period)
DO UPDATE SET requests = requests + excluded.requests, tokens = tokens + excluded.tokens`
	}

	if _, err := s.db.ExecContext(ctx, q, id, period, requests, tokens); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Usage returns the tenant's consumption for the current period.
func (s *SQLStore) Usage(ctx context.Context, id string) (Usage, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return Usage{}, err
	}

	period := CurrentPeriod()
	q := s.bind(`SELECT requests, tokens FROM tenant_usage WHERE tenant_id = ? AND period = ?`)

	u := Usage{Period: period}
	err := s.db.QueryRowContext(ctx, q, id, period).Scan(&u.Requests, &u.Tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("read usage: %w", err)
	}
	return u, nil
}

func (s *SQLStore) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTenant(scanner interface {
	Scan(dest ...interface{}) error
}) (*Tenant, error) {
	var t Tenant
	err := scanner.Scan(
		&t.ID,
		&t.Name,
		&t.APIKeyHash,
		&t.Plan,
		&t.Status,
		&t.SimilarityThreshold,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLStore) bind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var (
		b      strings.Builder
		argNum = 1
	)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteString(fmt.Sprintf("$%d", argNum))
			argNum++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
