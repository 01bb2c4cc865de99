package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Writer persists decision events for offline analysis.
type Writer interface {
	Write(ctx context.Context, e Event) error
}

// NoopWriter ignores all writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Event) error { return nil }

// SQLWriter persists events to SQLite/Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "semcache-events.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite event writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres event writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s event writer: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS cache_events (
	id INTEGER PRIMARY KEY,
	tenant TEXT NOT NULL,
	model TEXT,
	prompt_hash TEXT NOT NULL,
	decision TEXT NOT NULL,
	similarity REAL NOT NULL,
	latency_ms REAL NOT NULL,
	tokens_saved INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);`

	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS cache_events (
	id BIGSERIAL PRIMARY KEY,
	tenant TEXT NOT NULL,
	model TEXT,
	prompt_hash TEXT NOT NULL,
	decision TEXT NOT NULL,
	similarity DOUBLE PRECISION NOT NULL,
	latency_ms DOUBLE PRECISION NOT NULL,
	tokens_saved BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize event schema: %w", err)
	}
	return nil
}

func (w *SQLWriter) Write(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	query := `INSERT INTO cache_events(tenant, model, prompt_hash, decision, similarity, latency_ms, tokens_saved, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?)`
	if w.dialect == "postgres" {
		query = `INSERT INTO cache_events(tenant, model, prompt_hash, decision, similarity, latency_ms, tokens_saved, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)`
	}

	_, err := w.db.ExecContext(ctx, query,
		e.Tenant,
		e.Model,
		e.PromptHash,
		string(e.Decision),
		e.Similarity,
		e.LatencyMS,
		e.TokensSaved,
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("write cache event: %w", err)
	}
	return nil
}

func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
