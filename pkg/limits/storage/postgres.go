package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores usage records in a single PostgreSQL table, one row
// per (feature_id, scope_key).
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string
}

var _ Backend = (*PostgresBackend)(nil)

// PostgresOption configures PostgresBackend.
type PostgresOption func(*PostgresBackend)

// WithTable sets the table name (default "cooldown_usage").
func WithTable(table string) PostgresOption {
	return func(p *PostgresBackend) { p.table = table }
}

// NewPostgresBackend wraps an open pool. The backend owns the pool and closes
// it on Close. Call EnsureSchema before first use.
func NewPostgresBackend(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresBackend {
	p := &PostgresBackend{
		pool:  pool,
		table: "cooldown_usage",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OpenPostgres connects to dsn, ensures the schema, and returns the backend.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	p := NewPostgresBackend(pool, opts...)
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the table if it doesn't exist.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			feature_id TEXT NOT NULL,
			scope_key TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			cooldown_start_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (feature_id, scope_key)
		)
	`, pgx.Identifier{p.table}.Sanitize())
	if _, err := p.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// GetRecord loads the row for key.
func (p *PostgresBackend) GetRecord(ctx context.Context, key Key) (*UsageRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT feature_id, scope_key, count, cooldown_start_at, updated_at
		FROM %s WHERE feature_id = $1 AND scope_key = $2
	`, pgx.Identifier{p.table}.Sanitize())

	rec, err := scanPostgresRecord(p.pool.QueryRow(ctx, q, key.FeatureID, key.ScopeKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", key, err)
	}
	return rec, nil
}

// PutRecord upserts the row for record.
func (p *PostgresBackend) PutRecord(ctx context.Context, record *UsageRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	updated := record.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (feature_id, scope_key, count, cooldown_start_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (feature_id, scope_key) DO UPDATE SET
			count = EXCLUDED.count,
			cooldown_start_at = EXCLUDED.cooldown_start_at,
			updated_at = EXCLUDED.updated_at
	`, pgx.Identifier{p.table}.Sanitize())

	_, err := p.pool.Exec(ctx, q,
		record.FeatureID,
		record.ScopeKey,
		record.Count,
		record.CooldownStartAt,
		updated,
	)
	if err != nil {
		return fmt.Errorf("postgres: put %s: %w", record.Key(), err)
	}
	return nil
}

// List returns every row ordered by key.
func (p *PostgresBackend) List(ctx context.Context) ([]*UsageRecord, error) {
	q := fmt.Sprintf(`
		SELECT feature_id, scope_key, count, cooldown_start_at, updated_at
		FROM %s ORDER BY feature_id, scope_key
	`, pgx.Identifier{p.table}.Sanitize())

	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	return records, nil
}

// Ping checks connectivity.
func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool.
func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

func scanPostgresRecord(row pgx.Row) (*UsageRecord, error) {
	var (
		rec      UsageRecord
		cooldown *time.Time
	)
	if err := row.Scan(&rec.FeatureID, &rec.ScopeKey, &rec.Count, &cooldown, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.CooldownStartAt = cooldown
	return &rec, nil
}
