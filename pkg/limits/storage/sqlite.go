package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // SQLite driver "sqlite" (pure Go)
)

const (
	// DriverModernc selects the pure-Go modernc.org/sqlite driver.
	DriverModernc = "sqlite"

	// DriverCGO selects the cgo-based mattn/go-sqlite3 driver.
	DriverCGO = "sqlite3"
)

// SQLiteBackend implements Backend using SQLite for persistence.
// This backend provides durable storage with periodic WAL checkpoints and is
// suitable for single-process hosts where counters must survive restarts.
type SQLiteBackend struct {
	db               *sql.DB
	dbPath           string
	snapshotInterval time.Duration
	done             chan struct{}
	mu               sync.RWMutex
	closeOnce        sync.Once

	// prepared statements
	getStmt  *sql.Stmt
	putStmt  *sql.Stmt
	listStmt *sql.Stmt
}

var _ Backend = (*SQLiteBackend)(nil)

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Driver is the database/sql driver name: DriverModernc or DriverCGO.
	// Default: DriverModernc
	Driver string

	// SnapshotInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	SnapshotInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite storage backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:           dbPath,
		Driver:           DriverModernc,
		SnapshotInterval: 5 * time.Minute,
		BusyTimeout:      5 * time.Second,
	})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open(cfg.Driver, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer; one long-lived connection also
	// keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:               db,
		dbPath:           cfg.DBPath,
		snapshotInterval: cfg.SnapshotInterval,
		done:             make(chan struct{}),
	}

	if err := backend.applyPragmas(cfg.BusyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

func (s *SQLiteBackend) applyPragmas(busyTimeout time.Duration) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// initSchema creates the database schema if it doesn't exist.
// cooldown_start_at and updated_at hold Unix nanoseconds.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		feature_id TEXT NOT NULL,
		scope_key TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		cooldown_start_at INTEGER,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (feature_id, scope_key)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_cooldown ON usage_records(cooldown_start_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`
		SELECT feature_id, scope_key, count, cooldown_start_at, updated_at
		FROM usage_records
		WHERE feature_id = ? AND scope_key = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.putStmt, err = s.db.Prepare(`
		INSERT INTO usage_records (feature_id, scope_key, count, cooldown_start_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (feature_id, scope_key) DO UPDATE SET
			count = excluded.count,
			cooldown_start_at = excluded.cooldown_start_at,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare put statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT feature_id, scope_key, count, cooldown_start_at, updated_at
		FROM usage_records
		ORDER BY feature_id, scope_key
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	return nil
}

// GetRecord retrieves the record for key.
func (s *SQLiteBackend) GetRecord(ctx context.Context, key Key) (*UsageRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := scanRecord(s.getStmt.QueryRowContext(ctx, key.FeatureID, key.ScopeKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", key, err)
	}
	return rec, nil
}

// PutRecord upserts record.
func (s *SQLiteBackend) PutRecord(ctx context.Context, record *UsageRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	var cooldown sql.NullInt64
	if record.CooldownStartAt != nil {
		cooldown = sql.NullInt64{Int64: record.CooldownStartAt.UnixNano(), Valid: true}
	}
	updated := record.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.putStmt.ExecContext(ctx,
		record.FeatureID,
		record.ScopeKey,
		record.Count,
		cooldown,
		updated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", record.Key(), err)
	}
	return nil
}

// List returns all records ordered by key.
func (s *SQLiteBackend) List(ctx context.Context) ([]*UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// Ping checks the database connection.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.getStmt, s.putStmt, s.listStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*UsageRecord, error) {
	var (
		rec      UsageRecord
		cooldown sql.NullInt64
		updated  int64
	)
	if err := row.Scan(&rec.FeatureID, &rec.ScopeKey, &rec.Count, &cooldown, &updated); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Unix(0, updated)
	if cooldown.Valid {
		t := time.Unix(0, cooldown.Int64)
		rec.CooldownStartAt = &t
	}
	return &rec, nil
}
