// Package storage provides durable backends for usage records.
//
// # Overview
//
// Every limited feature keeps one UsageRecord per (feature, scope) pair,
// addressed by the structured key "{featureId}:{scopeKey}". Records hold the
// consumed count and the cooldown start time. They are created lazily and are
// never deleted, so a user who already spent a window stays recorded across
// restarts.
//
// Implementations:
//
//   - Memory: in-process map, no persistence (tests, ephemeral hosts)
//   - SQLite: file-based persistence via modernc.org/sqlite or mattn/go-sqlite3
//   - Redis: one hash per key, shared across processes
//   - Postgres: one row per key via pgx
//
// # Usage
//
//	backend, err := storage.NewSQLiteBackend("data/usage.db")
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	rec, err := backend.GetRecord(ctx, storage.NewKey("refresh", storage.GlobalScope))
//
// # Thread Safety
//
// All backends are safe for concurrent use. Per-key serialization of
// read-modify-write cycles is the caller's job (see package usage).
package storage
