package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mercator-hq/cooldown/pkg/limits/clock"
	"mercator-hq/cooldown/pkg/limits/storage"
)

var (
	// ErrRead wraps failures loading a record from the backend.
	ErrRead = errors.New("usage store read failed")

	// ErrWrite wraps failures persisting a record to the backend.
	ErrWrite = errors.New("usage store write failed")
)

// Config configures a Store.
type Config struct {
	// Clock stamps UpdatedAt and drives the debounced flush. Defaults to the
	// real clock.
	Clock clock.Clock

	// Logger receives read/write warnings. Defaults to slog.Default().
	Logger *slog.Logger

	// FlushInterval is how long dirty records wait before being written.
	// Zero writes every mutation through to the backend immediately.
	FlushInterval time.Duration
}

// Store is an in-memory mirror of usage records in front of a durable
// storage.Backend. Reads are served from the mirror once a key has been
// loaded; mutations update the mirror first and are then persisted.
type Store struct {
	backend       storage.Backend
	clock         clock.Clock
	logger        *slog.Logger
	flushInterval time.Duration

	mu      sync.Mutex
	records map[storage.Key]*storage.UsageRecord
	// dirty maps a key to the mirror version that still needs writing.
	dirty    map[storage.Key]uint64
	versions map[storage.Key]uint64
	pending  clock.Timer
	closed   bool

	flushMu sync.Mutex
}

// New creates a Store over backend.
func New(backend storage.Backend, cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		backend:       backend,
		clock:         cfg.Clock,
		logger:        cfg.Logger.With("component", "limits.usage"),
		flushInterval: cfg.FlushInterval,
		records:       make(map[storage.Key]*storage.UsageRecord),
		dirty:         make(map[storage.Key]uint64),
		versions:      make(map[storage.Key]uint64),
	}
}

// Load warms the mirror with every record in the backend. Records already
// in the mirror are left untouched.
func (s *Store) Load(ctx context.Context) (int, error) {
	records, err := s.backend.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list: %v", ErrRead, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range records {
		k := rec.Key()
		if _, ok := s.records[k]; ok {
			continue
		}
		s.records[k] = rec.Clone()
		n++
	}
	return n, nil
}

// Get returns the record for key, creating a zero record if none exists.
//
// A backend read failure is fail-open: a zero record is returned together
// with an error wrapping ErrRead, and nothing is cached so the next call
// retries the backend.
func (s *Store) Get(ctx context.Context, key storage.Key) (*storage.UsageRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	rec, err := s.load(ctx, key, true)
	if err != nil {
		return storage.NewRecord(key, s.clock.Now()), err
	}
	return rec.Clone(), nil
}

// Peek returns the record for key without creating it. The boolean reports
// whether a record exists.
func (s *Store) Peek(ctx context.Context, key storage.Key) (*storage.UsageRecord, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	rec, err := s.load(ctx, key, false)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

// SetCount overwrites the counter for key.
func (s *Store) SetCount(ctx context.Context, key storage.Key, n int) error {
	_, err := s.update(ctx, key, func(r *storage.UsageRecord) { r.Count = n })
	return err
}

// SetCooldownStart sets or clears (nil) the cooldown start for key.
func (s *Store) SetCooldownStart(ctx context.Context, key storage.Key, start *time.Time) error {
	_, err := s.update(ctx, key, func(r *storage.UsageRecord) {
		if start == nil {
			r.CooldownStartAt = nil
			return
		}
		t := *start
		r.CooldownStartAt = &t
	})
	return err
}

// Increment atomically adds one to the counter and returns the new count.
// The mirror is updated even when persisting fails.
func (s *Store) Increment(ctx context.Context, key storage.Key) (int, error) {
	rec, err := s.update(ctx, key, func(r *storage.UsageRecord) { r.Count++ })
	if rec == nil {
		return 0, err
	}
	return rec.Count, err
}

// Reset zeroes the counter and clears the cooldown for key.
func (s *Store) Reset(ctx context.Context, key storage.Key) error {
	_, err := s.update(ctx, key, func(r *storage.UsageRecord) {
		r.Count = 0
		r.CooldownStartAt = nil
	})
	return err
}

// Keys returns every key known to the mirror or the backend, sorted.
func (s *Store) Keys(ctx context.Context) ([]storage.Key, error) {
	seen := make(map[storage.Key]struct{})

	records, listErr := s.backend.List(ctx)
	for _, rec := range records {
		seen[rec.Key()] = struct{}{}
	}

	s.mu.Lock()
	for k := range s.records {
		seen[k] = struct{}{}
	}
	s.mu.Unlock()

	keys := make([]storage.Key, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	if listErr != nil {
		return keys, fmt.Errorf("%w: list: %v", ErrRead, listErr)
	}
	return keys, nil
}

// Dirty returns the number of records waiting to be persisted.
func (s *Store) Dirty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// Flush writes every dirty record to the backend. Records that fail to
// write stay dirty and are retried on the next flush.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	type item struct {
		rec     *storage.UsageRecord
		version uint64
	}

	s.mu.Lock()
	batch := make([]item, 0, len(s.dirty))
	for k, v := range s.dirty {
		if rec, ok := s.records[k]; ok {
			batch = append(batch, item{rec: rec.Clone(), version: v})
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, it := range batch {
		if err := s.backend.PutRecord(ctx, it.rec); err != nil {
			s.logger.Warn("failed to persist usage record",
				"key", it.rec.Key().String(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrWrite, it.rec.Key(), err))
			continue
		}
		s.mu.Lock()
		if s.dirty[it.rec.Key()] == it.version {
			delete(s.dirty, it.rec.Key())
		}
		s.mu.Unlock()
	}

	if len(errs) > 0 {
		s.scheduleFlush()
		return errors.Join(errs...)
	}
	return nil
}

// Close stops the debounced flush and writes any remaining dirty records.
// The backend is not closed.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.mu.Unlock()
	return s.Flush(ctx)
}

// load returns the mirror record for key, fetching it from the backend on a
// miss. With create set, a missing record is created and marked dirty.
// The returned pointer is owned by the mirror.
func (s *Store) load(ctx context.Context, key storage.Key, create bool) (*storage.UsageRecord, error) {
	s.mu.Lock()
	if rec, ok := s.records[key]; ok {
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	rec, err := s.backend.GetRecord(ctx, key)
	if err != nil {
		s.logger.Warn("usage read failed, treating as unused",
			"key", key.String(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %s: %v", ErrRead, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have populated the key while we were reading.
	if existing, ok := s.records[key]; ok {
		return existing, nil
	}
	if rec == nil {
		if !create {
			return nil, nil
		}
		rec = storage.NewRecord(key, s.clock.Now())
		s.records[key] = rec
		s.markDirtyLocked(key)
		return rec, nil
	}
	s.records[key] = rec
	return rec, nil
}

func (s *Store) update(ctx context.Context, key storage.Key, mutate func(*storage.UsageRecord)) (*storage.UsageRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	_, readErr := s.load(ctx, key, true)

	s.mu.Lock()
	rec, ok := s.records[key]
	if !ok {
		// Fail-open: the caller sees the mutation applied to a zero record,
		// but nothing is cached or written so the unreadable backend state
		// is never overwritten with it.
		scratch := storage.NewRecord(key, s.clock.Now())
		s.mu.Unlock()
		mutate(scratch)
		return scratch, readErr
	}
	// A concurrent caller may have loaded the key after our read failed.
	readErr = nil
	mutate(rec)
	rec.UpdatedAt = s.clock.Now()
	s.markDirtyLocked(key)
	out := rec.Clone()
	s.mu.Unlock()

	if s.flushInterval > 0 {
		s.scheduleFlush()
		return out, readErr
	}

	if err := s.flushKey(ctx, key); err != nil {
		return out, errors.Join(readErr, err)
	}
	return out, readErr
}

func (s *Store) flushKey(ctx context.Context, key storage.Key) error {
	s.mu.Lock()
	rec, ok := s.records[key]
	version, dirty := s.dirty[key]
	if !ok || !dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := rec.Clone()
	s.mu.Unlock()

	if err := s.backend.PutRecord(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist usage record",
			"key", key.String(),
			"error", err,
		)
		return fmt.Errorf("%w: %s: %v", ErrWrite, key, err)
	}

	s.mu.Lock()
	if s.dirty[key] == version {
		delete(s.dirty, key)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) markDirtyLocked(key storage.Key) {
	s.versions[key]++
	s.dirty[key] = s.versions[key]
}

// scheduleFlush arms a single debounced flush if none is pending.
func (s *Store) scheduleFlush() {
	if s.flushInterval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pending != nil {
		return
	}
	s.pending = s.clock.AfterFunc(s.flushInterval, func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Warn("debounced flush incomplete", "error", err)
		}
	})
}
