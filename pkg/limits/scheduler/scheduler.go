package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/cooldown/pkg/limits/clock"
	"mercator-hq/cooldown/pkg/limits/storage"
)

// DefaultSweepSchedule is the fallback sweep cadence.
const DefaultSweepSchedule = "@every 1s"

// ErrStopped is returned by Arm once the scheduler has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// State is the scheduler's view of a key.
type State int

const (
	// StateIdle means no cooldown is pending for the key.
	StateIdle State = iota

	// StateArmed means a precision timer is pending for the key.
	StateArmed
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	default:
		return "idle"
	}
}

// Source says which path detected an expiry.
type Source string

const (
	SourceTimer Source = "timer"
	SourceSweep Source = "sweep"
)

// ExpireFunc handles an expired key. It is called without any scheduler
// lock held, at most once per Arm.
type ExpireFunc func(key storage.Key, source Source)

// Config configures a Scheduler.
type Config struct {
	// Clock drives timers and the sweep's notion of now.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Schedule is the cron spec for the fallback sweep. Defaults to
	// DefaultSweepSchedule.
	Schedule string

	// Tolerance lets the sweep treat keys due within this window as expired.
	Tolerance time.Duration

	// OnExpire receives expired keys.
	OnExpire ExpireFunc
}

type entry struct {
	fireAt time.Time
	timer  clock.Timer
	gen    uint64
}

// Scheduler keeps at most one precision timer per key and runs a periodic
// sweep that catches any timer the runtime failed to deliver, for example
// after the process was suspended.
type Scheduler struct {
	clock     clock.Clock
	logger    *slog.Logger
	schedule  string
	tolerance time.Duration
	onExpire  ExpireFunc

	mu      sync.Mutex
	entries map[storage.Key]*entry
	gen     uint64
	cron    *cron.Cron
	running bool
	stopped bool

	// stop is closed by the first Stop call; watchDone is closed when the
	// goroutine watching Start's context exits.
	stop      chan struct{}
	watchDone chan struct{}
}

// New creates a Scheduler. The sweep does not run until Start is called.
func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSweepSchedule
	}
	if cfg.OnExpire == nil {
		cfg.OnExpire = func(storage.Key, Source) {}
	}
	return &Scheduler{
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "limits.scheduler"),
		schedule:  cfg.Schedule,
		tolerance: cfg.Tolerance,
		onExpire:  cfg.OnExpire,
		entries:   make(map[storage.Key]*entry),
		stop:      make(chan struct{}),
	}
}

// Arm installs a one-shot timer for key firing at fireAt, replacing any
// timer already pending for it.
//
// A fireAt that is already due is delivered on a new goroutine so callers
// may hold their own locks while arming.
func (s *Scheduler) Arm(key storage.Key, fireAt time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if old, ok := s.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	e := &entry{fireAt: fireAt, gen: gen}
	s.entries[key] = e
	s.mu.Unlock()

	d := fireAt.Sub(s.clock.Now().Round(0))
	if d <= 0 {
		go s.fire(key, gen, SourceTimer)
		return nil
	}

	timer := s.clock.AfterFunc(d, func() { s.fire(key, gen, SourceTimer) })
	if timer == nil {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur.gen == gen {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return fmt.Errorf("no timer installed for %s", key)
	}

	s.mu.Lock()
	if cur, ok := s.entries[key]; ok && cur.gen == gen {
		cur.timer = timer
	}
	s.mu.Unlock()
	return nil
}

// Cancel removes any pending timer for key. It reports whether one existed.
func (s *Scheduler) Cancel(key storage.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, key)
	return true
}

// State returns the key's scheduler state.
func (s *Scheduler) State(key storage.Key) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return StateArmed
	}
	return StateIdle
}

// FireAt returns when key's timer is due.
func (s *Scheduler) FireAt(key storage.Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.fireAt, true
}

// Armed returns the armed keys sorted by fire time.
func (s *Scheduler) Armed() []storage.Key {
	s.mu.Lock()
	type item struct {
		key storage.Key
		at  time.Time
	}
	items := make([]item, 0, len(s.entries))
	for k, e := range s.entries {
		items = append(items, item{k, e.fireAt})
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].at.Equal(items[j].at) {
			return items[i].key.String() < items[j].key.String()
		}
		return items[i].at.Before(items[j].at)
	})
	keys := make([]storage.Key, len(items))
	for i, it := range items {
		keys[i] = it.key
	}
	return keys
}

// Sweep expires every armed key whose fire time has passed, comparing
// against the wall clock. It returns the number of keys expired.
func (s *Scheduler) Sweep(ctx context.Context) int {
	// Strip the monotonic reading: after a suspend only wall time has moved.
	now := s.clock.Now().Round(0)

	s.mu.Lock()
	var due []storage.Key
	for k, e := range s.entries {
		if !e.fireAt.After(now.Add(s.tolerance)) {
			if e.timer != nil {
				e.timer.Stop()
			}
			delete(s.entries, k)
			due = append(due, k)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].String() < due[j].String() })
	for _, k := range due {
		if ctx.Err() != nil {
			break
		}
		s.onExpire(k, SourceSweep)
	}
	if len(due) > 0 {
		s.logger.Debug("sweep expired cooldowns", "count", len(due))
	}
	return len(due)
}

// Start validates the sweep schedule and starts the periodic sweep. The
// sweep stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true

	s.logger.Info("cooldown sweep started", "schedule", s.schedule)

	watchDone := make(chan struct{})
	s.watchDone = watchDone
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stop:
		}
	}()
	return nil
}

// Stop halts the sweep, waits for a running sweep to finish and cancels all
// pending timers. Later Arm calls fail with ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	wasRunning := s.running
	s.running = false
	s.cron = nil
	if !s.stopped {
		close(s.stop)
	}
	s.stopped = true
	for k, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, k)
	}
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if wasRunning {
		s.logger.Info("cooldown sweep stopped")
	}
}

// IsRunning reports whether the periodic sweep is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextSweep returns when the periodic sweep runs next.
func (s *Scheduler) NextSweep() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

func (s *Scheduler) fire(key storage.Key, gen uint64, source Source) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		// Cancelled, re-armed or already swept.
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()

	s.onExpire(key, source)
}
