package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"mercator-hq/cooldown/pkg/limits/clock"
	"mercator-hq/cooldown/pkg/limits/storage"
)

var epoch = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	keys   []string
	source []Source
}

func (r *recorder) handle(key storage.Key, source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key.String())
	r.source = append(r.source, source)
}

func (r *recorder) snapshot() ([]string, []Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...), append([]Source(nil), r.source...)
}

func newTestScheduler(clk clock.Clock, rec *recorder) *Scheduler {
	return New(Config{Clock: clk, OnExpire: rec.handle, Tolerance: time.Second})
}

func TestScheduler_TimerFires(t *testing.T) {
	clk := clock.NewManual(epoch)
	rec := &recorder{}
	s := newTestScheduler(clk, rec)
	key := storage.NewKey("refresh", "")

	if err := s.Arm(key, epoch.Add(120*time.Second)); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	if s.State(key) != StateArmed {
		t.Fatalf("State = %v, want armed", s.State(key))
	}

	clk.Advance(119 * time.Second)
	if keys, _ := rec.snapshot(); len(keys) != 0 {
		t.Fatalf("fired early: %v", keys)
	}

	clk.Advance(time.Second)
	keys, sources := rec.snapshot()
	if len(keys) != 1 || keys[0] != "refresh:global" {
		t.Fatalf("fired keys = %v, want [refresh:global]", keys)
	}
	if sources[0] != SourceTimer {
		t.Errorf("source = %s, want timer", sources[0])
	}
	if s.State(key) != StateIdle {
		t.Errorf("State after fire = %v, want idle", s.State(key))
	}
}

func TestScheduler_RearmReplacesTimer(t *testing.T) {
	clk := clock.NewManual(epoch)
	rec := &recorder{}
	s := newTestScheduler(clk, rec)
	key := storage.NewKey("refresh", "")

	_ = s.Arm(key, epoch.Add(10*time.Second))
	_ = s.Arm(key, epoch.Add(30*time.Second))

	if clk.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1 timer per key", clk.Pending())
	}

	clk.Advance(10 * time.Second)
	if keys, _ := rec.snapshot(); len(keys) != 0 {
		t.Fatalf("stale timer fired: %v", keys)
	}
	clk.Advance(20 * time.Second)
	if keys, _ := rec.snapshot(); len(keys) != 1 {
		t.Errorf("fired %d times, want 1", len(keys))
	}
}

func TestScheduler_Cancel(t *testing.T) {
	clk := clock.NewManual(epoch)
	rec := &recorder{}
	s := newTestScheduler(clk, rec)
	key := storage.NewKey("filter", "")

	_ = s.Arm(key, epoch.Add(time.Minute))
	if !s.Cancel(key) {
		t.Error("Cancel = false, want true for armed key")
	}
	if s.Cancel(key) {
		t.Error("second Cancel = true, want false")
	}

	clk.Advance(time.Hour)
	if keys, _ := rec.snapshot(); len(keys) != 0 {
		t.Errorf("cancelled timer fired: %v", keys)
	}
}

// TestScheduler_SweepAfterLostTimers simulates a suspended process whose
// timers never fired: only the sweep can notice the expiry.
func TestScheduler_SweepAfterLostTimers(t *testing.T) {
	clk := clock.NewManual(epoch)
	rec := &recorder{}
	s := newTestScheduler(clk, rec)

	due := storage.NewKey("refresh", "")
	later := storage.NewKey("messages", "partner-1")
	_ = s.Arm(due, epoch.Add(2*time.Minute))
	_ = s.Arm(later, epoch.Add(time.Hour))

	clk.Freeze()
	clk.Advance(2*time.Minute - 500*time.Millisecond)

	if n := s.Sweep(context.Background()); n != 1 {
		t.Fatalf("Sweep = %d, want 1 (within tolerance)", n)
	}
	keys, sources := rec.snapshot()
	if len(keys) != 1 || keys[0] != "refresh:global" || sources[0] != SourceSweep {
		t.Errorf("swept = %v/%v, want refresh:global via sweep", keys, sources)
	}
	if s.State(later) != StateArmed {
		t.Error("sweep expired a key that is not yet due")
	}
	if n := s.Sweep(context.Background()); n != 0 {
		t.Errorf("second Sweep = %d, want 0", n)
	}
}

func TestScheduler_ArmedOrderAndFireAt(t *testing.T) {
	clk := clock.NewManual(epoch)
	s := newTestScheduler(clk, &recorder{})

	a := storage.NewKey("a", "")
	b := storage.NewKey("b", "")
	_ = s.Arm(b, epoch.Add(2*time.Second))
	_ = s.Arm(a, epoch.Add(5*time.Second))

	armed := s.Armed()
	if len(armed) != 2 || armed[0] != b || armed[1] != a {
		t.Errorf("Armed = %v, want [b a]", armed)
	}
	at, ok := s.FireAt(a)
	if !ok || !at.Equal(epoch.Add(5*time.Second)) {
		t.Errorf("FireAt(a) = %v, %v", at, ok)
	}
}

func TestScheduler_ArmPastDeadlineFiresAsync(t *testing.T) {
	clk := clock.NewManual(epoch)
	done := make(chan Source, 1)
	s := New(Config{Clock: clk, OnExpire: func(_ storage.Key, src Source) { done <- src }})

	if err := s.Arm(storage.NewKey("refresh", ""), epoch.Add(-time.Second)); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	select {
	case src := <-done:
		if src != SourceTimer {
			t.Errorf("source = %s, want timer", src)
		}
	case <-time.After(time.Second):
		t.Fatal("overdue arm never fired")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(Config{Schedule: "@every 1s"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning = false after Start")
	}
	if s.NextSweep() == nil {
		t.Error("NextSweep = nil while running")
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}
	if err := s.Arm(storage.NewKey("refresh", ""), time.Now().Add(time.Minute)); err != ErrStopped {
		t.Errorf("Arm after Stop error = %v, want ErrStopped", err)
	}
}

func TestScheduler_StopReleasesContextWatcher(t *testing.T) {
	s := New(Config{Schedule: "@every 1h"})

	// The context is never cancelled; Stop alone must end the watcher.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.mu.Lock()
	watchDone := s.watchDone
	s.mu.Unlock()

	s.Stop()
	s.Stop()

	select {
	case <-watchDone:
	case <-time.After(2 * time.Second):
		t.Fatal("context watcher still running after Stop")
	}
}

func TestScheduler_ContextCancelStops(t *testing.T) {
	s := New(Config{Schedule: "@every 1h"})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.mu.Lock()
	watchDone := s.watchDone
	s.mu.Unlock()

	cancel()
	select {
	case <-watchDone:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit on cancel")
	}
	if s.IsRunning() {
		t.Error("IsRunning = true after context cancel")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := New(Config{Schedule: "every now and then"})
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestScheduler_PeriodicSweepRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real cron tick")
	}

	done := make(chan struct{}, 1)
	clk := clock.NewManual(epoch)
	s := New(Config{
		Clock:    clk,
		Schedule: "@every 1s",
		OnExpire: func(storage.Key, Source) {
			select {
			case done <- struct{}{}:
			default:
			}
		},
	})
	_ = s.Arm(storage.NewKey("refresh", ""), epoch.Add(time.Minute))
	clk.Freeze()
	clk.Set(epoch.Add(2 * time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("periodic sweep did not expire the key")
	}
}
