// Package clock abstracts wall-clock reads and one-shot timers so the limits
// engine and its scheduler can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock provides the current time and one-shot timers.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Real is the Clock backed by package time.
type Real struct{}

// New returns the real clock.
func New() Clock { return Real{} }

// Now returns time.Now() stripped of its monotonic reading, so that
// durations measured against persisted timestamps use wall time throughout.
func (Real) Now() time.Time { return time.Now().Round(0) }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual is a Clock whose time only moves when Advance or Set is called.
// Timers due at or before the new time fire synchronously, in fire-time
// order, on the goroutine that moved the clock.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
	seq    int
}

type manualTimer struct {
	clock  *Manual
	at     time.Time
	seq    int
	f      func()
	active bool
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc registers f to run once the clock reaches Now()+d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	m.seq++
	t := &manualTimer{clock: m, at: m.now.Add(d), seq: m.seq, f: f, active: true}
	m.timers = append(m.timers, t)
	due := !t.at.After(m.now)
	m.mu.Unlock()

	if due {
		m.fireDue()
	}
	return t
}

// Advance moves the clock forward by d and fires due timers.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
	m.fireDue()
}

// Set moves the clock to t and fires due timers. Moving backwards is allowed
// and fires nothing.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
	m.fireDue()
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.active {
			n++
		}
	}
	return n
}

// Freeze detaches all pending timers without firing them, simulating a
// process whose in-memory timers were lost while it was suspended.
func (m *Manual) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		t.active = false
	}
	m.timers = nil
}

func (m *Manual) fireDue() {
	for {
		m.mu.Lock()
		var due []*manualTimer
		var rest []*manualTimer
		for _, t := range m.timers {
			if !t.active {
				continue
			}
			if !t.at.After(m.now) {
				due = append(due, t)
			} else {
				rest = append(rest, t)
			}
		}
		m.timers = rest
		for _, t := range due {
			t.active = false
		}
		m.mu.Unlock()

		if len(due) == 0 {
			return
		}

		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		for _, t := range due {
			t.f()
		}
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.active = false
	return was
}
