package clock

import (
	"strings"
	"testing"
	"time"
)

func TestReal_NowHasNoMonotonicReading(t *testing.T) {
	now := Real{}.Now()
	if strings.Contains(now.String(), "m=") {
		t.Errorf("Now() = %s, want wall time only", now)
	}
	if d := time.Since(now); d < 0 || d > time.Minute {
		t.Errorf("Now() is %s away from time.Now()", d)
	}
}

func TestManual_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	var order []int
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	c.AfterFunc(10*time.Second, func() { order = append(order, 10) })

	c.Advance(3 * time.Second)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("fired = %v, want [1 2]", order)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}
	if got := c.Now(); !got.Equal(start.Add(3 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(3*time.Second))
	}
}

func TestManual_StopPreventsFire(t *testing.T) {
	c := NewManual(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("Stop() = false for active timer, want true")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestManual_ZeroDelayFiresImmediately(t *testing.T) {
	c := NewManual(time.Unix(100, 0))

	fired := false
	c.AfterFunc(0, func() { fired = true })

	if !fired {
		t.Error("zero-delay timer did not fire synchronously")
	}
}

func TestManual_FreezeDropsTimers(t *testing.T) {
	c := NewManual(time.Unix(0, 0))

	fired := false
	c.AfterFunc(time.Second, func() { fired = true })
	c.Freeze()
	c.Advance(time.Hour)

	if fired {
		t.Error("frozen timer fired")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}
