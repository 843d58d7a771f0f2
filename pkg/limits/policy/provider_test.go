package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/cooldown/pkg/limits"
)

const validDoc = `
features:
  refresh:
    limit: 2
    cooldown: 120s
    min_tier: lite
  messages:
    limit: 20
    cooldown: 24h
    min_tier: plus
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestParse(t *testing.T) {
	policies, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := limits.LimitPolicy{FeatureID: "refresh", Limit: 2, CooldownDuration: 120 * time.Second, MinTier: limits.TierLite}
	if policies["refresh"] != want {
		t.Errorf("refresh = %+v, want %+v", policies["refresh"], want)
	}
	if policies["messages"].MinTier != limits.TierPlus {
		t.Errorf("messages min tier = %v, want plus", policies["messages"].MinTier)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown tier", doc: "features:\n  refresh: {limit: 2, cooldown: 1m, min_tier: gold}\n"},
		{name: "negative limit", doc: "features:\n  refresh: {limit: -1, cooldown: 1m}\n"},
		{name: "colon in id", doc: "features:\n  \"a:b\": {limit: 1, cooldown: 1m}\n"},
		{name: "unknown field", doc: "features:\n  refresh: {limit: 1, window: 1m}\n"},
		{name: "bad duration", doc: "features:\n  refresh: {limit: 1, cooldown: soon}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestFileProvider_GetAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeFile(t, path, validDoc)

	p := NewFileProvider(path, nil)
	ctx := context.Background()

	if _, err := p.Get(ctx, "refresh"); !errors.Is(err, limits.ErrPolicyUnavailable) {
		t.Fatalf("Get before load error = %v, want ErrPolicyUnavailable", err)
	}

	if err := p.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	got, err := p.Get(ctx, "refresh")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Limit != 2 {
		t.Errorf("Limit = %d, want 2", got.Limit)
	}
	if _, err := p.Get(ctx, "search"); !errors.Is(err, limits.ErrPolicyUnavailable) {
		t.Errorf("unknown feature error = %v, want ErrPolicyUnavailable", err)
	}
	if ids := p.Features(); len(ids) != 2 || ids[0] != "messages" || ids[1] != "refresh" {
		t.Errorf("Features = %v", ids)
	}

	// A broken edit keeps the previous policies.
	writeFile(t, path, "features: [oops")
	if err := p.Reload(); err == nil {
		t.Fatal("Reload of broken file succeeded")
	}
	if got, err := p.Get(ctx, "refresh"); err != nil || got.Limit != 2 {
		t.Errorf("after failed reload Get = %+v, %v; want previous policy", got, err)
	}
	if _, lastErr := p.Status(); lastErr == nil {
		t.Error("Status did not report the failed reload")
	}
}

func TestFileProvider_Watch(t *testing.T) {
	if testing.Short() {
		t.Skip("relies on filesystem notifications")
	}

	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeFile(t, path, validDoc)

	p := NewFileProvider(path, nil)
	if err := p.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx, 20*time.Millisecond) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "features:\n  refresh: {limit: 5, cooldown: 1m, min_tier: pro}\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if pol, err := p.Get(context.Background(), "refresh"); err == nil && pol.Limit == 5 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("policy change was not picked up")
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	calls := make(chan int, 10)
	for i := range 5 {
		d.Trigger(func() { calls <- i })
	}

	select {
	case got := <-calls:
		if got != 4 {
			t.Errorf("callback from trigger %d, want last (4)", got)
		}
	case <-time.After(time.Second):
		t.Fatal("debounced callback never ran")
	}

	select {
	case extra := <-calls:
		t.Errorf("unexpected extra callback %d", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncer_StopCancels(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	ran := make(chan struct{}, 1)
	d.Trigger(func() { ran <- struct{}{} })
	d.Stop()
	d.Stop()

	select {
	case <-ran:
		t.Error("callback ran after Stop")
	case <-time.After(80 * time.Millisecond):
	}
}
