package limits

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.OnExpired(func(f, s string) { got = append(got, "a:"+f+":"+s) })
	bus.OnExpired(func(f, s string) { got = append(got, "b:"+f+":"+s) })

	bus.PublishExpired("refresh", "global")

	want := []string{"a:refresh:global", "b:refresh:global"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("deliveries = %v, want %v", got, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	unsubscribe := bus.OnExpired(func(string, string) { calls++ })
	bus.PublishExpired("refresh", "global")
	unsubscribe()
	unsubscribe()
	bus.PublishExpired("refresh", "global")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if bus.Subscribers() != 0 {
		t.Errorf("Subscribers = %d, want 0", bus.Subscribers())
	}
}

func TestBus_PanickingHandlerIsolated(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(slog.New(slog.NewTextHandler(&buf, nil)))

	delivered := false
	bus.OnExpired(func(string, string) { panic("boom") })
	bus.OnExpired(func(string, string) { delivered = true })

	bus.PublishExpired("filter", "global")

	if !delivered {
		t.Error("handler after a panicking one was skipped")
	}
	if !strings.Contains(buf.String(), "expired handler panicked") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestNewLogSubscriber(t *testing.T) {
	var buf bytes.Buffer
	h := NewLogSubscriber(slog.New(slog.NewJSONHandler(&buf, nil)))

	h("messages", "partner-2")

	out := buf.String()
	for _, want := range []string{`"msg":"cooldown expired"`, `"feature":"messages"`, `"scope":"partner-2"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}
}
