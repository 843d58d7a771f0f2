package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

type table struct{}

func (table) Header() []string { return []string{"FEATURE", "SCOPE", "COUNT"} }
func (table) Rows() [][]string {
	return [][]string{{"refresh", "global", "2"}, {"filter", "partner,7", "0"}}
}

func TestTextFormatter_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatText).FormatTo(&buf, table{}); err != nil {
		t.Fatalf("FormatTo failed: %v", err)
	}
	want := "FEATURE  SCOPE      COUNT\nrefresh  global     2\nfilter   partner,7  0\n"
	if buf.String() != want {
		t.Errorf("unexpected output:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestTextFormatter_Value(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatText).FormatTo(&buf, "done"); err != nil {
		t.Fatalf("FormatTo failed: %v", err)
	}
	if buf.String() != "done\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestCSVFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatCSV).FormatTo(&buf, table{}); err != nil {
		t.Fatalf("FormatTo failed: %v", err)
	}
	want := "FEATURE,SCOPE,COUNT\nrefresh,global,2\nfilter,\"partner,7\",0\n"
	if buf.String() != want {
		t.Errorf("unexpected output %q", buf.String())
	}

	if err := NewFormatter(FormatCSV).FormatTo(&buf, 42); err == nil {
		t.Error("expected error for non-table data")
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := &JSONFormatter{}
	if err := f.FormatTo(&buf, map[string]int{"count": 2}); err != nil {
		t.Fatalf("FormatTo failed: %v", err)
	}
	if buf.String() != "{\"count\":2}\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatText, "JSON": FormatJSON, "csv": FormatCSV} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	_, err := ParseOutputFormat("yaml")
	if ExitCode(err) != ExitConfig {
		t.Errorf("expected config exit code for bad format, got %d", ExitCode(err))
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.New("boom"), ExitError},
		{NewConfigError("storage.backend", "unknown"), ExitConfig},
		{NewCommandError("run", fmt.Errorf("wrapped: %w", NewConfigError("x", "y"))), ExitConfig},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestCommandErrorUnwrap(t *testing.T) {
	base := errors.New("base")
	err := NewCommandError("usage reset", base)
	if !errors.Is(err, base) {
		t.Error("expected CommandError to unwrap to its cause")
	}
	if err.Error() != "command usage reset failed: base" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestSetupSignalHandler_ReloadAndResume(t *testing.T) {
	ctx, sigs := SetupSignalHandler(context.Background())
	defer sigs.Stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("failed to send SIGHUP: %v", err)
	}
	select {
	case <-sigs.Reload:
	case <-time.After(2 * time.Second):
		t.Fatal("expected reload notification")
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGCONT); err != nil {
		t.Fatalf("failed to send SIGCONT: %v", err)
	}
	select {
	case <-sigs.Resume:
	case <-time.After(2 * time.Second):
		t.Fatal("expected resume notification")
	}

	if ctx.Err() != nil {
		t.Error("expected context to stay live on reload and resume")
	}
}

func TestSetupSignalHandler_StopCancels(t *testing.T) {
	ctx, sigs := SetupSignalHandler(context.Background())
	sigs.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected context to be canceled after Stop")
	}
}
