package spinner

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

// fixedClock returns a clock that advances by step on every call.
func fixedClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

// -----------------------------------------------------------------------------
// Spinner Tests
// -----------------------------------------------------------------------------

func TestNewWithConfig_Defaults(t *testing.T) {
	s := NewWithConfig(Config{Writer: &bytes.Buffer{}})
	if len(s.config.CharSet) != len(Braille) {
		t.Errorf("expected Braille charset by default")
	}
	if s.config.RefreshRate != 80*time.Millisecond {
		t.Errorf("expected 80ms refresh, got %v", s.config.RefreshRate)
	}
	if s.IsTTY() {
		t.Error("a bytes.Buffer is not a terminal")
	}
}

func TestSpinner_NonTTY(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithConfig(Config{Message: "Training", Writer: &buf, ShowElapsed: true, IsTTY: boolPtr(false)})
	s.now = fixedClock(1500 * time.Millisecond)

	s.Start()
	if !s.IsActive() {
		t.Fatal("expected active spinner")
	}
	s.Start() // no-op
	s.Success("")

	want := "Training...\n✓ Training (1.5s)\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
	if s.IsActive() {
		t.Error("expected inactive spinner after Success")
	}
}

func TestSpinner_NonTTYFail(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithConfig(Config{Message: "Training", Writer: &buf, IsTTY: boolPtr(false)})
	s.Start()
	s.Fail("training failed")

	if !strings.HasSuffix(buf.String(), "✗ training failed\n") {
		t.Errorf("unexpected output %q", buf.String())
	}
	if strings.Contains(buf.String(), "\033[") {
		t.Error("non-TTY output must not contain ANSI escapes")
	}
}

func TestSpinner_TTYAnimatesAndCleansUp(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithConfig(Config{
		Message:     "Training",
		Writer:      &buf,
		CharSet:     Line,
		RefreshRate: time.Millisecond,
		IsTTY:       boolPtr(true),
	})

	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Update("Training epoch 2")
	time.Sleep(10 * time.Millisecond)
	s.Stop()
	s.Stop() // no-op

	out := buf.String()
	for _, want := range []string{hideCursor, "| Training", "Training epoch 2", showCursor} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
	if !strings.HasSuffix(out, showCursor) {
		t.Error("expected cursor restored last")
	}
}

func TestSpinner_TTYSuccessColored(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithConfig(Config{Message: "Training", Writer: &buf, IsTTY: boolPtr(true), RefreshRate: time.Millisecond})
	s.Start()
	s.Success("trained")

	if !strings.Contains(buf.String(), colorGreen+symbolSuccess+colorReset+" trained") {
		t.Errorf("expected colored success line in %q", buf.String())
	}
}

func TestSpinner_StopBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, "idle")
	s.Stop()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
	if s.Message() != "idle" {
		t.Errorf("Message() = %q", s.Message())
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1200 * time.Millisecond, "(1.2s)"},
		{90 * time.Second, "(1m 30s)"},
		{2*time.Hour + 5*time.Minute, "(2h 5m)"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{100 * time.Millisecond, "ETA: 1s"},
		{30 * time.Second, "ETA: 30s"},
		{2 * time.Minute, "ETA: 2m"},
		{75 * time.Second, "ETA: 1m 15s"},
		{3 * time.Hour, "ETA: 3h"},
		{150 * time.Minute, "ETA: 2h 30m"},
	}
	for _, tt := range tests {
		if got := formatETA(tt.d); got != tt.want {
			t.Errorf("formatETA(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
