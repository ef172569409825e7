package watchdog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func alwaysConnected() bool { return true }

func TestAllowedGap(t *testing.T) {
	cases := []struct {
		window time.Duration
		want   time.Duration
	}{
		{2 * time.Second, 10 * time.Second},  // 2*2+5=9 is below the floor
		{3 * time.Second, 11 * time.Second},  // 2*3+5
		{10 * time.Second, 25 * time.Second}, // 2*10+5
		{0, 10 * time.Second},
	}
	for _, c := range cases {
		if got := AllowedGap(c.window); got != c.want {
			t.Errorf("AllowedGap(%v): expected %v, got %v", c.window, c.want, got)
		}
	}
}

func TestStalledRequiresGapExceeded(t *testing.T) {
	m := New(2*time.Second, alwaysConnected, testLogger())
	start := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	m.RecordSuccess(start)

	// Allowed gap for a 2s window is 10s. Exactly at the gap is fine;
	// past it is a stall.
	if m.Stalled(start.Add(10 * time.Second)) {
		t.Error("gap equal to the allowance must not count as stalled")
	}
	if !m.Stalled(start.Add(10*time.Second + time.Millisecond)) {
		t.Error("gap past the allowance must count as stalled")
	}
}

func TestStalledSkippedBeforeFirstSuccess(t *testing.T) {
	m := New(2*time.Second, alwaysConnected, testLogger())
	if m.Stalled(time.Now().Add(time.Hour)) {
		t.Error("check must be skipped until the first successful delivery")
	}
}

func TestStalledSkippedWhileDisconnected(t *testing.T) {
	connected := false
	m := New(2*time.Second, func() bool { return connected }, testLogger())
	start := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	m.RecordSuccess(start)

	late := start.Add(time.Hour)
	if m.Stalled(late) {
		t.Error("check must be skipped while the transport is down")
	}
	connected = true
	if !m.Stalled(late) {
		t.Error("check must resume once the transport is back")
	}
}

func TestSuccessResetsTheClock(t *testing.T) {
	m := New(2*time.Second, alwaysConnected, testLogger())
	start := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	m.RecordSuccess(start)
	m.RecordSuccess(start.Add(9 * time.Second))

	if m.Stalled(start.Add(15 * time.Second)) {
		t.Error("a later success must reset the stall clock")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m := New(2*time.Second, alwaysConnected, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
