package window

import (
	"testing"
	"time"
)

func TestNewAggregator(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := NewAggregator(2*time.Second, 80.0, start)
	if a == nil {
		t.Fatal("NewAggregator returned nil")
	}
	if !a.WindowStart().Equal(start) {
		t.Errorf("expected window start %v, got %v", start, a.WindowStart())
	}
	if a.Peak() != 0 {
		t.Errorf("new aggregator should have zero peak, got %v", a.Peak())
	}
}

func TestPeakTracksMaximumWithinWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := NewAggregator(2*time.Second, 80.0, start)

	samples := []float64{45.2, 52.1, 49.9, 51.0}
	for i, v := range samples {
		a.Observe(v, start.Add(time.Duration(i)*100*time.Millisecond))
	}

	got := a.Tick(start.Add(2 * time.Second))
	if len(got) != 1 {
		t.Fatalf("expected 1 measurement, got %d", len(got))
	}
	if got[0].Kind != KindRealtime {
		t.Errorf("expected realtime kind, got %s", got[0].Kind)
	}
	if got[0].Peak != 52.1 {
		t.Errorf("expected peak 52.1, got %v", got[0].Peak)
	}
	if got[0].Latest != 51.0 {
		t.Errorf("expected latest 51.0, got %v", got[0].Latest)
	}
}

func TestNoEmissionBeforeBoundary(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := NewAggregator(2*time.Second, 80.0, start)

	a.Observe(60.0, start.Add(500*time.Millisecond))
	if got := a.Tick(start.Add(1999 * time.Millisecond)); got != nil {
		t.Errorf("expected no measurements before boundary, got %d", len(got))
	}
	if got := a.Tick(start.Add(2 * time.Second)); len(got) != 1 {
		t.Errorf("expected 1 measurement at boundary, got %d", len(got))
	}
}

func TestThresholdGating(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Peak just under the floor: realtime only.
	a := NewAggregator(2*time.Second, 80.0, start)
	a.Observe(79.9, start.Add(time.Second))
	got := a.Tick(start.Add(2 * time.Second))
	if len(got) != 1 {
		t.Fatalf("peak 79.9: expected 1 measurement, got %d", len(got))
	}

	// Peak exactly at the floor: threshold emitted with identical peak.
	a = NewAggregator(2*time.Second, 80.0, start)
	a.Observe(80.0, start.Add(time.Second))
	got = a.Tick(start.Add(2 * time.Second))
	if len(got) != 2 {
		t.Fatalf("peak 80.0: expected 2 measurements, got %d", len(got))
	}
	if got[1].Kind != KindThreshold {
		t.Errorf("expected threshold kind, got %s", got[1].Kind)
	}
	if got[1].Peak != got[0].Peak {
		t.Errorf("threshold peak %v differs from realtime peak %v", got[1].Peak, got[0].Peak)
	}
}

func TestEmptyWindowStillCloses(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := NewAggregator(2*time.Second, 80.0, start)

	got := a.Tick(start.Add(2 * time.Second))
	if len(got) != 1 {
		t.Fatalf("expected 1 measurement from empty window, got %d", len(got))
	}
	if got[0].Peak != 0 {
		t.Errorf("expected zero peak from empty window, got %v", got[0].Peak)
	}
}

func TestWindowResetsAfterClose(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := NewAggregator(2*time.Second, 80.0, start)

	a.Observe(95.0, start.Add(time.Second))
	closeAt := start.Add(2 * time.Second)
	if got := a.Tick(closeAt); len(got) != 2 {
		t.Fatalf("expected 2 measurements, got %d", len(got))
	}

	if !a.WindowStart().Equal(closeAt) {
		t.Errorf("expected window start reset to %v, got %v", closeAt, a.WindowStart())
	}
	if a.Peak() != 0 {
		t.Errorf("expected peak reset to 0, got %v", a.Peak())
	}

	// The second window only sees its own samples.
	a.Observe(50.0, closeAt.Add(time.Second))
	got := a.Tick(closeAt.Add(2 * time.Second))
	if len(got) != 1 {
		t.Fatalf("expected 1 measurement, got %d", len(got))
	}
	if got[0].Peak != 50.0 {
		t.Errorf("expected peak 50.0 in second window, got %v", got[0].Peak)
	}
}
