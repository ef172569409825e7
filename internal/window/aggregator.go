package window

import "time"

// Aggregator tracks the peak SPL value within fixed-duration windows and
// emits measurements at window boundaries.
type Aggregator struct {
	duration time.Duration
	floor    float64

	windowStart time.Time
	peak        float64
	latest      float64
}

// NewAggregator creates an aggregator with the given window duration and
// threshold floor. The startTime opens the first window.
func NewAggregator(duration time.Duration, floor float64, startTime time.Time) *Aggregator {
	return &Aggregator{
		duration:    duration,
		floor:       floor,
		windowStart: startTime,
	}
}

// Observe records one sample. Samples arriving after a window boundary but
// before the next Tick belong to the window that Tick will close.
func (a *Aggregator) Observe(value float64, now time.Time) {
	a.latest = value
	if value > a.peak {
		a.peak = value
	}
}

// Tick closes the current window if its duration has elapsed and returns
// the measurements to emit: always one realtime measurement, plus a
// threshold measurement iff peak >= floor. A window with zero successful
// samples still closes with peak 0 so sensor dropout stays visible
// downstream instead of stalling the pipeline.
func (a *Aggregator) Tick(now time.Time) []Measurement {
	if now.Sub(a.windowStart) < a.duration {
		return nil
	}

	measurements := []Measurement{{
		Kind:      KindRealtime,
		Timestamp: now,
		Peak:      a.peak,
		Latest:    a.latest,
	}}

	if a.peak >= a.floor {
		measurements = append(measurements, Measurement{
			Kind:      KindThreshold,
			Timestamp: now,
			Peak:      a.peak,
			Latest:    a.latest,
		})
	}

	a.peak = 0
	a.latest = 0
	a.windowStart = now
	return measurements
}

// Peak returns the running peak of the currently open window.
func (a *Aggregator) Peak() float64 {
	return a.peak
}

// WindowStart returns the open time of the current window.
func (a *Aggregator) WindowStart() time.Time {
	return a.windowStart
}
