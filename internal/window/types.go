// Package window contains pure aggregation logic for SPL sampling windows.
// This package has NO external dependencies (no USB, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package window

import "time"

// Kind identifies the delivery class of an emitted measurement.
type Kind string

const (
	KindRealtime  Kind = "realtime"
	KindThreshold Kind = "threshold"
)

// Measurement is an aggregated reading emitted at a window boundary.
// Immutable once created: retries resend the identical bytes.
type Measurement struct {
	Kind      Kind
	Timestamp time.Time
	// Peak is the maximum sample observed within the window.
	Peak float64
	// Latest is the last sample observed within the window.
	Latest float64
}
