// Package spl provides sound-pressure-level sampling with hardware
// abstraction. The real implementations read a USB HID SPL meter or a
// serial-line meter. The fake implementation allows testing without
// hardware.
package spl

import "math"

// Source reads single SPL samples.
type Source interface {
	// Read returns one sample in dB SPL, or an error for a transient
	// read failure. Transient failures are never fatal: the caller logs,
	// pauses briefly, and retries.
	Read() (float64, error)

	// Close releases device resources.
	Close() error
}

// ConvertRaw converts a raw USB report into a dB SPL value using the
// device calibration formula, rounded to one decimal:
//
//	value = (byte0 + (byte1 & 3) * 256) * 0.1 + 30
func ConvertRaw(raw []byte) float64 {
	if len(raw) < 2 {
		return 0
	}
	value := (float64(raw[0])+float64(raw[1]&3)*256)*0.1 + 30
	return math.Round(value*10) / 10
}
