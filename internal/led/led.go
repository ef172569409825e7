// Package led drives the optional status LED with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package led

// Indicator drives a single status LED.
type Indicator interface {
	// Set turns the LED on or off. The agent lights it while the local
	// broker connection is up.
	Set(on bool) error

	// Close turns the LED off and releases GPIO resources.
	Close() error
}

// DefaultPin is the BCM pin the status LED is wired to on field units.
const DefaultPin = 17
