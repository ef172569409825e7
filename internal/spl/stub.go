//go:build !linux

package spl

import "errors"

// USBReader is not available on non-Linux platforms.
type USBReader struct{}

// NewUSBReader returns an error on non-Linux platforms.
func NewUSBReader(path string) (*USBReader, error) {
	return nil, errors.New("spl: USB meter not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *USBReader) Read() (float64, error) {
	return 0, errors.New("spl: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *USBReader) Close() error {
	return nil
}

// SerialReader is not available on non-Linux platforms.
type SerialReader struct{}

// NewSerialReader returns an error on non-Linux platforms.
func NewSerialReader(port string, baud int) (*SerialReader, error) {
	return nil, errors.New("spl: serial meter not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *SerialReader) Read() (float64, error) {
	return 0, errors.New("spl: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *SerialReader) Close() error {
	return nil
}
