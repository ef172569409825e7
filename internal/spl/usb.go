//go:build linux

package spl

import (
	"fmt"
	"os"
)

// DefaultUSBPath is the hidraw node the SPL meter registers as on the
// target image, where the meter is the only HID device present.
const DefaultUSBPath = "/dev/hidraw0"

// USBReader reads SPL samples from the meter's HID report stream. Each
// report carries the raw counter in its first two bytes; ConvertRaw
// applies the fixed calibration formula.
type USBReader struct {
	file *os.File
	buf  []byte
}

// NewUSBReader opens the HID device at path (DefaultUSBPath if empty).
func NewUSBReader(path string) (*USBReader, error) {
	if path == "" {
		path = DefaultUSBPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open SPL meter %s: %w", path, err)
	}
	return &USBReader{file: f, buf: make([]byte, 8)}, nil
}

// Read returns one sample in dB SPL.
func (r *USBReader) Read() (float64, error) {
	n, err := r.file.Read(r.buf)
	if err != nil {
		return 0, fmt.Errorf("usb read: %w", err)
	}
	if n < 2 {
		return 0, fmt.Errorf("usb read: short report (%d bytes)", n)
	}
	return ConvertRaw(r.buf[:n]), nil
}

// Close releases the device handle.
func (r *USBReader) Close() error {
	return r.file.Close()
}
