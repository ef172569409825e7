//go:build linux

package spl

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// baudFlags maps supported baud rates to their termios constants.
var baudFlags = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// SerialReader reads SPL samples from a serial-line meter that prints one
// decimal reading per line.
type SerialReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewSerialReader opens the serial port and configures it for raw,
// line-oriented reads at the given baud rate.
func NewSerialReader(port string, baud int) (*SerialReader, error) {
	flag, ok := baudFlags[baud]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate %d", baud)
	}

	f, err := os.OpenFile(port, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}

	tio := unix.Termios{
		Cflag:  unix.CREAD | unix.CLOCAL | unix.CS8 | flag,
		Ispeed: flag,
		Ospeed: flag,
	}
	// Block until at least one byte arrives; no inter-byte timeout.
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, &tio); err != nil {
		f.Close()
		return nil, fmt.Errorf("configure serial port %s: %w", port, err)
	}

	return &SerialReader{file: f, scanner: bufio.NewScanner(f)}, nil
}

// Read returns the next line parsed as a dB SPL value.
func (r *SerialReader) Read() (float64, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		value, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, fmt.Errorf("serial read: unparseable line %q: %w", line, err)
		}
		return value, nil
	}
	if err := r.scanner.Err(); err != nil {
		return 0, fmt.Errorf("serial read: %w", err)
	}
	return 0, fmt.Errorf("serial read: port closed")
}

// Close releases the port.
func (r *SerialReader) Close() error {
	return r.file.Close()
}
