// Package serial owns the physical link to the motion controller. It is
// adapted from the teacher firmware's host/serial package: the same
// Port abstraction (so native, mock, and future WebSerial-style
// backends can share one interface) and the same Config/DefaultConfig
// shape, generalized here to the framing options and reopen-on-failure
// behavior §4.1 of the controller spec requires.
package serial

import "io"

// Port is anything the transport can read framed bytes from and write
// raw bytes to. Native ports, in-memory test ports, and future backends
// (WebSerial, a PTY) all implement this.
type Port interface {
	io.ReadWriteCloser

	// Flush discards any buffered data not yet transmitted/received.
	Flush() error
}

// Parity selects the serial line's parity bit behavior.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// Config holds serial port configuration. The zero value is not usable;
// use DefaultConfig to get GRBL/TinyG-appropriate defaults (115200 8N1).
type Config struct {
	// Device is the OS path to the port (e.g. "/dev/ttyACM0", "COM3").
	Device string

	// Baud is the line rate. 115200 is the GRBL/TinyG default; USB CDC
	// devices generally ignore it.
	Baud int

	// DataBits, StopBits and Parity describe the framing. Defaults are
	// 8 data bits, 1 stop bit, no parity (8N1).
	DataBits int
	StopBits int
	Parity   Parity

	// ReadTimeout bounds how long a single Read call blocks, in
	// milliseconds. 0 means block indefinitely.
	ReadTimeout int

	// RetryOnFailure, when true, makes the owning transport reopen the
	// port on I/O error or unexpected close, retrying every RetryDelayMs
	// (default 5000) until Close is called from the outside.
	RetryOnFailure bool
	RetryDelayMs   int
}

// DefaultConfig returns 115200 8N1 framing with a 100ms read timeout and
// retry-on-failure enabled, matching §4.1 and §6 of the controller spec.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:         device,
		Baud:           115200,
		DataBits:       8,
		StopBits:       1,
		Parity:         ParityNone,
		ReadTimeout:    100,
		RetryOnFailure: true,
		RetryDelayMs:   5000,
	}
}
