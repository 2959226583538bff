//go:build !wasm

package serial

import (
	"fmt"
	"time"

	tarm "github.com/tarm/serial"
)

// NativePort wraps github.com/tarm/serial, the same backend the teacher
// firmware's host/serial/serial_native.go uses for its MCU link.
type NativePort struct {
	port *tarm.Port
	cfg  *Config
}

// Open opens a native OS serial port with the given configuration.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial: config cannot be nil")
	}

	parity := tarm.ParityNone
	switch cfg.Parity {
	case ParityOdd:
		parity = tarm.ParityOdd
	case ParityEven:
		parity = tarm.ParityEven
	}

	size := byte(cfg.DataBits)
	if size == 0 {
		size = 8
	}
	stop := tarm.Stop1
	if cfg.StopBits == 2 {
		stop = tarm.Stop2
	}

	tc := &tarm.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		Size:        size,
		Parity:      parity,
		StopBits:    stop,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	}

	p, err := tarm.OpenPort(tc)
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open port %s: %w", cfg.Device, err)
	}

	return &NativePort{port: p, cfg: cfg}, nil
}

func (p *NativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *NativePort) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *NativePort) Close() error {
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}

// Flush is a best-effort hint; tarm/serial has no explicit buffer flush,
// so this simply reports success, matching the teacher's own
// NativePort.Flush implementation.
func (p *NativePort) Flush() error {
	return nil
}
