// Package ops implements the operations layer (§4.5) and control
// surface (§4.4.8): move, home, probe, wait_sync, hold, resume,
// cancel, reset, real_time_move, send_stream, each expressed as a
// disciplined sequence over the protocol driver's send queue, plus the
// immediate out-of-band commands that bypass it entirely.
//
// Every operation here runs on its own calling goroutine and makes
// every queue/machine mutation through Driver.Do/DoSync, which
// serializes it onto the driver's single reactor goroutine (§5); reads
// go through the machine's mutex-guarded Status/Subscribe accessors. This mirrors the teacher firmware's host/mcu/mcu.go
// shape — public methods that submit work and block on a channel for
// the result — generalized from Klipper's request/response RPC to this
// engine's queued-line lifecycle.
package ops

import (
	"context"
	"fmt"
	"time"

	"gctl/config"
	"gctl/gcodeline"
	"gctl/machine"
	"gctl/protocoldrv"
	"gctl/queue"
)

// Controller is the consumer-facing handle described in §6: the
// send/send_gcode/request/move/home/probe/... contract layered over a
// protocoldrv.Driver.
type Controller struct {
	Drv *protocoldrv.Driver
	cfg *config.Config

	jogAccum map[byte]float64
	jogLast  map[byte]time.Time

	probeFrameCached *bool // TinyG coord-frame detection cache (§4.6)
}

// New builds a Controller over an already-constructed driver. A nil cfg
// is defaulted the same way config.Load defaults an empty blob.
func New(drv *protocoldrv.Driver, cfg *config.Config) *Controller {
	if cfg == nil {
		cfg, _ = config.Load([]byte(`{}`))
	}
	return &Controller{
		Drv:      drv,
		cfg:      cfg,
		jogAccum: make(map[byte]float64),
		jogLast:  make(map[byte]time.Time),
	}
}

// Status returns a snapshot of the machine state plus the comms
// subobject, per §6 get_status().
func (c *Controller) Status() machine.Snapshot {
	return c.Drv.Machine.Status()
}

// Send enqueues entry as given and returns immediately; the caller may
// attach hooks beforehand via entry.Hooks.
func (c *Controller) Send(entry *queue.Entry) float64 {
	var id float64
	c.Drv.Do(func() {
		id = c.Drv.Queue.Send(entry)
	})
	return id
}

// SendGcode parses line, applies its modal effects to the machine
// state (§4.3 rule 3: G-code is authoritative only for keys no status
// report has ever covered), and enqueues it.
func (c *Controller) SendGcode(line string) float64 {
	parsed := gcodeline.ParseLine(line)
	entry := &queue.Entry{
		Str:              line,
		ResponseExpected: true,
		CharCount:        len(line) + 1,
		GoesToPlanner:    estimatePlannerSlots(parsed),
	}
	var id float64
	c.Drv.Do(func() {
		c.Drv.Machine.ApplyOutgoingLine(parsed)
		id = c.Drv.Queue.Send(entry)
	})
	return id
}

// estimatePlannerSlots gives TinyG's admission control a rough planner
// cost: motion words cost one slot, everything else costs zero.
func estimatePlannerSlots(line *gcodeline.Line) int {
	if line == nil {
		return 0
	}
	for _, g := range line.GWords() {
		switch g {
		case 0, 1, 2, 3, 38.2, 38.3, 28.2:
			return 1
		}
	}
	return 0
}

// Request enqueues str and blocks until its ack (or error) arrives,
// per §6 request(str). It returns only the error (nil on ack); the ack
// payload is not returned.
func (c *Controller) Request(ctx context.Context, str string) error {
	done := make(chan error, 1)
	entry := &queue.Entry{
		Str:              str,
		ResponseExpected: true,
		CharCount:        len(str) + 1,
		Hooks: &queue.Hooks{
			OnAck:   func() { done <- nil },
			OnError: func(err error) { done <- err },
		},
	}
	c.Drv.Do(func() {
		c.Drv.Queue.Send(entry)
	})
	cancelSig, _ := c.Drv.CancelSignal()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-cancelSig:
		_, cancelErr := c.Drv.CancelSignal()
		return cancelErr
	}
}

// dialect reports which protocol family the underlying driver speaks.
func (c *Controller) dialect() string {
	if c.Drv.Queue.Dialect == queue.DialectTinyG {
		return "tinyg"
	}
	return "grbl"
}

func fmtErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
