package ops

import (
	"context"
	"time"

	"gctl/cncerr"
	"gctl/gcodeline"
	"gctl/queue"
)

// Move synthesizes a G0/G1 line moving the controller's used axes to
// pos (axes whose index is past the end of pos are left out of the
// line) and waits for the machine to resync afterward, per §4.5
// "move(pos, feed?)".
func (c *Controller) Move(ctx context.Context, pos []float64, feed float64) error {
	snap := c.Status()
	var words []gcodeline.AxisWord
	for i, axis := range snap.AxisLabels {
		if i >= len(pos) || !snap.UsedAxes[i] {
			continue
		}
		words = append(words, gcodeline.AxisWord{Axis: axis, Value: pos[i]})
	}
	if len(words) == 0 {
		return cncerr.New(cncerr.InvalidArgument, "move")
	}
	line := gcodeline.FormatMove(words, feed, feed <= 0)
	c.SendGcode(line)
	return fmtErr("move", c.WaitSync(ctx))
}

// Home issues the dialect-specific homing command for the requested
// axes (all homable axes if nil), per §4.5 "home(axes?)".
func (c *Controller) Home(ctx context.Context, axes []byte) error {
	snap := c.Status()
	if len(axes) == 0 {
		for i, a := range snap.AxisLabels {
			if snap.HomableAxes[i] {
				axes = append(axes, a)
			}
		}
	}

	var line string
	if c.dialect() == "tinyg" {
		line = gcodeline.FormatHomeTinyG(axes)
	} else {
		line = gcodeline.FormatHomeGRBL()
	}

	done := make(chan error, 1)
	entry := &queue.Entry{
		Str:              line,
		ResponseExpected: true,
		FullSync:         true,
		CharCount:        len(line) + 1,
		Hooks: &queue.Hooks{
			OnAck:   func() { done <- nil },
			OnError: func(err error) { done <- err },
		},
	}
	c.Drv.Do(func() { c.Drv.Queue.Send(entry) })

	select {
	case err := <-done:
		if err != nil {
			return fmtErr("home", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.WaitSync(ctx); err != nil {
		return fmtErr("home", err)
	}
	for _, a := range axes {
		c.Drv.Do(func() { c.Drv.Machine.MarkHomed(a) })
	}
	return nil
}

// synced reports whether the machine currently satisfies §4.4.7's
// three conditions for "synced".
func (c *Controller) synced() bool {
	snap := c.Status()
	idle := snap.Ready && !snap.Moving && !snap.Held
	noInFlight := snap.Comms.SendQueueLength == 0
	return idle && noInFlight && c.Drv.StatusNewerThanAck()
}

// WaitSync blocks until the machine is synced (§4.4.7): an idle status
// report, an empty send queue, and a status report newer than the most
// recent ack. Entries held back while sending is disabled still count
// as queued, so WaitSync does not return until they are sent and
// drained. If not already synced, it pushes a tiny harmless request and
// re-checks on every machine state update.
func (c *Controller) WaitSync(ctx context.Context) error {
	if c.synced() {
		return nil
	}

	var pokeLine string
	if c.dialect() == "tinyg" {
		pokeLine = "" // a bare status poll; no queue entry needed
	} else {
		pokeLine = "G4 P0.01"
	}
	if pokeLine != "" {
		c.SendGcode(pokeLine)
	} else {
		c.Drv.Do(func() { c.Drv.WriteRaw([]byte("?")) })
	}

	for {
		sub := c.Drv.Machine.Subscribe()
		cancelSig, cancelErr := c.Drv.CancelSignal()
		select {
		case <-sub:
			if c.synced() {
				return nil
			}
		case <-cancelSig:
			return cancelErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Hold issues the immediate feed-hold command (§4.4.8 "!").
func (c *Controller) Hold() {
	c.Drv.Do(func() {
		c.Drv.Machine.SetHeld(true)
		c.Drv.WriteRaw([]byte("!"))
	})
}

// Resume issues the immediate cycle-resume command ("~").
func (c *Controller) Resume() {
	c.Drv.Do(func() {
		c.Drv.Machine.SetHeld(false)
		c.Drv.WriteRaw([]byte("~"))
	})
}

// Reset issues a soft reset (Ctrl-X) and waits for the device to come
// back up (the next welcome/ready transition), per §4.4.8/§4.4.9.
func (c *Controller) Reset(ctx context.Context) error {
	c.Drv.Do(func() { c.Drv.DisableSending(true) })
	c.Drv.Do(func() { c.Drv.WriteRaw([]byte{0x18}) })
	return c.Drv.WaitReady(ctx)
}

// Cancel implements §4.5's cancel sequence: hold, wait for the
// hold-complete substate (or a fallback delay), soft-reset, and — for
// GRBL — silently clear the "position unknown" alarm the
// reset-during-hold sequence produces. No modal state is captured
// before the reset or restored after it. TinyG's cancel is the simpler
// hold+wipe+spindle-off+coolant-off sequence.
func (c *Controller) Cancel(ctx context.Context) error {
	if c.dialect() == "tinyg" {
		return c.cancelTinyG(ctx)
	}
	return c.cancelGRBL(ctx)
}

func (c *Controller) cancelGRBL(ctx context.Context) error {
	c.Hold()

	if err := c.awaitHoldComplete(ctx); err != nil {
		return fmtErr("cancel", err)
	}

	c.Drv.Do(func() { c.Drv.DisableSending(true) })
	c.Drv.Do(func() { c.Drv.WriteRaw([]byte{0x18}) })

	if err := c.Drv.WaitReady(ctx); err != nil {
		return fmtErr("cancel", err)
	}

	snap := c.Status()
	if snap.ErrorData != nil && snap.ErrorData.Code == "3" {
		// ALARM:3 ("reset while in motion") leaves the GRBL firmware
		// position-locked; silently clear it the way a human operator
		// would with $X; the informational unlock message that follows
		// is recorded by the driver as a recent message, not raised as
		// a controller error.
		c.Drv.Do(func() { c.Drv.WriteRaw([]byte("$X\n")) })
		c.Drv.Do(func() { c.Drv.Machine.ClearError() })
	}
	return nil
}

// awaitHoldComplete blocks until the firmware reports Hold:0 (hold
// complete), the primary signal per §4.5/scenario 4, falling back to a
// fixed ~500ms delay for firmware that never reports a hold substate.
func (c *Controller) awaitHoldComplete(ctx context.Context) error {
	timeout := time.NewTimer(500 * time.Millisecond)
	defer timeout.Stop()
	sawSubstate := false
	for {
		snap := c.Status()
		if snap.Held && snap.Substate == "0" {
			return nil
		}
		if snap.Substate != "" {
			sawSubstate = true
		}
		sub := c.Drv.Machine.Subscribe()
		select {
		case <-sub:
			continue
		case <-timeout.C:
			if !sawSubstate && c.Status().Substate == "" {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) cancelTinyG(ctx context.Context) error {
	c.Hold()
	c.Drv.Do(func() {
		c.Drv.WriteRaw([]byte("%"))
		c.Drv.DisableSending(true)
	})
	select {
	case <-time.After(3500 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	c.Drv.Do(func() { c.Drv.DisableSending(false) })
	c.SendGcode("M5")
	c.SendGcode("M9")
	return nil
}
