package machine

import "gctl/codec"

// ApplyStatusReport merges an incoming status report into the
// controller per §4.3 rule 1: anything the report mentions is
// authoritative, and the "don't overwrite" rule begins to apply to
// every field it touches from this point on.
func (c *Controller) ApplyStatusReport(sr *codec.StatusReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sr.MPos != nil {
		c.mpos = alignAxes(sr.MPos, len(c.axisLabels))
		c.reported.mpos = true
		if sr.WCO != nil {
			wco := alignAxes(sr.WCO, len(c.axisLabels))
			c.wpos = subtractVec(c.mpos, wco)
			c.reported.wpos = true
		}
	}
	if sr.WPos != nil {
		c.wpos = alignAxes(sr.WPos, len(c.axisLabels))
		c.reported.wpos = true
		if sr.MPos == nil && sr.WCO != nil {
			wco := alignAxes(sr.WCO, len(c.axisLabels))
			c.mpos = addVec(c.wpos, wco)
			c.reported.mpos = true
		}
	}

	if sr.Feed != nil {
		c.feed = *sr.Feed
	}
	if sr.SpindleSpeed != nil {
		c.spindleSpeed = *sr.SpindleSpeed
	}
	if sr.Line != nil {
		c.line = *sr.Line
	}

	if sr.State != "" {
		c.substate = sr.Substate
	}

	switch sr.State {
	case "":
		// not mentioned
	case "Idle":
		c.ready, c.moving, c.held = true, false, false
	case "Run", "Jog", "Cycle":
		c.ready, c.moving, c.held = true, true, false
	case "Hold":
		c.held = true
		c.moving = false
	case "Alarm":
		c.errored = true
		c.ready = false
		c.moving = false
	case "Home", "Homing":
		c.moving = true
	}

	if sr.SpindleOn != nil {
		c.spindle = *sr.SpindleOn
		c.reported.spindle = true
	}
	if sr.SpindleCW != nil {
		if *sr.SpindleCW {
			c.spindleDir = 1
		} else {
			c.spindleDir = -1
		}
	}
	if sr.CoolantMist != nil || sr.CoolantFlood != nil {
		mist := sr.CoolantMist != nil && *sr.CoolantMist
		flood := sr.CoolantFlood != nil && *sr.CoolantFlood
		switch {
		case mist && flood:
			c.coolant = CoolantBoth
		case mist:
			c.coolant = CoolantMist
		case flood:
			c.coolant = CoolantFlood
		default:
			c.coolant = CoolantOff
		}
		c.reported.coolant = true
	}

	c.notify()
}

// ApplyQueueReport records the latest free-planner-slot count in the
// comms snapshot for TinyG controllers; the queue package owns the
// planner mirror itself and calls this only to keep Status() current.
func (c *Controller) ApplyQueueReport(qr int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comms.LastQRNumFree = &qr
}

// SetErrored marks the controller into the alarm/error state described
// in §4.4.9 "Alarm/error state", storing the structured cause.
func (c *Controller) SetErrored(data ErrorData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errored = true
	c.ready = false
	c.moving = false
	c.errorData = &data
	c.notify()
}

// ClearError clears the alarm/error state, e.g. after a GRBL "$X"
// unlock or a successful reinitialization.
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errored = false
	c.errorData = nil
	c.notify()
}

// SetReady sets the ready flag directly, used by the connection
// lifecycle state machine on reaching the "ready" state.
func (c *Controller) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
	c.notify()
}

// SetHeld sets the held flag, used by the hold/resume control-surface
// operations (§4.4.8).
func (c *Controller) SetHeld(held bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = held
	c.notify()
}

func alignAxes(v []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, v)
	return out
}

func subtractVec(a, b []float64) []float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float64, len(a))
	copy(out, a)
	for i := 0; i < n; i++ {
		out[i] = a[i] - b[i]
	}
	return out
}

func addVec(a, b []float64) []float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float64, len(a))
	copy(out, a)
	for i := 0; i < n; i++ {
		out[i] = a[i] + b[i]
	}
	return out
}
