package machine

import "gctl/gcodeline"

// ApplyOutgoingLine parses modal words out of a line the engine is
// about to send and folds them into the controller's state, per §4.3
// rule 3: outgoing G-code is authoritative only for modal state not
// already owned by the status-report channel (the "don't overwrite"
// rule). This mirrors the shape of the teacher's standalone/gcode/
// interpreter.go executeG/executeM dispatch, generalized from a fixed
// 3D-printer modal set to GRBL/TinyG's modal groups.
func (c *Controller) ApplyOutgoingLine(line *gcodeline.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, g := range line.GWords() {
		c.applyGWord(g, line)
	}
	for _, m := range line.MWords() {
		c.applyMWord(m)
	}

	c.notify()
}

func (c *Controller) applyGWord(g float64, line *gcodeline.Line) {
	switch g {
	case 20:
		if !c.reported.units {
			c.units = "in"
		}
	case 21:
		if !c.reported.units {
			c.units = "mm"
		}
	case 90:
		if !c.reported.incremental {
			c.incremental = false
		}
	case 91:
		if !c.reported.incremental {
			c.incremental = true
		}
	case 93:
		if !c.reported.inverseFeed {
			c.inverseFeed = true
		}
	case 94:
		if !c.reported.inverseFeed {
			c.inverseFeed = false
		}
	case 54, 55, 56, 57, 58, 59:
		if !c.reported.activeCoordSys {
			c.activeCoordSys = int(g) - 54
		}
	case 10:
		c.applyG10(line)
	case 28.1:
		c.storedPositions[0] = append([]float64(nil), c.mpos...)
	case 30.1:
		c.storedPositions[1] = append([]float64(nil), c.mpos...)
	case 92:
		c.applyG92Set(line)
	case 92.1:
		if !c.reported.offset {
			for i := range c.offset {
				c.offset[i] = 0
			}
			c.offsetEnabled = false
		}
	case 92.2:
		if !c.reported.offset {
			c.offsetEnabled = false
		}
	case 92.3:
		if !c.reported.offset {
			c.offsetEnabled = true
		}
	}
}

// applyG10 handles "G10 L2 P<n> <axes>" (GRBL) and TinyG's "G10 L20
// P<n> <axes>" coord-offset set. Both forms carry the target axes as
// plain letter words; L distinguishes absolute (L2) vs current-
// position-relative (L20) semantics, which the firmware itself
// resolves — we just record the resulting offset vector.
func (c *Controller) applyG10(line *gcodeline.Line) {
	l, _ := line.Value('L')
	p, ok := line.Value('P')
	if !ok || (l != 2 && l != 20) {
		return
	}
	idx := int(p) - 1
	if idx < 0 || idx >= len(c.coordSysOffsets) {
		return
	}
	for i, axis := range c.axisLabels {
		v, ok := line.Value(axis)
		if !ok {
			continue
		}
		if l == 2 {
			c.coordSysOffsets[idx][i] = v
		} else {
			c.coordSysOffsets[idx][i] = c.mpos[i] - v
		}
	}
}

func (c *Controller) applyG92Set(line *gcodeline.Line) {
	if c.reported.offset {
		return
	}
	for i, axis := range c.axisLabels {
		if v, ok := line.Value(axis); ok {
			c.offset[i] = c.mpos[i] - v
		}
	}
	c.offsetEnabled = true
}

func (c *Controller) applyMWord(m float64) {
	switch m {
	case 3:
		if !c.reported.spindle {
			c.spindle = true
			c.spindleDir = 1
		}
	case 4:
		if !c.reported.spindle {
			c.spindle = true
			c.spindleDir = -1
		}
	case 5:
		if !c.reported.spindle {
			c.spindle = false
		}
	case 7:
		if !c.reported.coolant {
			c.coolant = orCoolant(c.coolant, CoolantMist)
		}
	case 8:
		if !c.reported.coolant {
			c.coolant = orCoolant(c.coolant, CoolantFlood)
		}
	case 9:
		if !c.reported.coolant {
			c.coolant = CoolantOff
		}
	case 2, 30:
		c.resetForProgramEnd()
	}
}

func orCoolant(cur Coolant, add Coolant) Coolant {
	if cur == add {
		return cur
	}
	if cur == CoolantOff {
		return add
	}
	return CoolantBoth
}

// resetForProgramEnd implements the M2/M30 reset list in §4.3: offsets
// clear, coord system returns to 0, incremental mode turns off,
// spindle and coolant turn off.
func (c *Controller) resetForProgramEnd() {
	if !c.reported.offset {
		for i := range c.offset {
			c.offset[i] = 0
		}
		c.offsetEnabled = false
	}
	if !c.reported.activeCoordSys {
		c.activeCoordSys = 0
	}
	if !c.reported.incremental {
		c.incremental = false
	}
	if !c.reported.spindle {
		c.spindle = false
	}
	if !c.reported.coolant {
		c.coolant = CoolantOff
	}
	c.programRunning = false
}

// ApplyParameter folds device parameter/setting feedback (§4.3 rule 2)
// into the controller, e.g. a "[G54:...]" or "{g54:...}" coordinate
// system report.
func (c *Controller) ApplyParameter(name string, values []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := coordSysIndex(name)
	if idx >= 0 && idx < len(c.coordSysOffsets) {
		c.coordSysOffsets[idx] = alignAxes(values, len(c.axisLabels))
		c.notify()
		return
	}

	switch name {
	case "G28":
		c.storedPositions[0] = alignAxes(values, len(c.axisLabels))
	case "G30":
		c.storedPositions[1] = alignAxes(values, len(c.axisLabels))
	case "G92":
		c.offset = alignAxes(values, len(c.axisLabels))
		c.reported.offset = true
	}
	c.notify()
}

func coordSysIndex(name string) int {
	switch name {
	case "G54", "g54":
		return 0
	case "G55", "g55":
		return 1
	case "G56", "g56":
		return 2
	case "G57", "g57":
		return 3
	case "G58", "g58":
		return 4
	case "G59", "g59":
		return 5
	}
	return -1
}

// MarkHomed zeroes the given axis's machine position and marks it
// homed, per the Open Question decision in SPEC_FULL.md: on completion
// of a home operation, mpos[axis] is set to 0.
func (c *Controller) MarkHomed(axis byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.axisIndex(axis)
	if idx < 0 {
		return
	}
	c.mpos[idx] = 0
	c.homed[idx] = true
	c.notify()
}
