package ops

import (
	"math"
	"time"

	"gctl/gcodeline"
)

// RealTimeMove implements §4.5's jog throttle: per-axis accumulators
// decay over time at 0.9-0.98x the axis's configured max feed; a jog
// that would push the accumulator past overshoot_factor*|inc| is
// rejected outright rather than queued.
func (c *Controller) RealTimeMove(axis byte, inc float64) bool {
	now := time.Now()
	maxFeed := c.axisMaxFeed(axis)

	last, ok := c.jogLast[axis]
	if !ok {
		last = now
	}
	elapsed := now.Sub(last).Seconds()
	c.jogLast[axis] = now

	decayRate := 0.94 * maxFeed / 60 // mm/s, midpoint of the 0.9-0.98 band
	accum := c.jogAccum[axis] - decayRate*elapsed
	if accum < 0 {
		accum = 0
	}

	overshoot := c.cfg.RealTimeMovesMaxOvershootFactor
	if overshoot <= 0 {
		overshoot = 2
	}
	if accum+math.Abs(inc) > overshoot*math.Abs(inc) {
		return false
	}

	c.jogAccum[axis] = accum + math.Abs(inc)

	c.SendGcode("G91")
	c.SendGcode(gcodeline.FormatMove([]gcodeline.AxisWord{{Axis: axis, Value: inc}}, 0, true))
	c.SendGcode("G90")
	return true
}

// axisMaxFeed looks up the configured per-axis max feed, falling back
// to 1000 if unconfigured.
func (c *Controller) axisMaxFeed(axis byte) float64 {
	snap := c.Status()
	for i, a := range snap.AxisLabels {
		if a == axis && i < len(c.cfg.AxisMaxFeeds) {
			return c.cfg.AxisMaxFeeds[i]
		}
	}
	return 1000
}
