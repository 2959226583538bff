package ops

import (
	"context"
	"math"
	"strconv"
	"time"

	"gctl/cncerr"
	"gctl/codec"
	"gctl/gcodeline"
	"gctl/machine"
	"gctl/queue"
)

const probeEpsilon = 1e-6

// Probe drives a probe cycle toward target (§4.5 "probe(pos, feed?) ->
// trip_pos[]"). Exactly one axis may differ from the current machine
// position; probing to the current position is rejected.
func (c *Controller) Probe(ctx context.Context, target []float64, feed float64) ([]float64, error) {
	snap := c.Status()
	axis, val, err := singleChangedAxis(snap.AxisLabels, snap.MPos, target)
	if err != nil {
		return nil, fmtErr("probe", err)
	}

	if c.dialect() == "tinyg" {
		return c.probeTinyG(ctx, axis, val, feed)
	}
	return c.probeGRBL(ctx, axis, val, feed)
}

// singleChangedAxis finds the one axis whose target differs from cur,
// per §4.6 "only a single axis may change from the current position".
func singleChangedAxis(labels []byte, cur, target []float64) (byte, float64, error) {
	axis := byte(0)
	val := 0.0
	found := false
	for i, label := range labels {
		if i >= len(target) {
			continue
		}
		if math.Abs(target[i]-cur[i]) < probeEpsilon {
			continue
		}
		if found {
			return 0, 0, cncerr.New(cncerr.InvalidArgument, "probe")
		}
		axis, val, found = label, target[i], true
	}
	if !found {
		return 0, 0, cncerr.New(cncerr.InvalidArgument, "probe")
	}
	return axis, val, nil
}

// probeGRBL implements §4.6's simpler GRBL probe sequence: send G38.2,
// await a PRB parameter report (forcing one with "$#" if the ack
// arrives first, bounded by in-flight count to avoid loops), parse
// [PRB:x,y,z:e].
func (c *Controller) probeGRBL(ctx context.Context, axis byte, target, feed float64) ([]float64, error) {
	line := gcodeline.FormatProbe(axis, target, feed)
	ackDone := make(chan error, 1)
	entry := &queue.Entry{
		Str:              line,
		ResponseExpected: true,
		CharCount:        len(line) + 1,
		Hooks: &queue.Hooks{
			OnAck:   func() { ackDone <- nil },
			OnError: func(err error) { ackDone <- err },
		},
	}
	c.Drv.Do(func() { c.Drv.Queue.Send(entry) })

	select {
	case err := <-ackDone:
		if err != nil {
			return nil, fmtErr("probe", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	forced := false
	for {
		reportCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		pr, err := c.Drv.AwaitProbeReport(reportCtx)
		cancel()
		if err == nil {
			return c.resolveProbeResult(axis, target, pr)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if forced || c.Drv.InFlightCount() > 2 {
			return nil, cncerr.New(cncerr.CommError, "probe")
		}
		forced = true
		c.Drv.Do(func() { c.Drv.WriteRaw([]byte("$#\n")) })
	}
}

// resolveProbeResult applies §4.6's tripped test: the stop position
// falling short of the commanded endpoint along the probe direction is
// primary (per the spec's resolution of the source's ambiguous
// probeTriggered/probeTripped naming); the firmware's own flag is
// secondary corroboration.
func (c *Controller) resolveProbeResult(axis byte, target float64, pr *codec.ProbeReport) ([]float64, error) {
	if pr == nil || len(pr.Pos) == 0 {
		return nil, cncerr.New(cncerr.ProbeNotTripped, "probe")
	}
	snap := c.Status()
	idx := -1
	for i, a := range snap.AxisLabels {
		if a == axis {
			idx = i
			break
		}
	}
	shortOfTarget := false
	if idx >= 0 && idx < len(pr.Pos) {
		stop := pr.Pos[idx]
		start := snap.MPos[idx]
		travelled := math.Abs(stop - start)
		commanded := math.Abs(target - start)
		shortOfTarget = travelled < commanded-probeEpsilon
	}
	if !shortOfTarget && !pr.Tripped {
		return nil, cncerr.New(cncerr.ProbeNotTripped, "probe")
	}
	return append([]float64(nil), pr.Pos...), nil
}

// probeTinyG implements §4.6's TinyG probe cycle, compensating for the
// firmware's documented quirks: sending is disabled while the
// coord-frame detection runs and re-enabled when the probe line is
// queued, so background traffic is not held back during the probe
// itself; a coord-frame detection probe runs once (cached after)
// if offsets are nonzero and the policy is unknown, and a 250ms delay
// after wait_sync discards the known spurious wrapped probe report.
func (c *Controller) probeTinyG(ctx context.Context, axis byte, target, feed float64) ([]float64, error) {
	c.Drv.Do(func() { c.Drv.DisableSending(true) })
	defer c.Drv.Do(func() { c.Drv.DisableSending(false) })

	snap := c.Status()
	activeCoordSys := snap.ActiveCoordSys

	if c.needsFrameDetection(snap) {
		if err := c.detectProbeFrame(ctx, axis); err != nil {
			return nil, fmtErr("probe", err)
		}
	}

	line := gcodeline.FormatProbe(axis, target, feed)
	ackDone := make(chan error, 1)
	entry := &queue.Entry{
		Str:              line,
		ResponseExpected: true,
		GoesToPlanner:    1,
		Hooks: &queue.Hooks{
			OnAck:   func() { ackDone <- nil },
			OnError: func(err error) { ackDone <- err },
		},
	}
	c.Drv.Do(func() {
		c.Drv.DisableSending(false)
		c.Drv.Queue.Send(entry)
	})

	select {
	case <-ackDone:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := c.WaitSync(ctx); err != nil {
		return nil, fmtErr("probe", err)
	}

	select {
	case <-time.After(250 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// discard a stale report left over from the wrapped-probe quirk.
	select {
	case <-c.drainProbeReport():
	default:
	}

	c.Drv.Do(func() { c.Drv.WriteRaw([]byte(`{"clear":null}` + "\n")) })
	c.Drv.Do(func() { c.Drv.WriteRaw([]byte(`{"prb":null}` + "\n")) })

	reportCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
	pr, err := c.Drv.AwaitProbeReport(reportCtx)
	cancel()

	// the active coord system is sometimes reset by the firmware during
	// a probe cycle; restore it explicitly.
	if activeCoordSys >= 0 && activeCoordSys <= 5 {
		restoreLine := "G" + strconv.Itoa(54+activeCoordSys)
		c.Drv.Do(func() { c.Drv.WriteRaw([]byte(restoreLine + "\n")) })
	}

	if err != nil {
		return nil, fmtErr("probe", cncerr.New(cncerr.ProbeNotTripped, "probe"))
	}
	return c.resolveProbeResult(axis, target, pr)
}

// drainProbeReport returns a channel with at most one stale report
// already queued, without blocking.
func (c *Controller) drainProbeReport() <-chan struct{} {
	ch := make(chan struct{}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if _, err := c.Drv.AwaitProbeReport(ctx); err == nil {
		ch <- struct{}{}
	}
	return ch
}

// needsFrameDetection reports whether §4.6's coord-frame detection
// probe must run before the real probe: offsets are nonzero and the
// configured policy is "auto-detect" and not yet cached.
func (c *Controller) needsFrameDetection(snap machine.Snapshot) bool {
	if c.probeFrameCached != nil {
		return false
	}
	if c.cfg != nil && c.cfg.ProbeUsesMachineCoords != nil {
		v := *c.cfg.ProbeUsesMachineCoords
		c.probeFrameCached = &v
		return false
	}
	offsetsNonzero := false
	for _, v := range snap.Offset {
		if math.Abs(v) > probeEpsilon {
			offsetsNonzero = true
		}
	}
	if snap.ActiveCoordSys >= 0 && snap.ActiveCoordSys < len(snap.CoordSysOffsets) {
		for _, v := range snap.CoordSysOffsets[snap.ActiveCoordSys] {
			if math.Abs(v) > probeEpsilon {
				offsetsNonzero = true
			}
		}
	}
	return offsetsNonzero
}

// detectProbeFrame runs a short cancel-quickly probe toward a
// coordinate that only produces motion under one frame interpretation,
// then reads mpo<axis> to decide which applies, caching the result
// (§4.6).
func (c *Controller) detectProbeFrame(ctx context.Context, axis byte) error {
	before := c.Status().MPos
	line := gcodeline.FormatProbe(axis, 0, 1)
	c.Drv.Do(func() { c.Drv.Queue.Send(&queue.Entry{Str: line, GoesToPlanner: 1}) })

	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.Drv.Do(func() {
		c.Drv.WriteRaw([]byte("!"))
		c.Drv.WriteRaw([]byte("%"))
		c.Drv.WriteRaw([]byte(`{"clear":null}` + "\n"))
	})

	after := c.Status().MPos
	machineFrame := !positionsEqual(before, after)
	c.probeFrameCached = &machineFrame
	return nil
}

func positionsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > probeEpsilon {
			return false
		}
	}
	return true
}
