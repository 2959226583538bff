package ops

import (
	"testing"

	"gctl/cncerr"
	"gctl/codec"
	"gctl/config"
	"gctl/logx"
	"gctl/machine"
	"gctl/protocoldrv"
)

func TestSingleChangedAxisFindsTheOneAxis(t *testing.T) {
	labels := []byte{'X', 'Y', 'Z'}
	cur := []float64{0, 0, 0}
	target := []float64{0, 0, -5}

	axis, val, err := singleChangedAxis(labels, cur, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if axis != 'Z' || val != -5 {
		t.Fatalf("got axis=%c val=%v, want Z -5", axis, val)
	}
}

func TestSingleChangedAxisRejectsMultipleAxes(t *testing.T) {
	labels := []byte{'X', 'Y', 'Z'}
	cur := []float64{0, 0, 0}
	target := []float64{1, 0, -5}

	if _, _, err := singleChangedAxis(labels, cur, target); !cncerr.Is(err, cncerr.InvalidArgument) {
		t.Fatalf("got err=%v, want InvalidArgument", err)
	}
}

func TestSingleChangedAxisRejectsNoChange(t *testing.T) {
	labels := []byte{'X', 'Y', 'Z'}
	cur := []float64{0, 0, 0}
	target := []float64{0, 0, 0}

	if _, _, err := singleChangedAxis(labels, cur, target); !cncerr.Is(err, cncerr.InvalidArgument) {
		t.Fatalf("got err=%v, want InvalidArgument", err)
	}
}

func TestPositionsEqual(t *testing.T) {
	cases := []struct {
		a, b []float64
		want bool
	}{
		{[]float64{1, 2, 3}, []float64{1, 2, 3}, true},
		{[]float64{1, 2, 3}, []float64{1, 2, 3.1}, false},
		{[]float64{1, 2}, []float64{1, 2, 3}, false},
	}
	for _, tc := range cases {
		if got := positionsEqual(tc.a, tc.b); got != tc.want {
			t.Fatalf("positionsEqual(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	drv := protocoldrv.NewGRBLDriver(logx.New("test"), 128)
	drv.Machine.ApplyStatusReport(&codec.StatusReport{MPos: []float64{0, 0, 0}})
	return New(drv, nil)
}

func TestResolveProbeResultShortOfTargetIsTripped(t *testing.T) {
	c := newTestController(t)
	pr := &codec.ProbeReport{Pos: []float64{0, 0, -3}}

	got, err := c.resolveProbeResult('Z', -5, pr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[2] != -3 {
		t.Fatalf("got %v, want the reported stop position", got)
	}
}

func TestResolveProbeResultReachingTargetWithoutFlagIsNotTripped(t *testing.T) {
	c := newTestController(t)
	pr := &codec.ProbeReport{Pos: []float64{0, 0, -5}, Tripped: false}

	if _, err := c.resolveProbeResult('Z', -5, pr); !cncerr.Is(err, cncerr.ProbeNotTripped) {
		t.Fatalf("got err=%v, want ProbeNotTripped", err)
	}
}

func TestResolveProbeResultFlagAloneIsTripped(t *testing.T) {
	c := newTestController(t)
	pr := &codec.ProbeReport{Pos: []float64{0, 0, -5}, Tripped: true}

	if _, err := c.resolveProbeResult('Z', -5, pr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveProbeResultNilReportIsNotTripped(t *testing.T) {
	c := newTestController(t)
	if _, err := c.resolveProbeResult('Z', -5, nil); !cncerr.Is(err, cncerr.ProbeNotTripped) {
		t.Fatalf("got err=%v, want ProbeNotTripped", err)
	}
}

func TestNeedsFrameDetectionHonorsConfiguredPolicy(t *testing.T) {
	c := newTestController(t)
	v := true
	c.cfg = &config.Config{ProbeUsesMachineCoords: &v}

	if c.needsFrameDetection(machine.Snapshot{}) {
		t.Fatalf("needsFrameDetection() = true once a policy is configured")
	}
	if c.probeFrameCached == nil || *c.probeFrameCached != true {
		t.Fatalf("needsFrameDetection did not cache the configured policy")
	}
}

func TestNeedsFrameDetectionAutoDetectsFromOffsets(t *testing.T) {
	c := newTestController(t)
	snap := machine.Snapshot{Offset: []float64{0, 0, 1.5}}

	if !c.needsFrameDetection(snap) {
		t.Fatalf("needsFrameDetection() = false with a nonzero G92 offset and no configured policy")
	}
}

func TestNeedsFrameDetectionFalseOnceCached(t *testing.T) {
	c := newTestController(t)
	v := false
	c.probeFrameCached = &v

	if c.needsFrameDetection(machine.Snapshot{Offset: []float64{0, 0, 1.5}}) {
		t.Fatalf("needsFrameDetection() = true despite an already-cached result")
	}
}
