package ops

import (
	"testing"

	"gctl/config"
	"gctl/logx"
	"gctl/protocoldrv"
)

func newJogController(t *testing.T) *Controller {
	t.Helper()
	cfg := &config.Config{
		UsedAxes:                        "xyz",
		AxisMaxFeeds:                    []float64{1000, 1000, 500},
		RealTimeMovesMaxOvershootFactor: 2,
	}
	return New(protocoldrv.NewGRBLDriver(logx.New("test"), 128), cfg)
}

func TestRealTimeMoveAcceptsAFreshJog(t *testing.T) {
	c := newJogController(t)
	if !c.RealTimeMove('X', 1.0) {
		t.Fatalf("RealTimeMove rejected a jog with an empty accumulator")
	}
}

func TestRealTimeMoveRejectsBeyondOvershoot(t *testing.T) {
	c := newJogController(t)
	// Saturate the accumulator without letting it decay.
	c.jogAccum['X'] = 1000
	if c.RealTimeMove('X', 1.0) {
		t.Fatalf("RealTimeMove accepted a jog past the overshoot factor")
	}
}

func TestAxisMaxFeedFallsBackWhenUnconfigured(t *testing.T) {
	c := New(protocoldrv.NewGRBLDriver(logx.New("test"), 128), &config.Config{})
	if got := c.axisMaxFeed('X'); got != 1000 {
		t.Fatalf("axisMaxFeed() = %v, want the 1000 fallback", got)
	}
}

func TestAxisMaxFeedUsesConfiguredValue(t *testing.T) {
	c := newJogController(t)
	if got := c.axisMaxFeed('Z'); got != 500 {
		t.Fatalf("axisMaxFeed(Z) = %v, want 500", got)
	}
}
