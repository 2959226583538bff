package machine

import (
	"testing"

	"gctl/codec"
	"gctl/gcodeline"
)

func newTestController() *Controller {
	return New([]byte{'X', 'Y', 'Z'}, nil)
}

func TestNewControllerDefaults(t *testing.T) {
	c := newTestController()
	s := c.Status()
	if s.Units != "mm" {
		t.Fatalf("got units %q, want mm", s.Units)
	}
	if s.ActiveCoordSys != 0 {
		t.Fatalf("got coord sys %d, want 0", s.ActiveCoordSys)
	}
	if len(s.MPos) != 3 {
		t.Fatalf("got %d axes, want 3", len(s.MPos))
	}
}

func TestApplyOutgoingLineUnits(t *testing.T) {
	c := newTestController()
	c.ApplyOutgoingLine(gcodeline.ParseLine("G20"))
	if c.Status().Units != "in" {
		t.Fatalf("expected units=in after G20")
	}
	c.ApplyOutgoingLine(gcodeline.ParseLine("G21"))
	if c.Status().Units != "mm" {
		t.Fatalf("expected units=mm after G21")
	}
}

func TestDontOverwriteRuleUnits(t *testing.T) {
	c := newTestController()
	c.ApplyStatusReport(&codec.StatusReport{State: "Idle"})
	// no unit field reported, so G-code should still be able to set it
	c.ApplyOutgoingLine(gcodeline.ParseLine("G20"))
	if c.Status().Units != "in" {
		t.Fatalf("units should still derive from gcode when never reported")
	}
}

func TestApplyOutgoingCoordSys(t *testing.T) {
	c := newTestController()
	c.ApplyOutgoingLine(gcodeline.ParseLine("G55"))
	if c.Status().ActiveCoordSys != 1 {
		t.Fatalf("got coord sys %d, want 1 after G55", c.Status().ActiveCoordSys)
	}
}

func TestSpindleModal(t *testing.T) {
	c := newTestController()
	c.ApplyOutgoingLine(gcodeline.ParseLine("M3 S1000"))
	s := c.Status()
	if !s.Spindle || s.SpindleDir != 1 {
		t.Fatalf("expected spindle on cw, got %+v", s)
	}
	c.ApplyOutgoingLine(gcodeline.ParseLine("M5"))
	if c.Status().Spindle {
		t.Fatalf("expected spindle off after M5")
	}
}

func TestCoolantModal(t *testing.T) {
	c := newTestController()
	c.ApplyOutgoingLine(gcodeline.ParseLine("M8"))
	if c.Status().Coolant != CoolantFlood {
		t.Fatalf("expected flood coolant, got %v", c.Status().Coolant)
	}
	c.ApplyOutgoingLine(gcodeline.ParseLine("M9"))
	if c.Status().Coolant != CoolantOff {
		t.Fatalf("expected coolant off after M9")
	}
}

func TestProgramEndResetsState(t *testing.T) {
	c := newTestController()
	c.ApplyOutgoingLine(gcodeline.ParseLine("G91"))
	c.ApplyOutgoingLine(gcodeline.ParseLine("M3"))
	c.ApplyOutgoingLine(gcodeline.ParseLine("M30"))
	s := c.Status()
	if s.Incremental {
		t.Fatalf("expected incremental off after M30")
	}
	if s.Spindle {
		t.Fatalf("expected spindle off after M30")
	}
}

func TestApplyStatusReportMPosAndWCO(t *testing.T) {
	c := newTestController()
	f := 500.0
	c.ApplyStatusReport(&codec.StatusReport{
		State: "Run",
		MPos:  []float64{10, 20, 30},
		WCO:   []float64{1, 2, 3},
		Feed:  &f,
	})
	s := c.Status()
	if s.MPos[0] != 10 || s.MPos[1] != 20 || s.MPos[2] != 30 {
		t.Fatalf("got mpos %v", s.MPos)
	}
	if s.WPos[0] != 9 || s.WPos[1] != 18 || s.WPos[2] != 27 {
		t.Fatalf("got wpos %v, want mpos-wco", s.WPos)
	}
	if s.Feed != 500 {
		t.Fatalf("got feed %v", s.Feed)
	}
	if !s.Moving || !s.Ready {
		t.Fatalf("expected ready+moving after Run status")
	}
}

func TestDontOverwriteRuleAfterStatusReport(t *testing.T) {
	c := newTestController()
	on := true
	cw := true
	c.ApplyStatusReport(&codec.StatusReport{State: "Idle", SpindleOn: &on, SpindleCW: &cw})
	if !c.Status().Spindle {
		t.Fatalf("expected spindle on from status report")
	}
	// now outgoing M5 must NOT turn it off locally, since status report owns it
	c.ApplyOutgoingLine(gcodeline.ParseLine("M5"))
	if !c.Status().Spindle {
		t.Fatalf("status-report-owned spindle state must not be overwritten by outgoing M5")
	}
}

func TestPositionDerivationWithoutWCO(t *testing.T) {
	c := newTestController()
	c.ApplyStatusReport(&codec.StatusReport{State: "Idle", MPos: []float64{10, 0, 0}})
	c.ApplyOutgoingLine(gcodeline.ParseLine("G10 L2 P1 X2 Y0 Z0"))
	s := c.Status()
	if s.WPos[0] != 8 {
		t.Fatalf("got wpos[0]=%v, want 8 (mpos 10 - offset 2)", s.WPos[0])
	}
}

func TestMarkHomedZeroesAxis(t *testing.T) {
	c := newTestController()
	c.ApplyStatusReport(&codec.StatusReport{State: "Idle", MPos: []float64{5, 5, 5}})
	c.MarkHomed('X')
	s := c.Status()
	if s.MPos[0] != 0 {
		t.Fatalf("got mpos[0]=%v, want 0 after homing", s.MPos[0])
	}
	if !s.Homed[0] {
		t.Fatalf("expected homed[0]=true")
	}
}

func TestApplyParameterG54(t *testing.T) {
	c := newTestController()
	c.ApplyParameter("G54", []float64{1, 2, 3})
	s := c.Status()
	if s.CoordSysOffsets[0][0] != 1 || s.CoordSysOffsets[0][1] != 2 {
		t.Fatalf("got coord sys offsets %v", s.CoordSysOffsets[0])
	}
}

func TestSetErroredAndClearError(t *testing.T) {
	c := newTestController()
	c.SetReady(true)
	c.SetErrored(ErrorData{Message: "hard limit"})
	s := c.Status()
	if !s.Error || s.Ready {
		t.Fatalf("expected errored and not ready, got %+v", s)
	}
	c.ClearError()
	if c.Status().Error {
		t.Fatalf("expected error cleared")
	}
}

func TestSubscribeWakesOnUpdate(t *testing.T) {
	c := newTestController()
	ch := c.Subscribe()
	c.SetReady(true)
	select {
	case <-ch:
	default:
		t.Fatalf("expected statusUpdate channel to be closed after SetReady")
	}
}
