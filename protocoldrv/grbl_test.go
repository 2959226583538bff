package protocoldrv

import (
	"strings"
	"testing"
	"time"

	"gctl/codec"
	"gctl/logx"
)

func TestGRBLOpsFormatLine(t *testing.T) {
	var ops grblOps
	got := ops.formatLine("G0 X10")
	if !strings.HasSuffix(got, "\n") || !strings.Contains(got, "G0 X10") {
		t.Fatalf("formatLine(%q) = %q, want a newline-terminated line", "G0 X10", got)
	}
}

func TestGRBLOpsName(t *testing.T) {
	var ops grblOps
	if ops.name() != "grbl" {
		t.Fatalf("name() = %q, want grbl", ops.name())
	}
}

func TestGRBLOpsParseLine(t *testing.T) {
	var ops grblOps
	ev := ops.parseLine("ok")
	if ev.Kind != codec.KindAck {
		t.Fatalf("parseLine(%q).Kind = %v, want KindAck", "ok", ev.Kind)
	}
}

func TestGRBLOpsApplyEventAckRecordsAckTime(t *testing.T) {
	d := NewGRBLDriver(logx.New("test"), 128)
	var ops grblOps
	before := time.Now()
	ops.applyEvent(d, codec.Event{Kind: codec.KindAck})
	if d.lastAckAt.Before(before) {
		t.Fatalf("applyEvent(KindAck) did not record an ack time")
	}
}

func TestGRBLOpsApplyEventSettingRecordsValue(t *testing.T) {
	d := NewGRBLDriver(logx.New("test"), 128)
	var ops grblOps
	ops.applyEvent(d, codec.Event{Kind: codec.KindSetting, ParamName: "$110", ParamValue: "500.000"})
	if got := d.Machine.Settings()["$110"]; got != "500.000" {
		t.Fatalf("Settings()[$110] = %q, want 500.000", got)
	}
}

func TestParseFloatLoose(t *testing.T) {
	cases := map[string]float64{
		"10":      10,
		"-5.5":    -5.5,
		"0.125":   0.125,
		"-0.0001": -0.0001,
	}
	for in, want := range cases {
		if got := parseFloatLoose(in); got != want {
			t.Fatalf("parseFloatLoose(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSplitCoords(t *testing.T) {
	got := splitCoords("1.000,2.500,-3.750")
	want := []float64{1.0, 2.5, -3.75}
	if len(got) != len(want) {
		t.Fatalf("splitCoords() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitCoords()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
