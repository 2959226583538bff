package protocoldrv

import (
	"time"

	"gctl/cncerr"
	"gctl/codec"
)

// grblOps implements dialectOps for GRBL 0.9/1.1 firmware.
type grblOps struct{}

func (grblOps) name() string { return "grbl" }

func (grblOps) formatLine(str string) string {
	return codec.FormatGRBLLine(str)
}

func (grblOps) parseLine(line string) codec.Event {
	return codec.ParseGRBLLine(line)
}

// initSequence requests the settings block and parser state once the
// welcome has been seen, per §4.4.9 "dialect-specific bring-up".
func (grblOps) initSequence(d *Driver) error {
	if _, err := d.Transport.WriteBytes([]byte("$$\n")); err != nil {
		return cncerr.Wrap(cncerr.CommError, "init", err)
	}
	if _, err := d.Transport.WriteBytes([]byte("$G\n")); err != nil {
		return cncerr.Wrap(cncerr.CommError, "init", err)
	}
	return nil
}

func (grblOps) applyEvent(d *Driver, ev codec.Event) {
	switch ev.Kind {
	case codec.KindAck:
		d.handleAck()
	case codec.KindErrorAck:
		d.Queue.AckError(ev.ErrKind, ev.ErrCode)
	case codec.KindSetting:
		d.Machine.ApplySetting(ev.ParamName, ev.ParamValue)
		d.Machine.ApplyParameter(ev.ParamName, parseSettingValue(ev.ParamValue))
	case codec.KindParameter:
		d.Machine.ApplyParameter(ev.ParamName, splitCoords(ev.ParamValue))
	case codec.KindProbeReport:
		d.deliverProbeReport(ev.Probe)
	}
}

func (d *Driver) handleAck() {
	d.lastAckAt = time.Now()
	d.Queue.Ack()
}

func parseSettingValue(s string) []float64 {
	return splitCoords(s)
}

func splitCoords(s string) []float64 {
	var out []float64
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, parseFloatLoose(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func parseFloatLoose(s string) float64 {
	var v float64
	var frac float64
	var fracDiv float64 = 1
	neg := false
	seenDot := false
	for _, c := range s {
		switch {
		case c == '-':
			neg = true
		case c == '.':
			seenDot = true
		case c >= '0' && c <= '9':
			d := float64(c - '0')
			if seenDot {
				fracDiv *= 10
				frac += d / fracDiv
			} else {
				v = v*10 + d
			}
		}
	}
	v += frac
	if neg {
		v = -v
	}
	return v
}
