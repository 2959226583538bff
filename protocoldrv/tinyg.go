package protocoldrv

import (
	"time"

	"gctl/cncerr"
	"gctl/codec"
)

// tinyGOps implements dialectOps for TinyG firmware.
type tinyGOps struct{}

func (tinyGOps) name() string { return "tinyg" }

func (tinyGOps) formatLine(str string) string {
	return codec.FormatTinyGRequest(map[string]any{"gc": str})
}

func (tinyGOps) parseLine(line string) codec.Event {
	return codec.ParseTinyGLine(line)
}

// initSequence requests status-report field configuration and the
// device's coordinate-system/offset parameters once the welcome has
// been seen, per §4.4.9.
func (tinyGOps) initSequence(d *Driver) error {
	reqs := []map[string]any{
		{"sr": map[string]any{"stat": true, "line": true, "vel": true, "mpox": true, "mpoy": true, "mpoz": true}},
		{"qr": nil},
		{"g54": nil}, {"g55": nil}, {"g56": nil}, {"g57": nil}, {"g58": nil}, {"g59": nil},
		{"g92": nil}, {"g28": nil}, {"g30": nil},
	}
	for _, r := range reqs {
		if _, err := d.Transport.WriteBytes([]byte(codec.FormatTinyGRequest(r) + "\n")); err != nil {
			return cncerr.Wrap(cncerr.CommError, "init", err)
		}
	}
	return nil
}

func (tinyGOps) applyEvent(d *Driver, ev codec.Event) {
	switch ev.Kind {
	case codec.KindAck:
		d.handleAck()
	case codec.KindErrorAck:
		d.Queue.AckError(ev.ErrKind, ev.ErrCode)
	case codec.KindQueueReport:
		d.handleQueueReport(ev.Queue)
	case codec.KindParameter:
		d.Machine.ApplySetting(ev.ParamName, ev.ParamValue)
		d.Machine.ApplyParameter(ev.ParamName, splitCoords(ev.ParamValue))
	case codec.KindProbeReport:
		d.deliverProbeReport(ev.Probe)
	}
}

// handleQueueReport feeds a TinyG triple queue report into the planner
// mirror (§4.4.6) and keeps the machine's comms snapshot current.
func (d *Driver) handleQueueReport(qr *codec.QueueReport) {
	if qr == nil {
		return
	}
	d.Queue.QueueReport(qr.QR, qr.QI, qr.QO)
	d.Machine.ApplyQueueReport(qr.QR)
	d.lastAckAt = time.Now()
}
