package codec

import (
	"strconv"
	"strings"

	"gctl/cncerr"
)

// classifyTinyGError maps TinyG's numeric `er` footer codes to our
// stable taxonomy. TinyG's status codes are coarser than GRBL's; we
// bucket the common ranges (parameter errors, gcode parse errors,
// travel/soft-limit errors, and machine-state errors).
func classifyTinyGError(code int) cncerr.Kind {
	switch {
	case code == 0:
		return cncerr.InternalError
	case code >= 1 && code <= 19:
		return cncerr.ParseError
	case code >= 20 && code <= 99:
		return cncerr.MachineError
	case code >= 100 && code <= 199:
		return cncerr.ParseError
	case code >= 200 && code <= 249:
		return cncerr.LimitHit
	default:
		return cncerr.MachineError
	}
}

// ParseTinyGLine classifies one line of TinyG JSON-with-extensions
// output into an Event.
func ParseTinyGLine(line string) Event {
	line = strings.TrimSpace(line)
	ev := Event{Raw: line}

	obj, err := parseTinyGJSON(line)
	if err != nil {
		ev.Kind = KindUnknown
		return ev
	}

	if r, ok := obj["r"]; ok {
		return classifyTinyGResponse(ev, r, obj)
	}
	if sr, ok := obj["sr"]; ok {
		ev.Kind = KindStatusReport
		ev.Status = parseTinyGStatus(sr)
		return ev
	}
	if qr, ok := obj["qr"]; ok {
		ev.Kind = KindQueueReport
		ev.Queue = &QueueReport{
			QR: int(asFloat(qr)),
			QI: int(asFloat(obj["qi"])),
			QO: int(asFloat(obj["qo"])),
		}
		return ev
	}
	if erVal, ok := obj["er"]; ok {
		ev.Kind = KindErrorAck
		ev.ErrKind, ev.ErrCode = classifyTinyGErrorObject(erVal)
		return ev
	}
	if prb, ok := obj["prb"]; ok {
		ev.Kind = KindProbeReport
		ev.Probe = parseTinyGProbe(prb)
		return ev
	}
	for _, key := range []string{"g54", "g55", "g56", "g57", "g58", "g59", "g28", "g30", "g92", "tlo", "ver", "opt"} {
		if v, ok := obj[key]; ok {
			ev.Kind = KindParameter
			ev.ParamName = key
			ev.ParamValue = encodeTinyGJSON(v, 5)
			return ev
		}
	}
	for k, v := range obj {
		if strings.HasPrefix(k, "mpo") || strings.HasPrefix(k, "hom") {
			ev.Kind = KindParameter
			ev.ParamName = k
			ev.ParamValue = encodeTinyGJSON(v, 5)
			return ev
		}
	}

	ev.Kind = KindUnknown
	return ev
}

func classifyTinyGResponse(ev Event, r any, top map[string]any) Event {
	obj, ok := r.(map[string]any)
	if !ok {
		ev.Kind = KindAck
		return ev
	}
	if msg, ok := obj["msg"].(string); ok && msg == "SYSTEM READY" {
		ev.Kind = KindWelcome
		ev.Version = msg
		return ev
	}
	if fv, ok := obj["fv"].(float64); ok {
		ev.Kind = KindWelcome
		ev.Version = strconv.FormatFloat(fv, 'f', -1, 64)
		return ev
	}
	if erTop, ok := top["f"]; ok {
		// footer array [cmd_count, status_code, ...]
		if arr, ok := erTop.([]any); ok && len(arr) >= 2 {
			code := int(asFloat(arr[1]))
			if code != 0 {
				ev.Kind = KindErrorAck
				ev.ErrKind = classifyTinyGError(code)
				ev.ErrCode = strconv.Itoa(code)
				return ev
			}
		}
	}
	ev.Kind = KindAck
	return ev
}

func classifyTinyGErrorObject(v any) (cncerr.Kind, string) {
	switch t := v.(type) {
	case float64:
		code := int(t)
		return classifyTinyGError(code), strconv.Itoa(code)
	case map[string]any:
		if fv, ok := t["fb"].(float64); ok {
			code := int(fv)
			return classifyTinyGError(code), strconv.Itoa(code)
		}
	}
	return cncerr.MachineError, ""
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func parseTinyGStatus(v any) *StatusReport {
	sr := &StatusReport{}
	obj, ok := v.(map[string]any)
	if !ok {
		return sr
	}
	if stat, ok := obj["stat"]; ok {
		sr.State = tinyGStateName(int(asFloat(stat)))
	}
	axisOrder := []string{"x", "y", "z", "a", "b", "c"}
	var mpos, wpos []float64
	haveM, haveW := false, false
	for _, axis := range axisOrder {
		if v, ok := obj["mpo"+axis]; ok {
			mpos = append(mpos, asFloat(v))
			haveM = true
		}
		if v, ok := obj["pos"+axis]; ok {
			wpos = append(wpos, asFloat(v))
			haveW = true
		}
	}
	if haveM {
		sr.MPos = mpos
	}
	if haveW {
		sr.WPos = wpos
	}
	if v, ok := obj["vel"]; ok {
		f := asFloat(v)
		sr.Feed = &f
	}
	if v, ok := obj["line"]; ok {
		n := int(asFloat(v))
		sr.Line = &n
	}
	return sr
}

// tinyGStateName maps TinyG's numeric `stat` machine-state codes to
// GRBL-style names so the rest of the engine can share one vocabulary.
func tinyGStateName(code int) string {
	switch code {
	case 0:
		return "Init"
	case 1:
		return "Ready"
	case 2:
		return "Alarm"
	case 3:
		return "Stop"
	case 4:
		return "End"
	case 5:
		return "Run"
	case 6:
		return "Hold"
	case 7:
		return "Probe"
	case 8:
		return "Cycle"
	case 9:
		return "Homing"
	case 10:
		return "Jog"
	default:
		return "Unknown"
	}
}

func parseTinyGProbe(v any) *ProbeReport {
	obj, ok := v.(map[string]any)
	if !ok {
		return &ProbeReport{}
	}
	pr := &ProbeReport{}
	axisOrder := []string{"x", "y", "z", "a", "b", "c"}
	for _, axis := range axisOrder {
		if av, ok := obj[axis]; ok {
			pr.Pos = append(pr.Pos, asFloat(av))
		}
	}
	if e, ok := obj["e"]; ok {
		pr.Tripped = asFloat(e) != 0
	}
	return pr
}

// FormatTinyGRequest encodes a request object for the wire, e.g.
// FormatTinyGRequest(map[string]any{"gc": "G0 X10"}).
func FormatTinyGRequest(obj map[string]any) string {
	return encodeTinyGJSON(obj, 5)
}
