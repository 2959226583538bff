package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gctl/cncerr"
)

// GRBL recognizes lines in priority order per §4.2: ok/ok:, status
// report, error:, ALARM:, welcome, $N=/$nn=, [MSG:...], [GC:.../[...],
// device-parameter blocks, [HLP:]/[echo:] (ignored), then a generic
// feedback fallback for any other bracketed line.
var (
	reOK        = regexp.MustCompile(`^ok(:(.*))?$`)
	reError     = regexp.MustCompile(`^error:\s*(.+)$`)
	reAlarm     = regexp.MustCompile(`^ALARM:\s*(.+)$`)
	reWelcome   = regexp.MustCompile(`^Grbl\s+v?([0-9]+\.[0-9]+[a-zA-Z]?)`)
	reStatus    = regexp.MustCompile(`^<(.+)>$`)
	reSetting   = regexp.MustCompile(`^\$(N?\d+)=(.+)$`)
	reMsg       = regexp.MustCompile(`^\[MSG:(.*)\]$`)
	reGC        = regexp.MustCompile(`^\[GC:(.*)\]$`)
	reGWords    = regexp.MustCompile(`^\[((?:G|M)\d[^\]:]*)\]$`)
	reG54       = regexp.MustCompile(`^\[G5[4-9]:(.*)\]$`)
	reG28       = regexp.MustCompile(`^\[G28:(.*)\]$`)
	reG30       = regexp.MustCompile(`^\[G30:(.*)\]$`)
	reG92       = regexp.MustCompile(`^\[G92:(.*)\]$`)
	reTLO       = regexp.MustCompile(`^\[TLO:(.*)\]$`)
	rePRB       = regexp.MustCompile(`^\[PRB:([^\]:]+):(\d)\]$`)
	reVER       = regexp.MustCompile(`^\[VER:(.*)\]$`)
	reOPT       = regexp.MustCompile(`^\[OPT:(.*)\]$`)
	reHLP       = regexp.MustCompile(`^\[HLP:`)
	reEcho      = regexp.MustCompile(`^\[echo:`)
	reGeneric   = regexp.MustCompile(`^\[(.*)\]$`)
)

// grblErrorTaxonomy maps GRBL's numeric error codes (shared by 0.9 and
// 1.1) to our stable error kinds. Values follow the published GRBL 1.1
// error-code reference.
var grblErrorTaxonomy = map[string]cncerr.Kind{
	"1": cncerr.ParseError, "2": cncerr.ParseError, "3": cncerr.ParseError,
	"4": cncerr.ParseError, "5": cncerr.ParseError, "6": cncerr.ParseError,
	"7": cncerr.ParseError, "8": cncerr.UnsupportedOp, "9": cncerr.UnsupportedOp,
	"10": cncerr.ParseError, "11": cncerr.ParseError, "12": cncerr.UnsupportedOp,
	"13": cncerr.SafetyInterlock, "14": cncerr.ParseError, "15": cncerr.LimitHit,
	"16": cncerr.ParseError, "17": cncerr.UnsupportedOp, "18": cncerr.ParseError,
	"19": cncerr.ParseError, "20": cncerr.UnsupportedOp, "21": cncerr.UnsupportedOp,
	"22": cncerr.MachineError, "23": cncerr.ParseError, "24": cncerr.ParseError,
	"25": cncerr.ParseError, "26": cncerr.ParseError, "27": cncerr.ParseError,
	"28": cncerr.ParseError, "29": cncerr.UnsupportedOp, "30": cncerr.ParseError,
	"31": cncerr.ParseError, "32": cncerr.ParseError, "33": cncerr.ParseError,
	"34": cncerr.ParseError, "35": cncerr.ParseError, "36": cncerr.ParseError,
	"37": cncerr.ParseError, "38": cncerr.ParseError,
}

// grblErrorText maps the canonical 1.1 textual error variants (as seen
// with $10=3-style verbose error reporting) to the same taxonomy.
var grblErrorText = map[string]cncerr.Kind{
	"expected command letter":              cncerr.ParseError,
	"bad number format":                    cncerr.ParseError,
	"invalid statement":                    cncerr.ParseError,
	"value < 0":                            cncerr.ParseError,
	"setting disabled":                     cncerr.UnsupportedOp,
	"value too small":                      cncerr.ParseError,
	"value too large":                      cncerr.ParseError,
	"soft limit error":                     cncerr.LimitHit,
	"hard limit triggered":                 cncerr.LimitHit,
	"homing fail":                          cncerr.MachineError,
	"probe fail":                           cncerr.ProbeNotTripped,
	"alarm lock":                           cncerr.SafetyInterlock,
	"travel exceeded":                      cncerr.LimitHit,
	"reset while in motion":                cncerr.Cancelled,
}

// grblAlarmTaxonomy maps GRBL's numeric ALARM codes to our taxonomy.
var grblAlarmTaxonomy = map[string]cncerr.Kind{
	"1": cncerr.LimitHit, "2": cncerr.LimitHit, "3": cncerr.MachineError,
	"4": cncerr.ProbeNotTripped, "5": cncerr.ProbeNotTripped, "6": cncerr.MachineError,
	"7": cncerr.SafetyInterlock, "8": cncerr.MachineError, "9": cncerr.SafetyInterlock,
	"10": cncerr.MachineError,
}

func classifyGrblError(code string) (cncerr.Kind, string) {
	code = strings.TrimSpace(code)
	if k, ok := grblErrorTaxonomy[code]; ok {
		return k, code
	}
	if k, ok := grblErrorText[strings.ToLower(code)]; ok {
		return k, code
	}
	return cncerr.MachineError, code
}

func classifyGrblAlarm(code string) (cncerr.Kind, string) {
	code = strings.TrimSpace(code)
	if k, ok := grblAlarmTaxonomy[code]; ok {
		return k, code
	}
	return cncerr.MachineError, code
}

// ParseGRBLLine classifies one line of GRBL output into an Event,
// following the priority order in §4.2.
func ParseGRBLLine(line string) Event {
	line = strings.TrimSpace(line)
	ev := Event{Raw: line}

	switch {
	case reOK.MatchString(line):
		ev.Kind = KindAck
		return ev

	case reStatus.MatchString(line):
		m := reStatus.FindStringSubmatch(line)
		ev.Kind = KindStatusReport
		ev.Status = parseGrblStatus(m[1])
		return ev

	case reError.MatchString(line):
		m := reError.FindStringSubmatch(line)
		ev.Kind = KindErrorAck
		ev.ErrKind, ev.ErrCode = classifyGrblError(m[1])
		return ev

	case reAlarm.MatchString(line):
		m := reAlarm.FindStringSubmatch(line)
		ev.Kind = KindAlarm
		ev.AlarmKind, ev.AlarmCode = classifyGrblAlarm(m[1])
		return ev

	case reWelcome.MatchString(line):
		m := reWelcome.FindStringSubmatch(line)
		ev.Kind = KindWelcome
		ev.Version = m[1]
		return ev

	case reSetting.MatchString(line):
		m := reSetting.FindStringSubmatch(line)
		ev.Kind = KindSetting
		ev.ParamName = "$" + m[1]
		ev.ParamValue = m[2]
		return ev

	case rePRB.MatchString(line):
		m := rePRB.FindStringSubmatch(line)
		ev.Kind = KindProbeReport
		ev.Probe = parseGrblProbe(m[1], m[2])
		return ev

	case reMsg.MatchString(line):
		m := reMsg.FindStringSubmatch(line)
		ev.Kind = KindMessage
		ev.Message = m[1]
		return ev

	case reGC.MatchString(line), reGWords.MatchString(line):
		ev.Kind = KindFeedback
		ev.Message = line
		return ev

	case reG54.MatchString(line), reG28.MatchString(line), reG30.MatchString(line),
		reG92.MatchString(line), reTLO.MatchString(line), reVER.MatchString(line),
		reOPT.MatchString(line):
		ev.Kind = KindParameter
		name, value := splitBracketParam(line)
		ev.ParamName, ev.ParamValue = name, value
		return ev

	case reHLP.MatchString(line), reEcho.MatchString(line):
		ev.Kind = KindUnknown
		return ev

	case reGeneric.MatchString(line):
		m := reGeneric.FindStringSubmatch(line)
		ev.Kind = KindFeedback
		ev.Message = m[1]
		return ev
	}

	ev.Kind = KindUnknown
	return ev
}

func splitBracketParam(line string) (string, string) {
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
	idx := strings.Index(inner, ":")
	if idx < 0 {
		return inner, ""
	}
	return inner[:idx], inner[idx+1:]
}

// parseGrblStatus parses the body of a status report. 1.1 reports are
// '|'-separated with every field fully labeled ("MPos:0,0,0"); 0.9
// reports are ','-separated throughout, with a labeled field's vector
// continuing across following unlabeled comma-delimited numbers
// ("MPos:0.000,0.000,0.000,WPos:1.000,2.000,3.000" — the three numbers
// after "WPos:" belong to WPos, not to MPos). Both variants must be
// accepted per §4.2/§6.
func parseGrblStatus(body string) *StatusReport {
	if strings.Contains(body, "|") {
		return parseGrblStatus11(body)
	}
	return parseGrblStatus09(body)
}

// parseGrblStatus11 parses the 1.1 '|'-separated form, where every
// field after the first already carries its own label.
func parseGrblStatus11(body string) *StatusReport {
	sr := &StatusReport{}
	fields := strings.Split(body, "|")

	sr.State, sr.Substate = splitStateSubstate(fields[0])

	for _, f := range fields[1:] {
		parts := strings.SplitN(f, ":", 2)
		if len(parts) != 2 {
			continue
		}
		applyGrblStatusField(sr, parts[0], parts[1])
	}

	return sr
}

// parseGrblStatus09 parses the 0.9 ','-separated form, where a labeled
// field's value list continues through subsequent comma-separated
// tokens until the next label appears.
func parseGrblStatus09(body string) *StatusReport {
	sr := &StatusReport{}
	parts := strings.Split(body, ",")
	if len(parts) == 0 {
		return sr
	}
	sr.State, sr.Substate = splitStateSubstate(parts[0])

	var key string
	var vals []string
	flush := func() {
		if key == "" {
			return
		}
		applyGrblStatusField(sr, key, strings.Join(vals, ","))
	}
	for _, p := range parts[1:] {
		if idx := strings.Index(p, ":"); idx >= 0 {
			flush()
			key, vals = p[:idx], []string{p[idx+1:]}
		} else if key != "" {
			vals = append(vals, p)
		}
	}
	flush()

	return sr
}

// splitStateSubstate splits the leading state field into its state and
// optional ":substate" suffix, shared by both report variants.
func splitStateSubstate(first string) (state, substate string) {
	if idx := strings.Index(first, ":"); idx >= 0 {
		return first[:idx], first[idx+1:]
	}
	return first, ""
}

// applyGrblStatusField folds one labeled status-report field into sr,
// shared between the 1.1 '|'-separated and 0.9 ','-separated parsers.
func applyGrblStatusField(sr *StatusReport, key, val string) {
	switch key {
	case "MPos":
		sr.MPos = parseFloatList(val)
	case "WPos":
		sr.WPos = parseFloatList(val)
	case "WCO":
		sr.WCO = parseFloatList(val)
	case "F":
		v := parseFloatOrZero(val)
		sr.Feed = &v
	case "FS":
		nums := parseFloatList(val)
		if len(nums) >= 1 {
			sr.Feed = &nums[0]
		}
		if len(nums) >= 2 {
			sr.SpindleSpeed = &nums[1]
		}
	case "Ln":
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err == nil {
			sr.Line = &n
		}
	case "Pn":
		sr.Pn = val
	case "Bf":
		nums := parseFloatList(val)
		if len(nums) >= 1 {
			n := int(nums[0])
			sr.PlannerFree = &n
		}
		if len(nums) >= 2 {
			n := int(nums[1])
			sr.RxFree = &n
		}
	case "Ov":
		nums := parseFloatList(val)
		for _, n := range nums {
			sr.Overrides = append(sr.Overrides, int(n))
		}
	case "A":
		parseGrblAccessory(sr, val)
	}
}

func parseGrblAccessory(sr *StatusReport, val string) {
	on, cw, mist, flood := false, false, false, false
	for _, c := range val {
		switch c {
		case 'S':
			on, cw = true, true
		case 'C':
			on, cw = true, false
		case 'F':
			mist = true
		case 'M':
			flood = true
		}
	}
	if on {
		sr.SpindleOn = &on
		sr.SpindleCW = &cw
	}
	if mist {
		sr.CoolantMist = &mist
	}
	if flood {
		sr.CoolantFlood = &flood
	}
}

func parseGrblProbe(coords, eFlag string) *ProbeReport {
	pos := parseFloatList(coords)
	tripped := eFlag == "1"
	return &ProbeReport{Pos: pos, Tripped: tripped}
}

func parseFloatList(s string) []float64 {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		out = append(out, parseFloatOrZero(p))
	}
	return out
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatGRBLLine is a tiny helper for the outgoing side: GRBL's line
// protocol requires no special escaping, only a trailing newline, which
// callers add when writing to the wire (char-count accounting in the
// send queue needs the byte count including that newline).
func FormatGRBLLine(s string) string {
	return fmt.Sprintf("%s\n", s)
}
