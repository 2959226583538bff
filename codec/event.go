// Package codec implements the two wire dialects' line/frame codecs:
// GRBL's regex-recognized ASCII lines and TinyG's tolerant JSON-like
// encoding. Both sides of each dialect parse into the tagged Event sum
// type below, per Design Note 5 of the controller spec ("From dynamic
// JSON to tagged sum types").
//
// The encode/decode style here — manual byte/field scanning behind
// small explicit types, no reflection-based marshaling for the hot
// path — is grounded directly on the teacher firmware's own wire codec
// (protocol/vlq.go, protocol/buffers.go), which takes exactly the same
// approach for Klipper's binary protocol.
package codec

import "gctl/cncerr"

// Kind tags which variant of Event is populated.
type Kind int

const (
	KindUnknown Kind = iota
	KindAck
	KindErrorAck
	KindStatusReport
	KindQueueReport
	KindWelcome
	KindAlarm
	KindFeedback
	KindParameter
	KindSetting
	KindMessage
	KindProbeReport
)

func (k Kind) String() string {
	switch k {
	case KindAck:
		return "ack"
	case KindErrorAck:
		return "error"
	case KindStatusReport:
		return "status_report"
	case KindQueueReport:
		return "queue_report"
	case KindWelcome:
		return "welcome"
	case KindAlarm:
		return "alarm"
	case KindFeedback:
		return "feedback"
	case KindParameter:
		return "parameter"
	case KindSetting:
		return "setting"
	case KindMessage:
		return "message"
	case KindProbeReport:
		return "probe_report"
	default:
		return "unknown"
	}
}

// StatusReport carries whichever fields a single status line/object
// reported. Pointer fields distinguish "not mentioned" from "zero"; per
// §4.3, only mentioned fields are authoritative.
type StatusReport struct {
	State    string
	Substate string

	MPos []float64
	WPos []float64
	WCO  []float64

	Feed         *float64
	SpindleSpeed *float64

	Line *int

	// Pn is GRBL's raw pin-state string (limit/probe inputs).
	Pn string

	// Bf / Qr: planner-buffer and rx-buffer free counts (GRBL "Bf:p,r").
	PlannerFree *int
	RxFree      *int

	Overrides []int // feed, rapid, spindle override percentages (Ov)

	SpindleOn   *bool
	SpindleCW   *bool
	CoolantMist *bool
	CoolantFlood *bool
}

// QueueReport is TinyG's triple queue report.
type QueueReport struct {
	QR int // free planner slots
	QI int // inserted since last report
	QO int // removed since last report
}

// ProbeReport is the parsed probe parameter ([PRB:...] / {prb:...}).
type ProbeReport struct {
	Pos     []float64
	Tripped bool
}

// Event is the tagged union of everything a line/frame codec can
// recognize out of an inbound byte stream.
type Event struct {
	Kind Kind
	Raw  string

	// KindAck / KindErrorAck
	ErrKind cncerr.Kind
	ErrCode string

	// KindStatusReport
	Status *StatusReport

	// KindQueueReport
	Queue *QueueReport

	// KindWelcome
	Version string

	// KindAlarm
	AlarmKind cncerr.Kind
	AlarmCode string

	// KindParameter / KindSetting
	ParamName  string
	ParamValue string

	// KindFeedback / KindMessage
	Message string

	// KindProbeReport
	Probe *ProbeReport
}
