// Package queue implements the send queue and flow controller — the
// core of the engine (§4.4). It tracks in-flight line entries between
// the point they are handed to the engine and the point the firmware
// reports them executed, runs dialect-specific admission control
// against the firmware's receive buffer (GRBL) or planner/queue-report
// accounting (TinyG), and fires per-entry lifecycle hooks in order.
//
// This generalizes the teacher firmware's protocol/transport_host.go
// HostTransport: that type tracks a monotonic sequence number, an ack
// channel, and a response channel for Klipper's binary framed ack
// protocol with a write mutex guarding the wire. The shape carries
// over directly — a write-admission gate, an ack-driven pop from the
// head of an in-flight window — but the admission test itself is
// rebuilt per dialect (character counting vs triple queue report)
// since Klipper's framing has no equivalent of either.
package queue

import (
	"time"

	"gctl/cncerr"
)

// Hooks is the per-entry lifecycle listener (Design Note 9: "a typed
// lifecycle trait" rather than ad-hoc callbacks). The engine calls
// these synchronously at each transition and never awaits inside one.
type Hooks struct {
	OnQueued    func()
	OnSent      func()
	OnAck       func()
	OnExecuting func()
	OnExecuted  func()
	OnError     func(err error)
}

func (h *Hooks) fire(which func(*Hooks)) {
	if h != nil {
		which(h)
	}
}

// Entry is one outgoing line and its lifecycle bookkeeping (§3
// SendQueueEntry).
type Entry struct {
	Str             string
	LineID          float64
	Hooks           *Hooks
	ResponseExpected bool
	GoesToPlanner   int  // 0-4, estimated planner slots this entry will consume
	FullSync        bool
	CharCount       int // bytes charged to the firmware receive buffer once sent, incl. newline

	state        entryState
	errored      bool
	armed        bool
	timeExecuted time.Time
}

type entryState int

const (
	stateQueued entryState = iota
	stateSent
	stateAcked
	stateExecuting
	stateExecuted
	stateError
)

func (e *Entry) transition(to entryState, hook func(*Hooks)) {
	if e.state == stateError {
		return
	}
	e.state = to
	e.Hooks.fire(hook)
}

// Dialect selects which admission-control and report-handling rules a
// Queue runs.
type Dialect int

const (
	DialectGRBL Dialect = iota
	DialectTinyG
)

// PlannerMirrorSlot is TinyG's planner-mirror entry (§3): a range of
// line IDs attributed to one firmware planner slot, or a null marker
// (represented by LineIDs == nil) preserving count alignment when no
// acks arrived between queue reports.
type PlannerMirrorSlot struct {
	LineIDs []float64
}

// Queue is the send queue and flow controller for one controller
// connection. Every method is called from the owning reactor goroutine
// only (§5); there is no internal locking, matching the single-
// threaded cooperative model.
type Queue struct {
	Dialect Dialect

	entries   []*Entry
	idxToSend int
	idxToAck  int
	nextLineID float64

	immediateCounter int

	// GRBL admission control (§4.4.2).
	RxBufferSize int // default 128
	unackedCharCount int

	// TinyG admission control + planner mirror (§4.4.2, §4.4.6).
	PlannerQueueSize    int
	MaxUnackedRequests  int // default 32
	lastQRNumFree       int
	haveQR              bool
	plannerMirror       []PlannerMirrorSlot
	ackedSinceLastQR    []float64
	extraShiftDebt      int
	unackedResponses    int

	firstWriteDone bool
}

// NewGRBLQueue builds a Queue running GRBL's character-counting
// admission control against a receive buffer of the given size
// (default 128 if zero).
func NewGRBLQueue(rxBufferSize int) *Queue {
	if rxBufferSize <= 0 {
		rxBufferSize = 128
	}
	return &Queue{Dialect: DialectGRBL, RxBufferSize: rxBufferSize, nextLineID: 1}
}

// NewTinyGQueue builds a Queue running TinyG's triple-queue-report
// admission control.
func NewTinyGQueue(plannerQueueSize, maxUnackedRequests int) *Queue {
	if maxUnackedRequests <= 0 {
		maxUnackedRequests = 32
	}
	return &Queue{
		Dialect:            DialectTinyG,
		PlannerQueueSize:   plannerQueueSize,
		MaxUnackedRequests: maxUnackedRequests,
		nextLineID:         1,
	}
}

// Len returns the number of entries still tracked (queued through
// executing, not yet executed/spliced).
func (q *Queue) Len() int { return len(q.entries) }

// IdxToSend and IdxToAck expose the §3 invariant indices for the
// comms status snapshot.
func (q *Queue) IdxToSend() int { return q.idxToSend }
func (q *Queue) IdxToAck() int  { return q.idxToAck }

// LastQRNumFree returns TinyG's most recently reported free-planner
// count, or nil if none has arrived yet.
func (q *Queue) LastQRNumFree() *int {
	if !q.haveQR {
		return nil
	}
	v := q.lastQRNumFree
	return &v
}

// nextID assigns the next monotonic line ID.
func (q *Queue) nextID() float64 {
	id := q.nextLineID
	q.nextLineID++
	return id
}

// Send appends entry to the tail of the queue (§4.4.1). Returns the
// assigned line ID.
func (q *Queue) Send(e *Entry) float64 {
	e.LineID = q.nextID()
	q.entries = append(q.entries, e)
	e.transitionQueued()
	return e.LineID
}

func (e *Entry) transitionQueued() {
	e.state = stateQueued
	e.Hooks.fire(func(h *Hooks) {
		if h.OnQueued != nil {
			h.OnQueued()
		}
	})
}

// SendImmediate inserts entry at idx_to_send so it is the next one
// written, per §4.4.1: its line ID is chosen to sort strictly between
// its neighbors, and it bumps the immediate counter so admission
// control forces at least one byte-write irrespective of normal
// backpressure (bounded to one extra write per call).
func (q *Queue) SendImmediate(e *Entry) float64 {
	var lo, hi float64
	hasLo, hasHi := false, false
	if q.idxToSend > 0 {
		lo = q.entries[q.idxToSend-1].LineID
		hasLo = true
	}
	if q.idxToSend < len(q.entries) {
		hi = q.entries[q.idxToSend].LineID
		hasHi = true
	}
	switch {
	case hasLo && hasHi:
		e.LineID = (lo + hi) / 2
	case hasHi:
		e.LineID = hi - 1
	case hasLo:
		e.LineID = lo + 0.5
	default:
		e.LineID = q.nextID()
	}

	tail := append([]*Entry(nil), q.entries[q.idxToSend:]...)
	q.entries = append(q.entries[:q.idxToSend], e)
	q.entries = append(q.entries, tail...)
	q.immediateCounter++
	e.transitionQueued()
	return e.LineID
}

// CanSendHead reports whether the current head of the unsent portion
// may be written right now, per the dialect's admission-control rule
// (§4.4.2).
func (q *Queue) CanSendHead() bool {
	if q.idxToSend >= len(q.entries) {
		return false
	}
	e := q.entries[q.idxToSend]

	if e.FullSync && q.idxToSend != q.idxToAck {
		return false
	}
	if q.idxToSend > q.idxToAck {
		if prior := q.entries[q.idxToSend-1]; prior.FullSync {
			return false
		}
	}

	if q.immediateCounter > 0 {
		if q.Dialect == DialectGRBL {
			return q.unackedCharCount+e.CharCount <= q.absoluteBufferMaxFill()
		}
		return q.unackedResponses < q.MaxUnackedRequests
	}
	if !q.firstWriteDone {
		return true
	}

	switch q.Dialect {
	case DialectGRBL:
		return q.unackedCharCount+e.CharCount <= q.bufferMaxFill()
	case DialectTinyG:
		return q.tinyGCanSend(e)
	}
	return false
}

func (q *Queue) bufferMaxFill() int {
	return q.RxBufferSize - 13
}

// absoluteBufferMaxFill is the hard cap an immediate write may still not
// exceed (§4.4.2): the firmware's raw receive-buffer size, with none of
// bufferMaxFill's 13-byte margin reserved for a realtime command.
func (q *Queue) absoluteBufferMaxFill() int {
	return q.RxBufferSize
}

func (q *Queue) tinyGCanSend(e *Entry) bool {
	if q.unackedResponses >= q.MaxUnackedRequests {
		return false
	}
	if q.unackedResponses < 4 {
		return true
	}
	return q.effectiveFreePlanner() >= e.GoesToPlanner
}

func (q *Queue) effectiveFreePlanner() int {
	if !q.haveQR {
		return 0
	}
	sum := 0
	for i := q.idxToAck; i < q.idxToSend; i++ {
		sum += q.entries[i].GoesToPlanner
	}
	free := q.lastQRNumFree - 3 - sum
	if free < 0 {
		return 0
	}
	return free
}

// PopForWrite advances idx_to_send past the head entry, marks it sent,
// and returns that entry. Callers must have confirmed CanSendHead
// first and actually write the entry's line to the serial port.
func (q *Queue) PopForWrite() *Entry {
	if q.idxToSend >= len(q.entries) {
		return nil
	}
	e := q.entries[q.idxToSend]
	q.idxToSend++
	q.firstWriteDone = true
	if q.immediateCounter > 0 {
		q.immediateCounter--
	}
	if q.Dialect == DialectGRBL {
		q.unackedCharCount += e.CharCount
	} else {
		q.unackedResponses++
	}
	e.transition(stateSent, func(h *Hooks) {
		if h.OnSent != nil {
			h.OnSent()
		}
	})
	return e
}

// Ack handles a successful firmware ack (GRBL "ok" or TinyG "{r:...}"
// with no error code), per §4.4.3.
func (q *Queue) Ack() *Entry {
	if q.idxToAck >= len(q.entries) {
		return nil
	}
	e := q.entries[q.idxToAck]
	if q.Dialect == DialectGRBL {
		q.unackedCharCount -= e.CharCount
		if q.unackedCharCount < 0 {
			q.unackedCharCount = 0
		}
	} else {
		q.unackedResponses--
		if q.unackedResponses < 0 {
			q.unackedResponses = 0
		}
		q.ackedSinceLastQR = append(q.ackedSinceLastQR, e.LineID)
	}

	e.transition(stateAcked, func(h *Hooks) {
		if h.OnAck != nil {
			h.OnAck()
		}
	})

	if e.GoesToPlanner == 0 {
		e.transition(stateExecuting, func(h *Hooks) {
			if h.OnExecuting != nil {
				h.OnExecuting()
			}
		})
		e.transition(stateExecuted, func(h *Hooks) {
			if h.OnExecuted != nil {
				h.OnExecuted()
			}
		})
		q.splice(q.idxToAck)
		return e
	}

	q.idxToAck++
	if q.idxToAck == 1 && len(q.entries) > 0 {
		q.entries[0].transition(stateExecuting, func(h *Hooks) {
			if h.OnExecuting != nil {
				h.OnExecuting()
			}
		})
	}
	return e
}

// AckError handles a firmware ack carrying an error code: the entry's
// error hook fires, it is spliced out, and (GRBL policy) every
// remaining in-flight entry is cancelled with a matching error.
func (q *Queue) AckError(kind cncerr.Kind, code string) *Entry {
	if q.idxToAck >= len(q.entries) {
		return nil
	}
	e := q.entries[q.idxToAck]
	if q.Dialect == DialectGRBL {
		q.unackedCharCount -= e.CharCount
		if q.unackedCharCount < 0 {
			q.unackedCharCount = 0
		}
	} else {
		q.unackedResponses--
		if q.unackedResponses < 0 {
			q.unackedResponses = 0
		}
	}

	err := &cncerr.Error{Kind: kind, Op: "send", Code: code}
	e.state = stateError
	e.errored = true
	e.Hooks.fire(func(h *Hooks) {
		if h.OnError != nil {
			h.OnError(err)
		}
	})
	q.splice(q.idxToAck)

	if q.Dialect == DialectGRBL {
		q.cancelAllInFlight(err)
	}
	return e
}

// cancelAllInFlight fires the error hook on every remaining entry and
// empties the queue, used by GRBL's single-error-fails-the-job policy
// and by CancelAll below.
func (q *Queue) cancelAllInFlight(err error) {
	for _, e := range q.entries {
		if e.state == stateError || e.state == stateExecuted {
			continue
		}
		e.state = stateError
		e.errored = true
		e.Hooks.fire(func(h *Hooks) {
			if h.OnError != nil {
				h.OnError(err)
			}
		})
	}
	q.entries = nil
	q.idxToSend = 0
	q.idxToAck = 0
	q.unackedCharCount = 0
	q.unackedResponses = 0
	q.plannerMirror = nil
	q.ackedSinceLastQR = nil
	q.extraShiftDebt = 0
	q.immediateCounter = 0
}

// CancelAll rejects every pending entry with err and resets all
// indices and counters (§5 "cancellation semantics").
func (q *Queue) CancelAll(err error) {
	q.cancelAllInFlight(err)
}

// SynthesizeAckIfNoResponseExpected checks whether the next entry
// awaiting a response has ResponseExpected=false and, if so,
// immediately synthesizes its ack (§4.4.4), letting "fire-and-forget"
// directives flow through the same lifecycle as everything else.
func (q *Queue) SynthesizeAckIfNoResponseExpected() *Entry {
	if q.idxToAck >= len(q.entries) {
		return nil
	}
	if q.entries[q.idxToAck].ResponseExpected {
		return nil
	}
	return q.Ack()
}

// splice removes the entry at index i (already terminal) from the
// queue, shifting idx_to_send/idx_to_ack down to stay consistent.
func (q *Queue) splice(i int) {
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	if q.idxToSend > i {
		q.idxToSend--
	}
	if q.idxToAck > i {
		q.idxToAck--
	}
}
