package queue

import (
	"testing"
	"time"

	"gctl/cncerr"
)

func hookCounter() (*Hooks, *[]string) {
	order := &[]string{}
	h := &Hooks{
		OnQueued:    func() { *order = append(*order, "queued") },
		OnSent:      func() { *order = append(*order, "sent") },
		OnAck:       func() { *order = append(*order, "ack") },
		OnExecuting: func() { *order = append(*order, "executing") },
		OnExecuted:  func() { *order = append(*order, "executed") },
		OnError:     func(err error) { *order = append(*order, "error") },
	}
	return h, order
}

func TestGRBLHappyPath(t *testing.T) {
	q := NewGRBLQueue(128)
	h, order := hookCounter()
	e := &Entry{Str: "G0 X10", CharCount: len("G0 X10\n"), ResponseExpected: true, Hooks: h}
	q.Send(e)

	if !q.CanSendHead() {
		t.Fatalf("expected head sendable on first write")
	}
	sent := q.PopForWrite()
	if sent != e {
		t.Fatalf("expected to pop the entry we sent")
	}

	q.Ack()

	want := []string{"queued", "sent", "ack", "executing", "executed"}
	if !equalStrSlices(*order, want) {
		t.Fatalf("got hook order %v, want %v", *order, want)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after ack+splice, got len=%d", q.Len())
	}
}

func TestGRBLBufferSaturation(t *testing.T) {
	q := NewGRBLQueue(128)
	lineLen := len("G1 X1 Y1 F1000\n") // 14 bytes + newline = 15
	for i := 0; i < 20; i++ {
		q.Send(&Entry{Str: "G1 X1 Y1 F1000", CharCount: lineLen, ResponseExpected: true})
	}

	sentCount := 0
	for q.CanSendHead() {
		q.PopForWrite()
		sentCount++
		if q.unackedCharCount > 128 {
			t.Fatalf("unackedCharCount exceeded hard cap: %d", q.unackedCharCount)
		}
	}
	if sentCount != 7 {
		t.Fatalf("got %d lines on the wire, want floor(115/15)=7", sentCount)
	}
	if q.unackedCharCount > 115 {
		t.Fatalf("unackedCharCount %d exceeds soft cap 115 pre-write", q.unackedCharCount)
	}

	// as each ack returns, exactly one more line should become sendable
	q.Ack()
	if !q.CanSendHead() {
		t.Fatalf("expected one more line sendable after an ack frees buffer space")
	}
}

func TestAckErrorCancelsRemainingGRBL(t *testing.T) {
	q := NewGRBLQueue(128)
	h1, order1 := hookCounter()
	h2, order2 := hookCounter()
	e1 := &Entry{Str: "G1 X1", CharCount: 7, ResponseExpected: true, Hooks: h1}
	e2 := &Entry{Str: "G1 X2", CharCount: 7, ResponseExpected: true, Hooks: h2}
	q.Send(e1)
	q.Send(e2)
	q.PopForWrite()
	q.PopForWrite()

	q.AckError(cncerr.MachineError, "1")

	if !contains(*order1, "error") {
		t.Fatalf("expected e1 to receive error hook, got %v", *order1)
	}
	if !contains(*order2, "error") {
		t.Fatalf("expected e2 to receive error hook from GRBL cancel-all policy, got %v", *order2)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue drained after GRBL error cancel-all, got len=%d", q.Len())
	}
}

func TestImmediateInsertionLineIDBetweenNeighbors(t *testing.T) {
	q := NewGRBLQueue(128)
	e1 := &Entry{Str: "G1 X1", CharCount: 7}
	e2 := &Entry{Str: "G1 X2", CharCount: 7}
	q.Send(e1)
	q.Send(e2)
	q.PopForWrite() // e1 on the wire, so idx_to_send sits between e1 and e2

	imm := &Entry{Str: "?", CharCount: 0}
	q.SendImmediate(imm)

	if !(imm.LineID > e1.LineID && imm.LineID < e2.LineID) {
		t.Fatalf("expected immediate line id strictly between neighbors: %v < %v < %v", e1.LineID, imm.LineID, e2.LineID)
	}
}

func TestFullSyncBlocksSubsequentEntries(t *testing.T) {
	q := NewGRBLQueue(128)
	fs := &Entry{Str: "$#", CharCount: 2, FullSync: true, ResponseExpected: true}
	after := &Entry{Str: "G1 X1", CharCount: 7, ResponseExpected: true}
	q.Send(fs)
	q.Send(after)

	if !q.CanSendHead() {
		t.Fatalf("expected full_sync head entry sendable when it's the only in-flight")
	}
	q.PopForWrite()

	if q.CanSendHead() {
		t.Fatalf("expected subsequent entry blocked while full_sync entry unacked")
	}

	q.Ack()
	if !q.CanSendHead() {
		t.Fatalf("expected subsequent entry sendable once full_sync entry completed")
	}
}

func TestImmediateWriteBoundedByAbsoluteBufferMaxFill(t *testing.T) {
	q := NewGRBLQueue(128)
	lineLen := len("G1 X1 Y1 F100\n")
	for i := 0; i < 20; i++ {
		q.Send(&Entry{Str: "G1 X1 Y1 F100", CharCount: lineLen, ResponseExpected: true})
	}
	for q.CanSendHead() {
		q.PopForWrite()
	}
	// unackedCharCount now sits at the soft cap (<=115); push one more
	// oversized immediate entry that would blow past the hard cap of 128.
	imm := &Entry{Str: "$X", CharCount: 120, ResponseExpected: true}
	q.SendImmediate(imm)

	if q.CanSendHead() {
		t.Fatalf("expected immediate entry blocked: %d+%d would exceed absolute_buffer_max_fill 128", q.unackedCharCount, imm.CharCount)
	}
}

func TestImmediateWriteAllowedWithinAbsoluteBufferMaxFill(t *testing.T) {
	q := NewGRBLQueue(128)
	lineLen := len("G1 X1 Y1 F100\n")
	for i := 0; i < 20; i++ {
		q.Send(&Entry{Str: "G1 X1 Y1 F100", CharCount: lineLen, ResponseExpected: true})
	}
	for q.CanSendHead() {
		q.PopForWrite()
	}
	imm := &Entry{Str: "!", CharCount: 1, ResponseExpected: false}
	q.SendImmediate(imm)

	if !q.CanSendHead() {
		t.Fatalf("expected small immediate entry sendable within absolute_buffer_max_fill")
	}
	q.PopForWrite()
	if q.unackedCharCount > 128 {
		t.Fatalf("unackedCharCount exceeded hard cap after immediate write: %d", q.unackedCharCount)
	}
}

func TestTinyGQueueReportFlow(t *testing.T) {
	q := NewTinyGQueue(32, 32)
	q.QueueReport(28, 0, 0)
	if q.PlannerMirrorLen() != 0 {
		t.Fatalf("expected empty mirror initially")
	}

	var entries []*Entry
	for i := 0; i < 3; i++ {
		e := &Entry{Str: "G1 X1", GoesToPlanner: 1, ResponseExpected: true}
		q.Send(e)
		entries = append(entries, e)
	}
	for i := 0; i < 3; i++ {
		q.PopForWrite()
		q.Ack()
	}

	q.QueueReport(25, 3, 0)
	if q.PlannerMirrorLen() != 3 {
		t.Fatalf("got mirror len %d, want 3", q.PlannerMirrorLen())
	}

	executed := q.QueueReport(27, 0, 2)
	if len(executed) != 2 {
		t.Fatalf("got %d executed entries, want 2", len(executed))
	}
	if executed[0].LineID != entries[0].LineID || executed[1].LineID != entries[1].LineID {
		t.Fatalf("expected executed entries in FIFO order, got %v", executed)
	}
	if q.PlannerMirrorLen() != 1 {
		t.Fatalf("got mirror len %d after popping 2 of 3, want 1", q.PlannerMirrorLen())
	}
}

func TestSynthesizeAckForFireAndForget(t *testing.T) {
	q := NewGRBLQueue(128)
	h, order := hookCounter()
	e := &Entry{Str: "~", CharCount: 0, ResponseExpected: false, Hooks: h}
	q.Send(e)
	q.PopForWrite()

	got := q.SynthesizeAckIfNoResponseExpected()
	if got != e {
		t.Fatalf("expected synthetic ack for response_expected=false entry")
	}
	want := []string{"queued", "sent", "ack", "executing", "executed"}
	if !equalStrSlices(*order, want) {
		t.Fatalf("got hook order %v, want %v", *order, want)
	}
}

func TestExecutedLoopTickPopsOnSchedule(t *testing.T) {
	q := NewGRBLQueue(128)
	e := &Entry{Str: "G1 X1", GoesToPlanner: 1, CharCount: 7, ResponseExpected: true}
	q.Send(e)
	q.PopForWrite()
	q.Ack() // advances idx_to_ack without splicing since GoesToPlanner>0

	now := time.Now()
	e.ArmExecuting(10*time.Millisecond, now)

	out := q.ExecutedLoopTick(now, false)
	if len(out) != 0 {
		t.Fatalf("expected nothing executed before the scheduled time")
	}
	out = q.ExecutedLoopTick(now.Add(20*time.Millisecond), false)
	if len(out) != 1 || out[0].LineID != e.LineID {
		t.Fatalf("expected entry executed after its scheduled time, got %v", out)
	}
}

func TestCancelAllRejectsPendingEntries(t *testing.T) {
	q := NewGRBLQueue(128)
	h, order := hookCounter()
	e := &Entry{Str: "G1 X1", CharCount: 7, ResponseExpected: true, Hooks: h}
	q.Send(e)

	q.CancelAll(cncerr.New(cncerr.Cancelled, "cancel"))

	if !contains(*order, "error") {
		t.Fatalf("expected error hook on cancel, got %v", *order)
	}
	if q.Len() != 0 || q.IdxToSend() != 0 || q.IdxToAck() != 0 {
		t.Fatalf("expected queue and indices reset after cancel")
	}
}

func equalStrSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
