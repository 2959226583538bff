package queue

import "time"

// ExecutedEntry records the line ID of a spliced entry, returned
// by the executed-loop and queue-report handlers so callers can log or
// double check ordering.
type ExecutedEntry struct {
	LineID float64
}

// ArmExecuting schedules entry's expected execution timestamp once it
// has been acked and advanced past idx_to_ack without splicing (§4.4.3:
// "compute an expected execution timestamp from the time-estimation
// VM"). This package does not implement the time-estimation VM itself
// (out of scope per spec.md §1); callers supply the duration.
func (e *Entry) ArmExecuting(expectedDuration time.Duration, now time.Time) {
	e.timeExecuted = now.Add(expectedDuration)
	e.armed = true
}

// ExecutedLoopTick implements GRBL's background executed-loop (§4.4.5):
// because GRBL emits no per-line completion event, pop entries off the
// head whose estimated execution time has passed. Returns the entries
// that transitioned to executed this tick, oldest first.
func (q *Queue) ExecutedLoopTick(now time.Time, plannerFull bool) []ExecutedEntry {
	if q.Dialect != DialectGRBL || plannerFull {
		return nil
	}
	var out []ExecutedEntry
	for q.idxToAck > 0 {
		e := q.entries[0]
		if !e.armed || now.Before(e.timeExecuted) {
			break
		}
		e.transition(stateExecuted, func(h *Hooks) {
			if h.OnExecuted != nil {
				h.OnExecuted()
			}
		})
		out = append(out, ExecutedEntry{LineID: e.LineID})
		q.splice(0)
	}
	return out
}

// QueueReport applies a TinyG triple queue report (qr free slots, qi
// inserted since last report, qo removed since last report) per
// §4.4.6, the planner mirror — the only way to call executed hooks in
// correct order on TinyG, since acks and executions are decoupled.
func (q *Queue) QueueReport(qr, qi, qo int) []ExecutedEntry {
	// Step 1: distribute qi newly-inserted slots among the line IDs
	// acked since the previous report.
	if qi > 0 {
		acked := q.ackedSinceLastQR
		n := len(acked)
		if n == 0 {
			for i := 0; i < qi; i++ {
				q.plannerMirror = append(q.plannerMirror, PlannerMirrorSlot{})
			}
		} else {
			per := n / qi
			if per < 1 {
				per = 1
			}
			i := 0
			for slot := 0; slot < qi && i < n; slot++ {
				end := i + per
				if slot == qi-1 || end > n {
					end = n
				}
				q.plannerMirror = append(q.plannerMirror, PlannerMirrorSlot{LineIDs: append([]float64(nil), acked[i:end]...)})
				i = end
			}
		}
	} else if len(q.ackedSinceLastQR) > 0 {
		// acks arrived but qi=0: fold into the most recent slot, or
		// create one and mark an extra shift debt.
		if len(q.plannerMirror) > 0 {
			last := &q.plannerMirror[len(q.plannerMirror)-1]
			last.LineIDs = append(last.LineIDs, q.ackedSinceLastQR...)
		} else {
			q.plannerMirror = append(q.plannerMirror, PlannerMirrorSlot{LineIDs: append([]float64(nil), q.ackedSinceLastQR...)})
			q.extraShiftDebt++
		}
	}
	q.ackedSinceLastQR = nil

	// Step 2: shift qo + extra_shift_debt slots off the head.
	shift := qo + q.extraShiftDebt
	q.extraShiftDebt = 0
	var out []ExecutedEntry
	for i := 0; i < shift && len(q.plannerMirror) > 0; i++ {
		slot := q.plannerMirror[0]
		q.plannerMirror = q.plannerMirror[1:]
		for _, id := range slot.LineIDs {
			if e := q.spliceByLineID(id); e != nil {
				e.transition(stateExecuted, func(h *Hooks) {
					if h.OnExecuted != nil {
						h.OnExecuted()
					}
				})
				out = append(out, ExecutedEntry{LineID: id})
			}
		}
	}

	// Step 3: truncate the mirror if it overshoots planner_queue_size - qr.
	if q.PlannerQueueSize > 0 {
		maxLen := q.PlannerQueueSize - qr
		if maxLen < 0 {
			maxLen = 0
		}
		if len(q.plannerMirror) > maxLen {
			q.plannerMirror = q.plannerMirror[len(q.plannerMirror)-maxLen:]
		}
	}

	q.lastQRNumFree = qr
	q.haveQR = true
	return out
}

// PlannerMirrorLen exposes the mirror length for invariant checks
// (§8 property 7: len(planner_mirror) <= planner_queue_size).
func (q *Queue) PlannerMirrorLen() int { return len(q.plannerMirror) }

// spliceByLineID removes and returns the entry with the given line ID,
// wherever it currently sits in the queue (planner-mirror-resolved
// entries are not necessarily at index 0 of the tracked entries, since
// idx_to_ack may have moved past several already).
func (q *Queue) spliceByLineID(id float64) *Entry {
	for i, e := range q.entries {
		if e.LineID == id {
			q.splice(i)
			return e
		}
	}
	return nil
}
