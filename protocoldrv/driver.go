// Package protocoldrv implements the dialect-specific protocol state
// machines (§4.4.9, §4.5): drivers that consume codec events, feed the
// send queue, synthesize position/modal updates into the machine
// state, and run the connection lifecycle
// disconnected→opening→waiting-welcome→initializing→ready→(error|
// closed)→retrying→opening.
//
// The connect/init/retry shape is adapted from the teacher firmware's
// host/mcu/mcu.go Connect/ConnectWithConfig (open the port, give the
// device a moment to settle, wire a response handler) generalized with
// the explicit retry loop and welcome/timeout handling the teacher's
// single unconditional Connect does not have — §4.4.9 requires it.
package protocoldrv

import (
	"context"
	"sync"
	"time"

	"gctl/cncerr"
	"gctl/codec"
	"gctl/logx"
	"gctl/machine"
	"gctl/queue"
	"gctl/serial"
)

// ConnState is a state of the connection lifecycle state machine.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateOpening
	StateWaitingWelcome
	StateInitializing
	StateReady
	StateError
	StateClosed
	StateRetrying
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateOpening:
		return "opening"
	case StateWaitingWelcome:
		return "waiting-welcome"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// dialectOps is implemented by GRBL.go / TinyG.go; it carries every
// piece of behavior that differs between the two firmware families.
type dialectOps interface {
	name() string
	formatLine(str string) string
	parseLine(line string) codec.Event
	// initSequence runs dialect-specific bring-up once a welcome has
	// been seen: settings fetch, status-report configuration,
	// parameter fetch (§4.4.9 "initializing").
	initSequence(d *Driver) error
	// applyEvent updates queue/machine state for one parsed event.
	applyEvent(d *Driver, ev codec.Event)
}

const recentMessageWindow = 5

// Driver is the per-connection protocol driver: one per physical
// device, owning the transport, send queue, and machine state.
type Driver struct {
	Logger    *logx.Logger
	Transport *serial.LineTransport
	Queue     *queue.Queue
	Machine   *machine.Controller

	ops dialectOps

	mu             sync.Mutex
	state          ConnState
	retryFlag      bool
	disableSending bool

	recentMessages []string // ring of the last few feedback/message lines, for alarm enrichment

	lastStatusAt time.Time
	lastAckAt    time.Time

	readyCh chan struct{}
	cancel  context.CancelFunc

	// actions serializes every external call into the Queue/Machine
	// onto the single reactor goroutine (§5: "all state transitions
	// occur on one logical task"). Operations layer callers make every
	// Queue/Machine mutation through Do/DoSync; they read machine state
	// through its mutex-guarded Status/Subscribe accessors.
	actions chan func()

	// cancelCh is closed/replaced by cancelRunningOps (§5 "Cancellation
	// semantics"); every public await (wait_sync, move, probe, the
	// stream pump) selects on it alongside its own ctx.
	cancelCh    chan struct{}
	cancelErr   error
	probeReport chan *codec.ProbeReport
}

// NewGRBLDriver builds a Driver speaking the GRBL dialect.
func NewGRBLDriver(logger *logx.Logger, rxBufferSize int) *Driver {
	return newDriver(logger, queue.NewGRBLQueue(rxBufferSize), &grblOps{})
}

// NewTinyGDriver builds a Driver speaking the TinyG dialect.
func NewTinyGDriver(logger *logx.Logger, plannerQueueSize, maxUnackedRequests int) *Driver {
	return newDriver(logger, queue.NewTinyGQueue(plannerQueueSize, maxUnackedRequests), &tinyGOps{})
}

func newDriver(logger *logx.Logger, q *queue.Queue, ops dialectOps) *Driver {
	if logger == nil {
		logger = logx.New("protocoldrv")
	}
	axes := []byte{'X', 'Y', 'Z'}
	return &Driver{
		Logger:  logger,
		Queue:   q,
		Machine: machine.New(axes, nil),
		ops:     ops,
		state:   StateDisconnected,
		readyCh:     make(chan struct{}),
		actions:     make(chan func(), 64),
		cancelCh:    make(chan struct{}),
		probeReport: make(chan *codec.ProbeReport, 1),
	}
}

// CancelSignal returns the channel closed by the most recent
// cancelRunningOps call, and the error that triggered it. Callers
// re-fetch after each fire the same way machine.Subscribe works.
func (d *Driver) CancelSignal() (<-chan struct{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelCh, d.cancelErr
}

// cancelRunningOps implements §5's cancellation semantics: reject every
// pending waiter with err and clear the send queue.
func (d *Driver) cancelRunningOps(err error) {
	d.Queue.CancelAll(err)
	d.mu.Lock()
	ch := d.cancelCh
	d.cancelErr = err
	d.cancelCh = make(chan struct{})
	d.mu.Unlock()
	close(ch)
}

// deliverProbeReport hands the most recent parsed probe parameter
// report to whichever probe operation is awaiting it, replacing any
// stale unread report.
func (d *Driver) deliverProbeReport(pr *codec.ProbeReport) {
	select {
	case d.probeReport <- pr:
	default:
		select {
		case <-d.probeReport:
		default:
		}
		d.probeReport <- pr
	}
}

// AwaitProbeReport blocks until a probe parameter report arrives or ctx
// is done.
func (d *Driver) AwaitProbeReport(ctx context.Context) (*codec.ProbeReport, error) {
	select {
	case pr := <-d.probeReport:
		return pr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteRaw writes bytes directly to the transport, bypassing the send
// queue — used by the control surface (§4.4.8) for immediate commands.
func (d *Driver) WriteRaw(b []byte) (int, error) {
	return d.Transport.WriteBytes(b)
}

// InFlightCount reports how many entries are tracked but not yet
// executed, used by the GRBL probe retry bound ("$#" bounded by
// in-flight count to avoid loops").
// It reads the machine's comms snapshot, which the reactor refreshes
// after every admission pass, so it is safe to call off the reactor.
func (d *Driver) InFlightCount() int { return d.Machine.Status().Comms.SendQueueLength }

// StatusNewerThanAck reports whether the most recent status report
// arrived after the most recent ack, the third leg of §4.4.7's synced
// test.
func (d *Driver) StatusNewerThanAck() bool {
	return d.lastStatusAt.After(d.lastAckAt)
}

// Do schedules fn to run on the reactor goroutine and returns
// immediately without waiting for it to execute (fire-and-forget,
// e.g. Send). Queued actions run in order once the reactor's run loop
// starts processing them.
func (d *Driver) Do(fn func()) {
	d.actions <- fn
}

// DoSync schedules fn on the reactor goroutine and blocks until it has
// run, or ctx is done first.
func (d *Driver) DoSync(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case d.actions <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current connection lifecycle state.
func (d *Driver) State() ConnState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s ConnState) {
	d.mu.Lock()
	d.state = s
	if s == StateReady {
		close(d.readyCh)
		d.readyCh = make(chan struct{})
	}
	d.mu.Unlock()
	d.Logger.Infof("state -> %s", s)
}

// recordMessage keeps a short ring of recent feedback/message lines
// for alarm enrichment (§2 "keep a recent-message context for alarm
// enrichment").
func (d *Driver) recordMessage(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recentMessages = append(d.recentMessages, msg)
	if len(d.recentMessages) > recentMessageWindow {
		d.recentMessages = d.recentMessages[len(d.recentMessages)-recentMessageWindow:]
	}
}

// RecentMessages returns a copy of the last few feedback/message
// lines seen, most recent last.
func (d *Driver) RecentMessages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.recentMessages...)
}

// Open opens the serial transport with the given config and drives
// the connection lifecycle state machine in a background goroutine
// until ctx is cancelled or Close is called. retry controls whether an
// unexpected close after a successful open triggers the 5s reconnect
// loop; a failed initial open returns its error without retrying.
func (d *Driver) Open(ctx context.Context, cfg *serial.Config, retry bool) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.retryFlag = retry

	d.Transport = serial.NewLineTransport()
	d.setState(StateOpening)
	if err := d.Transport.Open(cfg, retry); err != nil {
		d.setState(StateError)
		return cncerr.Wrap(cncerr.CommError, "open", err)
	}
	d.setState(StateWaitingWelcome)

	go d.run(ctx)
	return nil
}

// Close tears down the transport and stops the reactor loop, clearing
// the retry flag (§6 "the flag is ... cleared by close() from the
// outside").
func (d *Driver) Close() {
	d.retryFlag = false
	if d.cancel != nil {
		d.cancel()
	}
	if d.Transport != nil {
		d.Transport.Close()
	}
	d.setState(StateClosed)
	d.cancelRunningOps(cncerr.New(cncerr.Cancelled, "close"))
}

// WaitReady blocks until the driver reaches the ready state or ctx is
// done.
func (d *Driver) WaitReady(ctx context.Context) error {
	for {
		d.mu.Lock()
		if d.state == StateReady {
			d.mu.Unlock()
			return nil
		}
		ch := d.readyCh
		d.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// run is the single cooperative reactor loop (§5): all state
// transitions for this connection happen here, on one goroutine.
func (d *Driver) run(ctx context.Context) {
	welcomeTimer := time.NewTimer(5 * time.Second)
	defer welcomeTimer.Stop()
	statusTicker := time.NewTicker(250 * time.Millisecond)
	defer statusTicker.Stop()
	executedTicker := time.NewTicker(100 * time.Millisecond)
	defer executedTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case line, ok := <-d.Transport.Lines():
			if !ok {
				return
			}
			d.handleLine(line)

		case err, ok := <-d.Transport.Errors():
			if !ok {
				return
			}
			d.handleTransportError(err)

		case <-d.Transport.Reopened():
			// the transport's own retry timer has reopened the OS port;
			// resume the §4.4.9 lifecycle from waiting-welcome so the
			// firmware's welcome line is recognized instead of being
			// treated as a surprise reset.
			if d.State() == StateRetrying {
				d.setState(StateOpening)
				d.setState(StateWaitingWelcome)
				welcomeTimer.Reset(5 * time.Second)
			}

		case fn := <-d.actions:
			fn()
			d.runAdmission()

		case <-welcomeTimer.C:
			if d.State() == StateWaitingWelcome {
				// provoke the welcome per §4.4.9.
				d.Transport.WriteBytes([]byte{0x18})
				welcomeTimer.Reset(5 * time.Second)
			}

		case <-statusTicker.C:
			if d.State() == StateReady {
				d.pollStatus()
			}

		case <-executedTicker.C:
			if d.State() == StateReady {
				d.Queue.ExecutedLoopTick(time.Now(), false)
				d.runAdmission()
			}
		}
	}
}

func (d *Driver) pollStatus() {
	d.Transport.WriteBytes([]byte("?"))
}

func (d *Driver) handleTransportError(err error) {
	d.Logger.Warnf("transport error: %v", err)
	d.cancelRunningOps(cncerr.Wrap(cncerr.CommError, "transport", err))
	d.Machine.SetErrored(machine.ErrorData{Kind: cncerr.CommError, Message: err.Error()})
	d.setState(StateRetrying)
}

func (d *Driver) handleLine(line string) {
	ev := d.ops.parseLine(line)

	if ev.Kind == codec.KindWelcome {
		d.handleWelcome(ev)
		return
	}

	switch d.State() {
	case StateWaitingWelcome:
		// nothing else is meaningful before the welcome arrives.
		return
	default:
	}

	switch ev.Kind {
	case codec.KindMessage, codec.KindFeedback:
		if ev.Message != "" {
			d.recordMessage(ev.Message)
		}
	case codec.KindStatusReport:
		d.lastStatusAt = time.Now()
		d.Machine.ApplyStatusReport(ev.Status)
	case codec.KindAlarm:
		d.handleAlarm(ev)
		return
	}

	d.ops.applyEvent(d, ev)
	d.runAdmission()
}

func (d *Driver) handleWelcome(ev codec.Event) {
	state := d.State()
	if state != StateWaitingWelcome {
		// an unexpected welcome means a surprise device reset.
		d.Logger.Warnf("unexpected welcome in state %s: treating as device reset", state)
		d.cancelRunningOps(cncerr.New(cncerr.Cancelled, "unexpected reset"))
		d.Machine.SetReady(false)
		d.setState(StateRetrying)
		if d.retryFlag {
			go d.reopenAfterDelay()
		}
		return
	}

	d.setState(StateInitializing)
	if err := d.ops.initSequence(d); err != nil {
		d.Logger.Warnf("init sequence failed: %v", err)
		d.setState(StateError)
		if d.retryFlag {
			go d.reopenAfterDelay()
		}
		return
	}
	d.Machine.SetReady(true)
	d.setState(StateReady)
}

func (d *Driver) handleAlarm(ev codec.Event) {
	if ev.AlarmKind == cncerr.ProbeNotTripped {
		// absorbed locally by the probe operation; not a controller error.
		return
	}
	d.cancelRunningOps(&cncerr.Error{Kind: ev.AlarmKind, Op: "alarm", Code: ev.AlarmCode})
	var msg string
	if recent := d.RecentMessages(); len(recent) > 0 {
		msg = recent[len(recent)-1]
	}
	d.Machine.SetErrored(machine.ErrorData{Kind: ev.AlarmKind, Code: ev.AlarmCode, Message: msg})
}

func (d *Driver) reopenAfterDelay() {
	time.Sleep(5 * time.Second)
	if !d.retryFlag {
		return
	}
	d.setState(StateOpening)
	d.setState(StateWaitingWelcome)
}

// runAdmission writes as many sendable entries as admission control
// allows (§4.4.2's outer loop: "while the head of the unsent portion
// can fit, write it").
func (d *Driver) runAdmission() {
	defer d.syncComms()
	if d.disableSending {
		return
	}
	for d.Queue.CanSendHead() {
		e := d.Queue.PopForWrite()
		if e == nil {
			break
		}
		d.Transport.WriteBytes([]byte(d.ops.formatLine(e.Str)))
		if !e.ResponseExpected {
			d.Queue.SynthesizeAckIfNoResponseExpected()
		}
	}
}

// syncComms publishes the small §6 comms subobject onto the machine
// snapshot so get_status() reflects the queue's current bookkeeping.
func (d *Driver) syncComms() {
	d.Machine.SetComms(machine.CommsSnapshot{
		SendQueueLength: d.Queue.Len(),
		IdxToSend:       d.Queue.IdxToSend(),
		IdxToAck:        d.Queue.IdxToAck(),
		LastQRNumFree:   d.Queue.LastQRNumFree(),
	})
}

// DisableSending toggles whether the admission loop is allowed to
// write, used by the soft-reset and wipe control-surface sequences.
func (d *Driver) DisableSending(v bool) {
	d.disableSending = v
}
