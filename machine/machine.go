// Package machine holds the mutable record of a single controller's
// machine state — axes, positions, modal groups, offsets, homing,
// alarm — and the rules for merging updates into it from status
// reports, parameter feedback, and outgoing G-code.
//
// This generalizes the teacher firmware's standalone/types.go
// (MachineState, Position, MachineConfig) and standalone/gcode/
// interpreter.go's modal G/M dispatch from a fixed 4-axis (X/Y/Z/E) 3D
// printer state to the variable axis set and GRBL/TinyG modal group
// vocabulary this controller needs; the "never overwrite a key the
// status-report channel owns" rule has no teacher analogue and is
// implemented fresh from the requirements.
package machine

import (
	"sync"

	"gctl/cncerr"
)

// Coolant mirrors GRBL/TinyG's coolant state.
type Coolant int

const (
	CoolantOff Coolant = iota
	CoolantMist
	CoolantFlood
	CoolantBoth
)

// ErrorData is the structured error attached to the controller when an
// alarm or unrecoverable error occurs.
type ErrorData struct {
	Kind    cncerr.Kind
	Code    string
	Message string
}

// Snapshot is the read-only view returned by Controller.Status,
// equivalent to the teacher's "read everything atomically" idiom
// applied to §6's get_status() contract.
type Snapshot struct {
	AxisLabels      []byte
	UsedAxes        []bool
	HomableAxes     []bool
	Ready           bool
	Held            bool
	Moving          bool
	Substate        string // raw GRBL status-report substate, e.g. "0" for Hold:0 (hold complete)
	Error           bool
	ProgramRunning  bool
	ErrorData       *ErrorData
	MPos            []float64
	WPos            []float64
	ActiveCoordSys  int // -1 means machine coords (null)
	CoordSysOffsets [][]float64
	Offset          []float64
	OffsetEnabled   bool
	StoredPositions [2][]float64
	Homed           []bool
	Units           string
	Feed            float64
	SpindleSpeed    float64
	Spindle         bool
	SpindleDir      int
	Coolant         Coolant
	Line            int
	InverseFeed     bool
	Incremental     bool

	Comms CommsSnapshot
}

// CommsSnapshot is the small §6 "comms" subobject.
type CommsSnapshot struct {
	SendQueueLength int
	IdxToSend       int
	IdxToAck        int
	LastQRNumFree   *int
}

// reportedKeys tracks which status-report fields have ever been
// reported by the device, per the "don't overwrite" rule in §4.3: once
// a key is reported, G-code parsing must never touch it again.
type reportedKeys struct {
	mpos            bool
	wpos            bool
	units           bool
	incremental     bool
	inverseFeed     bool
	activeCoordSys  bool
	spindle         bool
	coolant         bool
	offset          bool
}

// Controller is the mutable per-device state record. All mutation goes
// through the methods below, called only from the owning protocol
// driver's single reactor goroutine (§5); external callers read a
// consistent copy via Status.
type Controller struct {
	mu sync.Mutex

	axisLabels  []byte
	usedAxes    []bool
	homableAxes []bool

	ready          bool
	held           bool
	moving         bool
	substate       string
	errored        bool
	programRunning bool
	errorData      *ErrorData

	mpos []float64
	wpos []float64

	activeCoordSys  int // -1 = machine coords
	coordSysOffsets [][]float64 // 6 slots, G54..G59
	offset          []float64   // G92
	offsetEnabled   bool
	storedPositions [2][]float64 // G28, G30

	homed []bool
	units string

	feed         float64
	spindleSpeed float64
	spindle      bool
	spindleDir   int
	coolant      Coolant

	line int

	inverseFeed bool
	incremental bool

	reported reportedKeys

	comms CommsSnapshot

	settings map[string]string

	statusUpdate chan struct{} // closed+replaced on each update batch; see Subscribe
}

// New builds a Controller for the given axis labels (e.g. "xyz"),
// defaulting to the first work coordinate system (G54), mm units,
// absolute positioning.
func New(axisLabels []byte, homable []bool) *Controller {
	n := len(axisLabels)
	used := make([]bool, n)
	for i := range used {
		used[i] = true
	}
	if homable == nil {
		homable = make([]bool, n)
		for i := range homable {
			homable[i] = true
		}
	}
	c := &Controller{
		axisLabels:      append([]byte(nil), axisLabels...),
		usedAxes:        used,
		homableAxes:     homable,
		mpos:            make([]float64, n),
		activeCoordSys:  0,
		coordSysOffsets: make([][]float64, 6),
		offset:          make([]float64, n),
		homed:           make([]bool, n),
		units:           "mm",
		spindleDir:      1,
		settings:        make(map[string]string),
		statusUpdate:    make(chan struct{}),
	}
	for i := range c.coordSysOffsets {
		c.coordSysOffsets[i] = make([]float64, n)
	}
	c.storedPositions[0] = make([]float64, n)
	c.storedPositions[1] = make([]float64, n)
	return c
}

// Subscribe returns a channel that is closed the next time a status
// update batch completes; callers re-subscribe after each signal, the
// same one-shot-channel-per-wait idiom used by wait_sync (§4.4.7,
// Design Note 9 "structured waiters").
func (c *Controller) Subscribe() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusUpdate
}

// notify closes the current statusUpdate channel (waking every
// subscriber) and installs a fresh one. Must be called with mu held.
func (c *Controller) notify() {
	close(c.statusUpdate)
	c.statusUpdate = make(chan struct{})
}

// axisIndex returns the index of an axis letter in axisLabels, or -1.
func (c *Controller) axisIndex(axis byte) int {
	for i, a := range c.axisLabels {
		if a == axis {
			return i
		}
	}
	return -1
}

// AxisLabels returns a copy of the configured axis letters.
func (c *Controller) AxisLabels() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.axisLabels...)
}

// NumAxes returns the configured axis count.
func (c *Controller) NumAxes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.axisLabels)
}

// ApplySetting records a firmware setting/parameter report (GRBL
// "$N=value" or a TinyG group key) into the dictionary-style capability
// snapshot exposed by Settings.
func (c *Controller) ApplySetting(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings[key] = value
}

// Settings returns a copy of every setting/parameter reported by the
// firmware so far, keyed by GRBL setting number or TinyG group key.
func (c *Controller) Settings() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.settings))
	for k, v := range c.settings {
		out[k] = v
	}
	return out
}

// Status returns a consistent snapshot of every observable field, per
// §6 get_status() and §5's "shared-resource policy" (atomic read
// between event loop turns).
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		AxisLabels:      append([]byte(nil), c.axisLabels...),
		UsedAxes:        append([]bool(nil), c.usedAxes...),
		HomableAxes:     append([]bool(nil), c.homableAxes...),
		Ready:           c.ready,
		Held:            c.held,
		Moving:          c.moving,
		Substate:        c.substate,
		Error:           c.errored,
		ProgramRunning:  c.programRunning,
		ErrorData:       c.errorData,
		MPos:            append([]float64(nil), c.mpos...),
		ActiveCoordSys:  c.activeCoordSys,
		Offset:          append([]float64(nil), c.offset...),
		OffsetEnabled:   c.offsetEnabled,
		Homed:           append([]bool(nil), c.homed...),
		Units:           c.units,
		Feed:            c.feed,
		SpindleSpeed:    c.spindleSpeed,
		Spindle:         c.spindle,
		SpindleDir:      c.spindleDir,
		Coolant:         c.coolant,
		Line:            c.line,
		InverseFeed:     c.inverseFeed,
		Incremental:     c.incremental,
		Comms:           c.comms,
	}
	s.CoordSysOffsets = make([][]float64, len(c.coordSysOffsets))
	for i, v := range c.coordSysOffsets {
		s.CoordSysOffsets[i] = append([]float64(nil), v...)
	}
	s.StoredPositions[0] = append([]float64(nil), c.storedPositions[0]...)
	s.StoredPositions[1] = append([]float64(nil), c.storedPositions[1]...)

	s.WPos = c.derivedWPos()
	return s
}

// derivedWPos computes wpos per §4.3's position-derivation rule. Must
// be called with mu held.
func (c *Controller) derivedWPos() []float64 {
	if c.wpos != nil {
		return append([]float64(nil), c.wpos...)
	}
	n := len(c.mpos)
	out := make([]float64, n)
	var coordOffset []float64
	if c.activeCoordSys >= 0 && c.activeCoordSys < len(c.coordSysOffsets) {
		coordOffset = c.coordSysOffsets[c.activeCoordSys]
	}
	for i := 0; i < n; i++ {
		v := c.mpos[i]
		if coordOffset != nil && i < len(coordOffset) {
			v -= coordOffset[i]
		}
		if c.offsetEnabled && i < len(c.offset) {
			v -= c.offset[i]
		}
		out[i] = v
	}
	return out
}

// SetComms updates the §6 comms subobject and wakes subscribers, so a
// drained send queue is visible to send_stream's backpressure pump
// without waiting on the next status-report poll.
func (c *Controller) SetComms(s CommsSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comms = s
	c.notify()
}
