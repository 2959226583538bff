package serial

import (
	"io"
	"sync"
	"time"

	"gctl/fifo"
	"gctl/logx"
)

// stripByte reports whether b is a byte the line transport discards
// before framing: NUL, XON (0x11) and XOFF (0x13), per §4.1.
func stripByte(b byte) bool {
	return b == 0x00 || b == 0x11 || b == 0x13
}

// LineTransport owns a Port, splits its byte stream into CR/LF-terminated
// lines, and reopens the port on I/O error while a retry flag is set.
// It is the line-oriented analogue of the teacher firmware's
// protocol.HostTransport read loop (background reader goroutine feeding
// a buffer, dispatching framed units upward) adapted from Klipper's
// binary CRC-framed messages to GRBL/TinyG's newline-delimited text.
type LineTransport struct {
	log *logx.Logger

	mu      sync.Mutex
	cfg     *Config
	port    Port
	opening bool
	closed  bool
	retry   bool

	lines    chan string
	errs     chan error
	reopened chan struct{}

	buf      *fifo.Buffer
	readBuf  []byte
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLineTransport constructs a transport that is not yet connected;
// call Open to establish the link.
func NewLineTransport() *LineTransport {
	return &LineTransport{
		log:      logx.New("serial"),
		lines:    make(chan string, 64),
		errs:     make(chan error, 4),
		reopened: make(chan struct{}, 1),
		buf:      fifo.New(4096),
		readBuf:  make([]byte, 1024),
		stopCh:   make(chan struct{}),
	}
}

// Lines returns the channel of framed, stripped, CR/LF-split lines.
func (t *LineTransport) Lines() <-chan string { return t.lines }

// Errors returns the channel of I/O errors observed on the underlying
// port (surfaced for logging; the transport already handles retry).
func (t *LineTransport) Errors() <-chan error { return t.errs }

// Reopened signals once each time handleFailure's own retry timer
// reopens the OS port after a link loss, so the driver's connection
// lifecycle state machine can resume waiting for the firmware's
// welcome line (§4.4.9's "...->retrying->opening..." loop) instead of
// sitting in StateRetrying forever while the transport quietly keeps
// talking to the port underneath it.
func (t *LineTransport) Reopened() <-chan struct{} { return t.reopened }

// Open opens the port per cfg and starts the background reader. retry
// controls whether the transport reopens automatically after a failure;
// it mirrors init_connection(retry=true) in §6.
func (t *LineTransport) Open(cfg *Config, retry bool) error {
	t.mu.Lock()
	t.cfg = cfg
	t.retry = retry
	t.closed = false
	t.mu.Unlock()

	return t.openOnce()
}

func (t *LineTransport) openOnce() error {
	t.mu.Lock()
	cfg := t.cfg
	t.mu.Unlock()

	p, err := Open(cfg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.port = p
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

// WriteBytes writes raw bytes to the port exactly as given (the caller
// is responsible for any trailing newline).
func (t *LineTransport) WriteBytes(b []byte) (int, error) {
	t.mu.Lock()
	p := t.port
	t.mu.Unlock()
	if p == nil {
		return 0, io.ErrClosedPipe
	}
	return p.Write(b)
}

func (t *LineTransport) readLoop() {
	t.mu.Lock()
	p := t.port
	t.mu.Unlock()

	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		n, err := p.Read(t.readBuf)
		if n > 0 {
			t.ingest(t.readBuf[:n])
		}
		if err != nil {
			if err == io.EOF {
				t.handleFailure(err)
				return
			}
			// Read timeouts surface as errors from some backends; treat
			// a zero-byte, non-EOF error as a timeout and keep polling.
			if n == 0 {
				continue
			}
			t.handleFailure(err)
			return
		}
	}
}

// ingest strips control bytes, feeds the FIFO, and emits any complete
// CR/LF-terminated lines it finds.
func (t *LineTransport) ingest(chunk []byte) {
	filtered := chunk[:0:0]
	for _, b := range chunk {
		if stripByte(b) {
			continue
		}
		filtered = append(filtered, b)
	}
	t.buf.Write(filtered)

	for {
		data := t.buf.Data()
		idx := -1
		for i, b := range data {
			if b == '\n' || b == '\r' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		line := string(data[:idx])
		consumed := idx + 1
		// Swallow a following LF of a CRLF pair.
		if idx < len(data)-1 && data[idx] == '\r' && data[idx+1] == '\n' {
			consumed++
		}
		t.buf.Pop(consumed)
		if line != "" {
			select {
			case t.lines <- line:
			default:
				t.log.Warnf("line channel full, dropping: %q", line)
			}
		}
	}
}

func (t *LineTransport) handleFailure(err error) {
	t.mu.Lock()
	wasClosed := t.closed
	retry := t.retry
	if t.port != nil {
		t.port.Close()
		t.port = nil
	}
	t.mu.Unlock()

	if wasClosed {
		return
	}

	select {
	case t.errs <- err:
	default:
	}

	if !retry {
		return
	}

	delay := 5 * time.Second
	t.mu.Lock()
	if t.cfg != nil && t.cfg.RetryDelayMs > 0 {
		delay = time.Duration(t.cfg.RetryDelayMs) * time.Millisecond
	}
	t.mu.Unlock()

	t.log.Warnf("serial link lost (%v), retrying in %v", err, delay)
	time.AfterFunc(delay, func() {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		if err := t.openOnce(); err != nil {
			t.log.Errorf("reconnect failed: %v", err)
			t.handleFailure(err)
			return
		}
		select {
		case t.reopened <- struct{}{}:
		default:
		}
	})
}

// Close stops retrying and tears down the port.
func (t *LineTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.retry = false
	p := t.port
	t.port = nil
	t.mu.Unlock()

	t.stopOnce.Do(func() { close(t.stopCh) })

	if p != nil {
		return p.Close()
	}
	return nil
}
