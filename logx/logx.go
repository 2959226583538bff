// Package logx provides the engine's leveled logger. It follows the
// teacher firmware's debug-writer pattern (core.DebugPrintln /
// core.SetDebugWriter): a swappable sink function gated by a level, so
// host tooling can redirect or silence engine chatter without the
// engine depending on any particular logging library.
package logx

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Level orders logging verbosity, most important first.
type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "?"
	}
}

// Writer receives a fully formatted log line (no trailing newline).
type Writer func(level Level, line string)

var (
	sink    atomic.Value // Writer
	minimum atomic.Int32
)

func init() {
	sink.Store(Writer(defaultWriter))
	minimum.Store(int32(LevelInfo))
}

func defaultWriter(level Level, line string) {
	fmt.Fprintf(os.Stderr, "%s [%s] %s\n", time.Now().Format("15:04:05.000"), level, line)
}

// SetWriter installs a custom sink, e.g. to forward engine logs into a
// host application's own logger.
func SetWriter(w Writer) {
	if w == nil {
		w = defaultWriter
	}
	sink.Store(w)
}

// SetLevel sets the minimum level that reaches the sink.
func SetLevel(l Level) {
	minimum.Store(int32(l))
}

// Logger is a namespaced logger, e.g. logx.New("queue").
type Logger struct {
	tag string
}

// New returns a Logger tagged with the given subsystem name.
func New(tag string) *Logger {
	return &Logger{tag: tag}
}

func (l *Logger) log(level Level, format string, args ...any) {
	if int32(level) > minimum.Load() {
		return
	}
	w := sink.Load().(Writer)
	msg := fmt.Sprintf(format, args...)
	if l.tag != "" {
		msg = "[" + l.tag + "] " + msg
	}
	w(level, msg)
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }
