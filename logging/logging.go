// Package logging is the firmware logger: levelled, allocation-frugal, with
// attachable mirror sinks (UART ring, wireless log characteristic).
package logging

import (
	"sync"

	"powerbox-go/x/conv"
)

type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

var levelTags = [...]string{"TRC", "DBG", "INF", "WRN", "ERR", "CRT"}

// Sink receives complete log lines (terminated by '\n'). Implementations must
// not block; drop on backpressure.
type Sink interface {
	WriteLog(line []byte)
}

type Logger struct {
	mu    sync.Mutex
	level Level
	sinks []Sink
	buf   []byte
	num   [20]byte
}

func New(level Level) *Logger {
	return &Logger{level: level, buf: make([]byte, 0, 160)}
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// Attach registers a mirror sink. Attaching the same sink twice is a no-op.
func (l *Logger) Attach(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, have := range l.sinks {
		if have == s {
			return
		}
	}
	l.sinks = append(l.sinks, s)
}

func (l *Logger) Detach(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, have := range l.sinks {
		if have == s {
			l.sinks = append(l.sinks[:i], l.sinks[i+1:]...)
			return
		}
	}
}

func (l *Logger) Trace(parts ...any)    { l.emit(LevelTrace, parts) }
func (l *Logger) Debug(parts ...any)    { l.emit(LevelDebug, parts) }
func (l *Logger) Info(parts ...any)     { l.emit(LevelInfo, parts) }
func (l *Logger) Warning(parts ...any)  { l.emit(LevelWarning, parts) }
func (l *Logger) Error(parts ...any)    { l.emit(LevelError, parts) }
func (l *Logger) Critical(parts ...any) { l.emit(LevelCritical, parts) }

func (l *Logger) emit(level Level, parts []any) {
	l.mu.Lock()
	if level < l.level {
		l.mu.Unlock()
		return
	}
	l.buf = l.buf[:0]
	l.buf = append(l.buf, '[')
	l.buf = append(l.buf, levelTags[level]...)
	l.buf = append(l.buf, ']', ' ')
	for i, p := range parts {
		if i > 0 {
			l.buf = append(l.buf, ' ')
		}
		l.writePart(p)
	}
	l.buf = append(l.buf, '\n')
	line := l.buf
	print(string(line))
	for _, s := range l.sinks {
		s.WriteLog(line)
	}
	l.mu.Unlock()
}

func (l *Logger) writePart(v any) {
	switch x := v.(type) {
	case string:
		l.buf = append(l.buf, x...)
	case []byte:
		l.buf = conv.AppendHex(l.buf, x)
	case int:
		l.buf = append(l.buf, conv.Itoa(l.num[:], int64(x))...)
	case int16:
		l.buf = append(l.buf, conv.Itoa(l.num[:], int64(x))...)
	case int32:
		l.buf = append(l.buf, conv.Itoa(l.num[:], int64(x))...)
	case int64:
		l.buf = append(l.buf, conv.Itoa(l.num[:], x)...)
	case uint8:
		l.buf = append(l.buf, conv.Utoa(l.num[:], uint64(x))...)
	case uint16:
		l.buf = append(l.buf, conv.Utoa(l.num[:], uint64(x))...)
	case uint32:
		l.buf = append(l.buf, conv.Utoa(l.num[:], uint64(x))...)
	case uint64:
		l.buf = append(l.buf, conv.Utoa(l.num[:], x)...)
	case bool:
		if x {
			l.buf = append(l.buf, "true"...)
		} else {
			l.buf = append(l.buf, "false"...)
		}
	case float32:
		l.appendFixed(int64(x * 100))
	case float64:
		l.appendFixed(int64(x * 100))
	case error:
		l.buf = append(l.buf, x.Error()...)
	default:
		l.buf = append(l.buf, '?')
	}
}

// appendFixed renders hundredths as a 2-decimal fixed-point number.
func (l *Logger) appendFixed(hx100 int64) {
	if hx100 < 0 {
		l.buf = append(l.buf, '-')
		hx100 = -hx100
	}
	l.buf = append(l.buf, conv.Utoa(l.num[:], uint64(hx100/100))...)
	l.buf = append(l.buf, '.')
	frac := hx100 % 100
	if frac < 10 {
		l.buf = append(l.buf, '0')
	}
	l.buf = append(l.buf, conv.Utoa(l.num[:], uint64(frac))...)
}
