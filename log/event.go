package log

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ObjectMarshaller is implemented by types that know how to describe
// themselves inside a log line.
type ObjectMarshaller interface {
	MarshalLogObj(e *LogEvent)
}

// LogEvent accumulates the fields of one log line. A nil *LogEvent is a
// disabled event: every method is a no-op, so call sites never need to check
// the level themselves.
type LogEvent struct {
	logger *GameLogger
	zl     *zap.Logger
	level  zapcore.Level
	fields []zap.Field
}

var _eventPool = sync.Pool{
	New: func() any {
		return &LogEvent{fields: make([]zap.Field, 0, 8)}
	},
}

func newEvent(logger *GameLogger, level zapcore.Level) *LogEvent {
	e := _eventPool.Get().(*LogEvent)
	e.logger = logger
	e.level = level
	e.fields = e.fields[:0]
	return e
}

func putEvent(e *LogEvent) {
	// Oversized field slices would pin memory in the pool.
	if cap(e.fields) > 64 {
		return
	}
	e.logger = nil
	e.zl = nil
	_eventPool.Put(e)
}

// Str adds a string field.
func (e *LogEvent) Str(key, val string) *LogEvent {
	if e == nil {
		return e
	}
	e.fields = append(e.fields, zap.String(key, val))
	return e
}

// Int adds an int field.
func (e *LogEvent) Int(key string, val int) *LogEvent {
	if e == nil {
		return e
	}
	e.fields = append(e.fields, zap.Int(key, val))
	return e
}

// Int64 adds an int64 field.
func (e *LogEvent) Int64(key string, val int64) *LogEvent {
	if e == nil {
		return e
	}
	e.fields = append(e.fields, zap.Int64(key, val))
	return e
}

// Uint32 adds a uint32 field.
func (e *LogEvent) Uint32(key string, val uint32) *LogEvent {
	if e == nil {
		return e
	}
	e.fields = append(e.fields, zap.Uint32(key, val))
	return e
}

// Uint64 adds a uint64 field.
func (e *LogEvent) Uint64(key string, val uint64) *LogEvent {
	if e == nil {
		return e
	}
	e.fields = append(e.fields, zap.Uint64(key, val))
	return e
}

// Bool adds a bool field.
func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	if e == nil {
		return e
	}
	e.fields = append(e.fields, zap.Bool(key, val))
	return e
}

// Dur adds a duration field.
func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	if e == nil {
		return e
	}
	e.fields = append(e.fields, zap.Duration(key, val))
	return e
}

// Err adds the error under the "error" key. A nil error adds nothing.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil || err == nil {
		return e
	}
	e.fields = append(e.fields, zap.Error(err))
	return e
}

// Obj lets obj append its own fields.
func (e *LogEvent) Obj(obj ObjectMarshaller) *LogEvent {
	if e == nil || obj == nil {
		return e
	}
	obj.MarshalLogObj(e)
	return e
}

// Msg writes the event and releases it.
func (e *LogEvent) Msg(msg string) {
	if e == nil {
		return
	}
	if ce := e.zl.Check(e.level, msg); ce != nil {
		ce.Write(e.fields...)
	}
	putEvent(e)
}

// Msgf writes the event with a formatted message.
func (e *LogEvent) Msgf(format string, args ...any) {
	if e == nil {
		return
	}
	e.Msg(fmt.Sprintf(format, args...))
}
