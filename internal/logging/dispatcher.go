package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// badKey names a trailing value that has no key, as slog does.
const badKey = "!BADKEY"

// DispatcherLogger feeds dispatcher log lines into a zerolog.Logger.
type DispatcherLogger struct {
	zl zerolog.Logger
}

// NewDispatcherLogger wraps zl.
func NewDispatcherLogger(zl zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{zl: zl}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	write(l.zl.Debug(), msg, keysAndValues)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	write(l.zl.Info(), msg, keysAndValues)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	write(l.zl.Error(), msg, keysAndValues)
}

// write appends slog style key/value pairs to ev. Errors keep their
// message, keys that are not strings are formatted.
func write(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(kv); i += 2 {
		if i+1 == len(kv) {
			ev = ev.Interface(badKey, kv[i])
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		switch v := kv[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case string:
			ev = ev.Str(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
