package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewZerolog builds the zerolog logger used by the dispatcher adapter and
// the InfluxDB manager. Output is console formatted without colors.
func NewZerolog(out io.Writer, level string) zerolog.Logger {
	var lvl zerolog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = zerolog.DebugLevel
	case "WARN":
		lvl = zerolog.WarnLevel
	case "ERROR":
		lvl = zerolog.ErrorLevel
	case "TRACE":
		lvl = zerolog.TraceLevel
	default:
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}).Level(lvl).With().Timestamp().Logger()
}
