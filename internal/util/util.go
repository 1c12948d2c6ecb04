// Package util provides small parsing helpers shared by the replay client.
package util

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

var errEmpty = errors.New("empty value")

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the ISO-8601 timestamps emitted by the replay feeds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmpty
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatTimestamp renders t in the form accepted by the playback server.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// LapTimeSeconds converts "m:ss.fff", "h:mm:ss.fff" or a plain decimal
// number of seconds into seconds.
func LapTimeSeconds(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errEmpty
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("lap time %q has too many fields", s)
	}

	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		var (
			v   float64
			err error
		)
		if last {
			v, err = strconv.ParseFloat(p, 64)
		} else {
			var n int
			n, err = strconv.Atoi(p)
			v = float64(n)
		}
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("lap time %q: bad field %q", s, p)
		}
		if !last && i > 0 && v >= 60 {
			return 0, fmt.Errorf("lap time %q: minutes out of range", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// ParseLapTime is LapTimeSeconds that logs a warning and yields 0 instead
// of failing.
func ParseLapTime(s string) float64 {
	v, err := LapTimeSeconds(s)
	if err != nil {
		slog.Warn("Unparsable lap time", "value", s, "error", err)
		return 0
	}
	return v
}
