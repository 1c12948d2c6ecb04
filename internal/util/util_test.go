package util

import (
	"math"
	"testing"
	"time"
)

func TestParseLapTime(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
	}{
		{"minutes and seconds", "1:47.909", 107.909},
		{"hours minutes seconds", "0:01:47.909", 107.909},
		{"plain decimal", "12.5", 12.5},
		{"whitespace", " 1:00.5 ", 60.5},
		{"long stint", "1:02:03.5", 3723.5},
		{"empty", "", 0},
		{"garbage", "DNF", 0},
		{"too many fields", "1:2:3:4", 0},
		{"negative", "-1:00.0", 0},
		{"minutes overflow", "0:75:00.0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseLapTime(tt.input)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("ParseLapTime(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLapTimeSecondsReportsErrors(t *testing.T) {
	if _, err := LapTimeSeconds(""); err == nil {
		t.Error("expected error for empty lap time")
	}
	if _, err := LapTimeSeconds("1:xx.0"); err == nil {
		t.Error("expected error for non-numeric lap time")
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 4, 4, 18, 10, 23, 456000000, time.UTC)

	tests := []struct {
		name  string
		input string
	}{
		{"python isoformat", "2025-04-04T18:10:23.456000+00:00"},
		{"zulu", "2025-04-04T18:10:23.456Z"},
		{"no zone", "2025-04-04T18:10:23.456"},
		{"space separated", "2025-04-04 18:10:23.456+00:00"},
		{"offset", "2025-04-04T20:10:23.456+02:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) error: %v", tt.input, err)
			}
			if !got.Equal(want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, got, want)
			}
		})
	}

	for _, bad := range []string{"", "yesterday", "18:10:23"} {
		if _, err := ParseTimestamp(bad); err == nil {
			t.Errorf("ParseTimestamp(%q) expected error", bad)
		}
	}
}

func TestFormatTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2025, 4, 4, 18, 10, 23, 500000000, time.FixedZone("x", 3600))
	got, err := ParseTimestamp(FormatTimestamp(ts))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts) {
		t.Errorf("round trip = %v, want %v", got, ts)
	}
}
