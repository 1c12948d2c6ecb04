// pkg/core/timing.go
package core

// LapEvent is a completed lap as reported by the timing feed. JSON names
// follow the lap feed, with the parsed lap time added as lap_time_seconds.
type LapEvent struct {
	VehicleID   string     `json:"vehicle_id"`
	Lap         int        `json:"lap"`
	LapTime     float64    `json:"lap_time_seconds"` // 0 when unparsable
	LapTimeRaw  string     `json:"lap_time"`
	SectorTimes [3]float64 `json:"sector_times"` // seconds, 0 when missing
	TopSpeed    float64    `json:"top_speed"`    // km/h
	Flag        string     `json:"flag"`
	Pit         bool       `json:"pit"`
	Timestamp   string     `json:"timestamp"`
}

// LeaderboardEntry is the classification row for one vehicle.
type LeaderboardEntry struct {
	VehicleID   string  `json:"vehicle_id"`
	Vehicle     string  `json:"vehicle,omitempty"`
	Class       string  `json:"class_type,omitempty"`
	Position    int     `json:"position"`
	ClassPos    int     `json:"pic,omitempty"`
	Laps        int     `json:"laps"`
	Elapsed     string  `json:"elapsed"`
	GapFirst    string  `json:"gap_first"`
	GapPrevious string  `json:"gap_previous"`
	BestLapNum  int     `json:"best_lap_num"`
	BestLapTime string  `json:"best_lap_time"`
	BestLapKph  float64 `json:"best_lap_kph"`
}
