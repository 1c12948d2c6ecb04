package streaming

import (
	"encoding/json"
)

// Message type constants matching the replay wire protocol.
const (
	TypeConnected        = "connected"
	TypeTelemetryFrame   = "telemetry_frame"
	TypeTelemetryEnd     = "telemetry_end"
	TypeLapEvent         = "lap_event"
	TypeLeaderboardEntry = "leaderboard_entry"
	TypeControl          = "control"
)

// Message is any decoded frame carrying a type tag.
type Message interface {
	MessageType() string
}

// Envelope is used to peek at the type tag before full decoding.
type Envelope struct {
	Type string `json:"type"`
}

// Connected is sent once by a feed when a client attaches.
type Connected struct {
	Type    string `json:"type"`
	HasData bool   `json:"has_data"`
}

// TelemetryFrame groups every vehicle reading that shares a timestamp.
// Vehicle field maps hold numbers or numeric strings; unknown keys are kept
// so that callers can pick the ones they understand.
type TelemetryFrame struct {
	Type      string                       `json:"type"`
	Timestamp string                       `json:"timestamp"`
	Vehicles  map[string]map[string]Number `json:"vehicles"`
	Weather   *WeatherPayload              `json:"weather,omitempty"`
}

// WeatherPayload is the optional weather block of a telemetry frame.
type WeatherPayload struct {
	AirTemp       Number `json:"air_temp"`
	TrackTemp     Number `json:"track_temp"`
	Humidity      Number `json:"humidity"`
	Pressure      Number `json:"pressure"`
	WindSpeed     Number `json:"wind_speed"`
	WindDirection Number `json:"wind_direction"`
	Rain          Number `json:"rain"`
}

// TelemetryEnd marks the end of the recorded telemetry.
type TelemetryEnd struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// LapEvent is published by the lap feed for every completed lap.
type LapEvent struct {
	Type        string   `json:"type"`
	VehicleID   string   `json:"vehicle_id"`
	Lap         int      `json:"lap"`
	LapTime     string   `json:"lap_time"`
	SectorTimes []Number `json:"sector_times"`
	TopSpeed    Number   `json:"top_speed"`
	Flag        string   `json:"flag"`
	Pit         bool     `json:"pit"`
	Timestamp   string   `json:"timestamp"`
}

// LeaderboardEntry is one classification row.
type LeaderboardEntry struct {
	Type        string `json:"type"`
	VehicleID   string `json:"vehicle_id"`
	Vehicle     string `json:"vehicle,omitempty"`
	ClassType   string `json:"class_type,omitempty"`
	Position    int    `json:"position"`
	PIC         int    `json:"pic,omitempty"`
	Laps        int    `json:"laps"`
	Elapsed     string `json:"elapsed"`
	GapFirst    string `json:"gap_first"`
	GapPrevious string `json:"gap_previous"`
	BestLapNum  int    `json:"best_lap_num"`
	BestLapTime string `json:"best_lap_time"`
	BestLapKph  Number `json:"best_lap_kph"`
}

// Control is the outbound playback command.
type Control struct {
	Type      string   `json:"type"`
	Cmd       string   `json:"cmd"`
	Value     *float64 `json:"value,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

func (Connected) MessageType() string        { return TypeConnected }
func (TelemetryFrame) MessageType() string   { return TypeTelemetryFrame }
func (TelemetryEnd) MessageType() string     { return TypeTelemetryEnd }
func (LapEvent) MessageType() string         { return TypeLapEvent }
func (LeaderboardEntry) MessageType() string { return TypeLeaderboardEntry }
func (Control) MessageType() string          { return TypeControl }

// Encode marshals a message, forcing its type tag.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Control:
		v.Type = TypeControl
		return json.Marshal(v)
	case *Control:
		c := *v
		c.Type = TypeControl
		return json.Marshal(c)
	default:
		return json.Marshal(m)
	}
}
