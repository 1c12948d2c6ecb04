// pkg/core/telemetry.go
package core

import "time"

// Field flags which telemetry channels were present in a sample.
type Field uint16

const (
	FieldSpeed Field = 1 << iota
	FieldRPM
	FieldGear
	FieldThrottle
	FieldBrakeFront
	FieldBrakeRear
	FieldSteering
	FieldAccelLong
	FieldAccelLat
	FieldLapDistance
	FieldLap
	FieldLatitude
	FieldLongitude
)

// Geodetic is a WGS84 coordinate in decimal degrees.
type Geodetic struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
}

// TelemetrySample is one vehicle's reading taken from a telemetry frame.
// Only fields flagged in Fields carry data; the rest are zero.
type TelemetrySample struct {
	VehicleID   string
	Timestamp   time.Time
	Speed       float64 // km/h
	RPM         float64
	Gear        int
	Throttle    float64 // pedal position, 0..100
	BrakeFront  float64 // bar
	BrakeRear   float64 // bar
	Steering    float64 // degrees
	AccelLong   float64 // g
	AccelLat    float64 // g
	LapDistance float64 // meters from the start/finish line
	Lap         int     // lap number reported by the source
	Position    *Geodetic
	Fields      Field
}

// Has reports whether every given field was present in the sample.
func (s TelemetrySample) Has(f Field) bool {
	return s.Fields&f == f
}

// Weather is the latest track weather carried alongside telemetry.
type Weather struct {
	AirTemp       float64 `json:"air_temp"`
	TrackTemp     float64 `json:"track_temp"`
	Humidity      float64 `json:"humidity"`
	Pressure      float64 `json:"pressure"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection float64 `json:"wind_direction"`
	Rain          float64 `json:"rain"`
}
