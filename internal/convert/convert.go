// Package convert turns decoded wire messages into core records.
package convert

import (
	"fmt"
	"sort"
	"time"

	"github.com/telemetryrush/replay/internal/util"
	"github.com/telemetryrush/replay/pkg/core"
	"github.com/telemetryrush/replay/pkg/streaming"
)

// Telemetry field names as produced by the replay server.
const (
	FieldSpeed       = "speed"
	FieldRPM         = "nmot"
	FieldGear        = "gear"
	FieldThrottle    = "aps"
	FieldBrakeFront  = "pbrake_f"
	FieldBrakeRear   = "pbrake_r"
	FieldSteering    = "Steering_Angle"
	FieldAccelLong   = "accx_can"
	FieldAccelLat    = "accy_can"
	FieldLapDistance = "Laptrigger_lapdist_dls"
	FieldLap         = "lap"
)

// Either name of each pair carries the same geodetic coordinate.
var (
	latitudeFields  = []string{"gps_lat", "VBOX_Lat_Min"}
	longitudeFields = []string{"gps_lon", "VBOX_Long_Minutes"}
)

type scalarField struct {
	name string
	flag core.Field
	set  func(*core.TelemetrySample, float64)
}

var scalarFields = []scalarField{
	{FieldSpeed, core.FieldSpeed, func(s *core.TelemetrySample, v float64) { s.Speed = v }},
	{FieldRPM, core.FieldRPM, func(s *core.TelemetrySample, v float64) { s.RPM = v }},
	{FieldGear, core.FieldGear, func(s *core.TelemetrySample, v float64) { s.Gear = int(v) }},
	{FieldThrottle, core.FieldThrottle, func(s *core.TelemetrySample, v float64) { s.Throttle = v }},
	{FieldBrakeFront, core.FieldBrakeFront, func(s *core.TelemetrySample, v float64) { s.BrakeFront = v }},
	{FieldBrakeRear, core.FieldBrakeRear, func(s *core.TelemetrySample, v float64) { s.BrakeRear = v }},
	{FieldSteering, core.FieldSteering, func(s *core.TelemetrySample, v float64) { s.Steering = v }},
	{FieldAccelLong, core.FieldAccelLong, func(s *core.TelemetrySample, v float64) { s.AccelLong = v }},
	{FieldAccelLat, core.FieldAccelLat, func(s *core.TelemetrySample, v float64) { s.AccelLat = v }},
	{FieldLapDistance, core.FieldLapDistance, func(s *core.TelemetrySample, v float64) { s.LapDistance = v }},
	{FieldLap, core.FieldLap, func(s *core.TelemetrySample, v float64) { s.Lap = int(v) }},
}

// FrameToSamples expands a frame into one sample per vehicle, ordered by
// vehicle id. An unparsable frame timestamp fails the whole frame.
func FrameToSamples(f streaming.TelemetryFrame) ([]core.TelemetrySample, error) {
	ts, err := util.ParseTimestamp(f.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("frame timestamp: %w", err)
	}

	ids := make([]string, 0, len(f.Vehicles))
	for id := range f.Vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	samples := make([]core.TelemetrySample, 0, len(ids))
	for _, id := range ids {
		samples = append(samples, VehicleSample(id, ts, f.Vehicles[id]))
	}
	return samples, nil
}

// VehicleSample builds a sample from one vehicle's field map. Unknown and
// non-numeric fields are ignored.
func VehicleSample(id string, ts time.Time, fields map[string]streaming.Number) core.TelemetrySample {
	s := core.TelemetrySample{VehicleID: id, Timestamp: ts}

	for _, f := range scalarFields {
		if n, ok := fields[f.name]; ok && n.Valid {
			f.set(&s, n.Value)
			s.Fields |= f.flag
		}
	}

	lat, hasLat := firstValid(fields, latitudeFields)
	lon, hasLon := firstValid(fields, longitudeFields)
	if hasLat {
		s.Fields |= core.FieldLatitude
	}
	if hasLon {
		s.Fields |= core.FieldLongitude
	}
	if hasLat && hasLon {
		s.Position = &core.Geodetic{Latitude: lat, Longitude: lon}
	}
	return s
}

func firstValid(fields map[string]streaming.Number, names []string) (float64, bool) {
	for _, name := range names {
		if n, ok := fields[name]; ok && n.Valid {
			return n.Value, true
		}
	}
	return 0, false
}

// Weather converts the optional weather block. Missing values stay zero.
func Weather(w *streaming.WeatherPayload) *core.Weather {
	if w == nil {
		return nil
	}
	return &core.Weather{
		AirTemp:       w.AirTemp.Or(0),
		TrackTemp:     w.TrackTemp.Or(0),
		Humidity:      w.Humidity.Or(0),
		Pressure:      w.Pressure.Or(0),
		WindSpeed:     w.WindSpeed.Or(0),
		WindDirection: w.WindDirection.Or(0),
		Rain:          w.Rain.Or(0),
	}
}

// LapEvent converts a lap message. Unparsable lap times become 0.
func LapEvent(m streaming.LapEvent) core.LapEvent {
	e := core.LapEvent{
		VehicleID:  m.VehicleID,
		Lap:        m.Lap,
		LapTime:    util.ParseLapTime(m.LapTime),
		LapTimeRaw: m.LapTime,
		TopSpeed:   m.TopSpeed.Or(0),
		Flag:       m.Flag,
		Pit:        m.Pit,
		Timestamp:  m.Timestamp,
	}
	for i := 0; i < len(e.SectorTimes) && i < len(m.SectorTimes); i++ {
		e.SectorTimes[i] = m.SectorTimes[i].Or(0)
	}
	return e
}

// LeaderboardEntry converts a standings row.
func LeaderboardEntry(m streaming.LeaderboardEntry) core.LeaderboardEntry {
	return core.LeaderboardEntry{
		VehicleID:   m.VehicleID,
		Vehicle:     m.Vehicle,
		Class:       m.ClassType,
		Position:    m.Position,
		ClassPos:    m.PIC,
		Laps:        m.Laps,
		Elapsed:     m.Elapsed,
		GapFirst:    m.GapFirst,
		GapPrevious: m.GapPrevious,
		BestLapNum:  m.BestLapNum,
		BestLapTime: m.BestLapTime,
		BestLapKph:  m.BestLapKph.Or(0),
	}
}
