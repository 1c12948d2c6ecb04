package reconcile

import (
	"time"

	"github.com/telemetryrush/replay/internal/geo"
	"github.com/telemetryrush/replay/pkg/core"
)

// VehicleState is the reconciled view of one vehicle.
type VehicleState struct {
	VehicleID     string    `json:"vehicle_id"`
	Distance      float64   `json:"distance"`     // integrated, meters along the path
	LapDistance   float64   `json:"lap_distance"` // last authoritative value
	Lap           int       `json:"lap"`
	ReportedLap   int       `json:"reported_lap"`
	Speed         float64   `json:"speed"` // m/s
	SpeedKph      float64   `json:"speed_kph"`
	Throttle      float64   `json:"throttle"` // 0..1
	Brake         float64   `json:"brake"`    // 0..1
	RPM           float64   `json:"rpm"`
	Gear          int       `json:"gear"`
	Steering      float64   `json:"steering"`
	Initialized   bool      `json:"initialized"`
	Interpolating bool      `json:"interpolating"`
	LastSample    time.Time `json:"last_sample"`
	Samples       int       `json:"samples"`
	Snaps         int       `json:"snaps"`

	Pose           *geo.Pose      `json:"pose,omitempty"`
	GroundTruth    *geo.Local     `json:"ground_truth,omitempty"`
	GroundTruthGeo *core.Geodetic `json:"ground_truth_geo,omitempty"`

	// set by a kinematic wrap until the matching authoritative wrap arrives
	pendingWrap bool
}

// PendingWrap reports whether a kinematic lap wrap still awaits its
// authoritative confirmation.
func (s VehicleState) PendingWrap() bool {
	return s.pendingWrap
}
