// Package reconcile dead-reckons every vehicle along the track between
// authoritative lap-distance samples, counts lap wraps and snaps the
// integrated distance back when it drifts too far.
//
// A Reconciler is owned by the tick loop and is not safe for concurrent
// use. It never reads the wall clock; all time comes from Tick's dt and
// the sample timestamps.
package reconcile

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/telemetryrush/replay/internal/geo"
	"github.com/telemetryrush/replay/pkg/core"
)

var (
	// ErrMissingDistance marks a sample without a lap distance.
	ErrMissingDistance = errors.New("sample has no lap distance")
	// ErrBadTimestamp marks a sample whose timestamp could not be parsed.
	ErrBadTimestamp = errors.New("sample has no valid timestamp")
)

// Config holds the reconciliation tunables. Distances are in meters and
// times in seconds.
type Config struct {
	PathLength          float64 `json:"pathLength" validate:"gte=0"` // 0 when unknown
	DivergenceTolerance float64 `json:"divergenceTolerance" validate:"gte=0"`
	MaxAccel            float64 `json:"maxAccel" validate:"gte=0"`
	MaxBrake            float64 `json:"maxBrake" validate:"gte=0"`
	MaxSpeed            float64 `json:"maxSpeed" validate:"gt=0"`
	Interpolate         bool    `json:"interpolate"`
	WrapFraction        float64 `json:"wrapFraction" validate:"gt=0,lte=1"`
	ThrottleFullScale   float64 `json:"throttleFullScale" validate:"gt=0"`
	BrakeFullScale      float64 `json:"brakeFullScale" validate:"gt=0"`
}

// DefaultConfig returns the stock tunables for a 3.7 km circuit.
func DefaultConfig() Config {
	return Config{
		PathLength:          3700,
		DivergenceTolerance: 5,
		MaxAccel:            9,
		MaxBrake:            30,
		MaxSpeed:            90,
		Interpolate:         true,
		WrapFraction:        0.5,
		ThrottleFullScale:   100,
		BrakeFullScale:      100,
	}
}

// Path maps a distance along the track to a pose.
type Path interface {
	PoseAt(d float64) geo.Pose
}

// Outcome describes what applying one sample did.
type Outcome struct {
	Initialized  bool
	LapCompleted bool
	Snapped      bool
	Divergence   float64
}

// Reconciler holds the state of every known vehicle.
type Reconciler struct {
	cfg       Config
	transform *geo.Transform
	path      Path
	logger    *slog.Logger

	vehicles map[string]*VehicleState
	ids      []string // sorted
}

// New creates a Reconciler. transform and path may be nil.
func New(cfg Config, transform *geo.Transform, path Path, logger *slog.Logger) *Reconciler {
	if transform == nil {
		transform = geo.NewTransform()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfg:       cfg,
		transform: transform,
		path:      path,
		logger:    logger,
		vehicles:  make(map[string]*VehicleState),
	}
}

// Config returns the tunables in use.
func (r *Reconciler) Config() Config {
	return r.cfg
}

// Register returns the state for id, creating it on first use.
func (r *Reconciler) Register(id string) *VehicleState {
	if st, ok := r.vehicles[id]; ok {
		return st
	}
	st := &VehicleState{VehicleID: id}
	r.vehicles[id] = st

	i := sort.SearchStrings(r.ids, id)
	r.ids = append(r.ids, "")
	copy(r.ids[i+1:], r.ids[i:])
	r.ids[i] = id
	return st
}

// ApplySample folds one authoritative sample into the vehicle state.
// Samples without a lap distance or timestamp are discarded whole.
func (r *Reconciler) ApplySample(s core.TelemetrySample) (Outcome, error) {
	if !s.Has(core.FieldLapDistance) || math.IsNaN(s.LapDistance) || math.IsInf(s.LapDistance, 0) {
		return Outcome{}, ErrMissingDistance
	}
	if s.Timestamp.IsZero() {
		return Outcome{}, ErrBadTimestamp
	}

	st := r.Register(s.VehicleID)
	auth := s.LapDistance
	var out Outcome

	if !st.Initialized {
		st.Distance = auth
		st.Initialized = true
		st.Interpolating = r.cfg.Interpolate
		out.Initialized = true
	} else {
		switch {
		case st.pendingWrap && auth < st.LapDistance:
			// any drop confirms the lap the model already counted
			st.pendingWrap = false
			out.LapCompleted = true
		case r.wrapped(st.LapDistance, auth):
			st.Lap++
			out.LapCompleted = true
		}
		if out.LapCompleted {
			r.logger.Debug("Lap boundary crossed", "vehicle", st.VehicleID, "lap", st.Lap, "from", st.LapDistance, "to", auth)
		}

		out.Divergence = math.Abs(auth - st.Distance)
		if out.Divergence > r.cfg.DivergenceTolerance {
			st.Distance = auth
			st.Snaps++
			out.Snapped = true
			if out.Divergence > 10*r.cfg.DivergenceTolerance {
				r.logger.Warn("Snapped to authoritative distance", "vehicle", st.VehicleID, "divergence", out.Divergence)
			} else {
				r.logger.Debug("Snapped to authoritative distance", "vehicle", st.VehicleID, "divergence", out.Divergence)
			}
		}
	}

	st.LapDistance = auth
	st.LastSample = s.Timestamp
	st.Samples++
	r.applyInputs(st, s)
	r.applyGroundTruth(st, s)
	r.updatePose(st)

	return out, nil
}

// Tick advances every interpolating vehicle by dt.
func (r *Reconciler) Tick(dt time.Duration) {
	secs := dt.Seconds()
	if secs <= 0 {
		return
	}
	length := r.cfg.PathLength

	for _, id := range r.ids {
		st := r.vehicles[id]
		if !st.Interpolating {
			continue
		}

		accel := st.Throttle*r.cfg.MaxAccel - st.Brake*r.cfg.MaxBrake
		st.Speed = clamp(st.Speed+accel*secs, 0, r.cfg.MaxSpeed)
		st.Distance += st.Speed * secs

		if length > 0 && st.Distance >= length {
			st.Distance = math.Mod(st.Distance, length)
			// the authoritative wrap that follows must not count again
			if !st.pendingWrap {
				st.Lap++
				st.pendingWrap = true
			}
		}
		r.updatePose(st)
	}
}

// Reset forgets every vehicle, as after a playback restart.
func (r *Reconciler) Reset() {
	r.vehicles = make(map[string]*VehicleState)
	r.ids = nil
}

// State returns a copy of one vehicle's state.
func (r *Reconciler) State(id string) (VehicleState, bool) {
	st, ok := r.vehicles[id]
	if !ok {
		return VehicleState{}, false
	}
	return *st, true
}

// States returns copies of all vehicle states ordered by vehicle id.
func (r *Reconciler) States() []VehicleState {
	out := make([]VehicleState, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, *r.vehicles[id])
	}
	return out
}

// Len returns the number of known vehicles.
func (r *Reconciler) Len() int {
	return len(r.ids)
}

func (r *Reconciler) wrapped(prev, next float64) bool {
	drop := prev - next
	if drop <= 0 {
		return false
	}
	if r.cfg.PathLength > 0 {
		return drop > r.cfg.WrapFraction*r.cfg.PathLength
	}
	return drop > r.cfg.WrapFraction*prev
}

func (r *Reconciler) applyInputs(st *VehicleState, s core.TelemetrySample) {
	if s.Has(core.FieldSpeed) {
		st.Speed = clamp(s.Speed/3.6, 0, r.cfg.MaxSpeed)
		st.SpeedKph = s.Speed
	}
	if s.Has(core.FieldThrottle) {
		st.Throttle = clamp(s.Throttle/r.cfg.ThrottleFullScale, 0, 1)
	}
	if s.Has(core.FieldBrakeFront) || s.Has(core.FieldBrakeRear) {
		var pressure float64
		if s.Has(core.FieldBrakeFront) {
			pressure = s.BrakeFront
		}
		if s.Has(core.FieldBrakeRear) && s.BrakeRear > pressure {
			pressure = s.BrakeRear
		}
		st.Brake = clamp(pressure/r.cfg.BrakeFullScale, 0, 1)
	}
	if s.Has(core.FieldRPM) {
		st.RPM = s.RPM
	}
	if s.Has(core.FieldGear) {
		st.Gear = s.Gear
	}
	if s.Has(core.FieldSteering) {
		st.Steering = s.Steering
	}
	if s.Has(core.FieldLap) {
		st.ReportedLap = s.Lap
	}
}

func (r *Reconciler) applyGroundTruth(st *VehicleState, s core.TelemetrySample) {
	if s.Position == nil {
		return
	}
	local, err := r.transform.ToLocal(s.Position.Latitude, s.Position.Longitude, s.Position.Altitude)
	if err != nil {
		r.logger.Debug("Ignoring ground truth position", "vehicle", st.VehicleID, "error", err)
		return
	}
	pos := *s.Position
	st.GroundTruth = &local
	st.GroundTruthGeo = &pos
}

func (r *Reconciler) updatePose(st *VehicleState) {
	if r.path == nil {
		return
	}
	pose := r.path.PoseAt(st.Distance)
	st.Pose = &pose
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
