package session

import (
	"time"

	"github.com/telemetryrush/replay/internal/aggregate"
	"github.com/telemetryrush/replay/internal/channel"
	"github.com/telemetryrush/replay/internal/geo"
	"github.com/telemetryrush/replay/internal/reconcile"
	"github.com/telemetryrush/replay/pkg/core"
)

// ChannelStatus is the observable state of one feed.
type ChannelStatus struct {
	Name    string        `json:"name"`
	URL     string        `json:"url"`
	State   channel.State `json:"state"`
	Attempt uint64        `json:"attempt"`
	Retries int           `json:"retries"`
	HasData bool          `json:"has_data"`
}

// Vehicle is a vehicle state as published to readers.
type Vehicle struct {
	reconcile.VehicleState
	Sector int `json:"sector,omitempty"`
	// Web Mercator x/y of the ground-truth marker.
	Mercator []float64 `json:"mercator,omitempty"`
}

// Snapshot is an immutable view of the session after one tick. Nothing
// in it is modified after publication.
type Snapshot struct {
	Session     string                  `json:"session"`
	Tick        uint64                  `json:"tick"`
	Elapsed     float64                 `json:"elapsed"` // simulated seconds
	Published   time.Time               `json:"published"`
	Ended       bool                    `json:"ended"`
	Weather     *core.Weather           `json:"weather,omitempty"`
	Channels    []ChannelStatus         `json:"channels"`
	Vehicles    []Vehicle               `json:"vehicles"`
	Leaderboard []core.LeaderboardEntry `json:"leaderboard"`
	Laps        *aggregate.LapEvents    `json:"-"`
	Dropped     uint64                  `json:"dropped"`
}

// Vehicle looks a vehicle up by id.
func (s *Snapshot) Vehicle(id string) (Vehicle, bool) {
	for _, v := range s.Vehicles {
		if v.VehicleID == id {
			return v, true
		}
	}
	return Vehicle{}, false
}

// Snapshot returns the latest published snapshot. Safe for concurrent use.
func (s *Session) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

func (s *Session) publish() {
	if s.lapsChanged {
		s.lapsView = s.laps.Clone()
		s.lapsChanged = false
	}

	snap := &Snapshot{
		Session:     s.id,
		Tick:        s.ticks,
		Elapsed:     s.elapsed.Seconds(),
		Published:   s.now(),
		Ended:       s.ended,
		Channels:    make([]ChannelStatus, 0, len(s.channels)),
		Leaderboard: s.board.Snapshot(),
		Laps:        s.lapsView,
		Dropped:     s.queue.Dropped(),
	}
	if s.weather != nil {
		w := *s.weather
		snap.Weather = &w
	}
	for _, c := range s.channels {
		snap.Channels = append(snap.Channels, ChannelStatus{
			Name:    c.Name(),
			URL:     c.URL(),
			State:   c.State(),
			Attempt: c.Attempt(),
			Retries: c.Retries(),
			HasData: s.hasData[c.Name()],
		})
	}

	states := s.reconciler.States()
	snap.Vehicles = make([]Vehicle, 0, len(states))
	for _, st := range states {
		v := Vehicle{VehicleState: st}
		if s.sectors != nil {
			v.Sector = s.sectors(st.Distance)
		}
		if g := st.GroundTruthGeo; g != nil {
			if x, y, err := geo.WebMercator(g.Latitude, g.Longitude); err == nil {
				v.Mercator = []float64{x, y}
			}
		}
		snap.Vehicles = append(snap.Vehicles, v)
	}

	s.snapshot.Store(snap)
}
