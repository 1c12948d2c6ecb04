// Package aggregate keeps the per-vehicle lap history and the current
// leaderboard. Neither type is safe for concurrent use; both are owned by
// the tick loop and handed out as clones.
package aggregate

import "github.com/telemetryrush/replay/pkg/core"

// LapEvents stores lap events per vehicle in arrival order. Duplicates and
// out-of-order laps are kept as received.
type LapEvents struct {
	byVehicle map[string][]core.LapEvent
	order     []string // vehicles in first-seen order
	total     int
}

// NewLapEvents returns an empty history.
func NewLapEvents() *LapEvents {
	return &LapEvents{byVehicle: make(map[string][]core.LapEvent)}
}

// Append records e at the end of its vehicle's history.
func (l *LapEvents) Append(e core.LapEvent) {
	if _, ok := l.byVehicle[e.VehicleID]; !ok {
		l.order = append(l.order, e.VehicleID)
	}
	l.byVehicle[e.VehicleID] = append(l.byVehicle[e.VehicleID], e)
	l.total++
}

// EventsForLap returns, for each vehicle that has one, the first event in
// arrival order whose lap number is n. Vehicles appear in first-seen order.
func (l *LapEvents) EventsForLap(n int) []core.LapEvent {
	var out []core.LapEvent
	for _, id := range l.order {
		for _, e := range l.byVehicle[id] {
			if e.Lap == n {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// History returns a copy of one vehicle's events.
func (l *LapEvents) History(vehicleID string) []core.LapEvent {
	events := l.byVehicle[vehicleID]
	if len(events) == 0 {
		return nil
	}
	out := make([]core.LapEvent, len(events))
	copy(out, events)
	return out
}

// Latest returns the most recently received event for a vehicle.
func (l *LapEvents) Latest(vehicleID string) (core.LapEvent, bool) {
	events := l.byVehicle[vehicleID]
	if len(events) == 0 {
		return core.LapEvent{}, false
	}
	return events[len(events)-1], true
}

// Vehicles lists vehicle ids in first-seen order.
func (l *LapEvents) Vehicles() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Len is the total number of stored events.
func (l *LapEvents) Len() int {
	return l.total
}

// Clone returns an independent copy.
func (l *LapEvents) Clone() *LapEvents {
	c := &LapEvents{
		byVehicle: make(map[string][]core.LapEvent, len(l.byVehicle)),
		order:     make([]string, len(l.order)),
		total:     l.total,
	}
	copy(c.order, l.order)
	for id, events := range l.byVehicle {
		c.byVehicle[id] = append([]core.LapEvent(nil), events...)
	}
	return c
}

// Clear drops all history.
func (l *LapEvents) Clear() {
	l.byVehicle = make(map[string][]core.LapEvent)
	l.order = nil
	l.total = 0
}
