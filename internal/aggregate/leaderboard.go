package aggregate

import (
	"sort"

	"github.com/telemetryrush/replay/pkg/core"
)

// Leaderboard keeps the latest entry per vehicle.
type Leaderboard struct {
	entries map[string]core.LeaderboardEntry
}

// NewLeaderboard returns an empty leaderboard.
func NewLeaderboard() *Leaderboard {
	return &Leaderboard{entries: make(map[string]core.LeaderboardEntry)}
}

// Upsert replaces the vehicle's entry. The last write wins.
func (b *Leaderboard) Upsert(e core.LeaderboardEntry) {
	b.entries[e.VehicleID] = e
}

// Get returns the entry for one vehicle.
func (b *Leaderboard) Get(vehicleID string) (core.LeaderboardEntry, bool) {
	e, ok := b.entries[vehicleID]
	return e, ok
}

// Snapshot returns all entries ordered by position. Entries without a
// position (0) sort last; ties break on vehicle id.
func (b *Leaderboard) Snapshot() []core.LeaderboardEntry {
	out := make([]core.LeaderboardEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Position, out[j].Position
		if (pi > 0) != (pj > 0) {
			return pi > 0
		}
		if pi != pj {
			return pi < pj
		}
		return out[i].VehicleID < out[j].VehicleID
	})
	return out
}

// Len returns the number of vehicles on the board.
func (b *Leaderboard) Len() int {
	return len(b.entries)
}

// Clear empties the board.
func (b *Leaderboard) Clear() {
	b.entries = make(map[string]core.LeaderboardEntry)
}
