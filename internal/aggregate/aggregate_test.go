package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetryrush/replay/pkg/core"
)

func lap(id string, n int, lapTime float64) core.LapEvent {
	return core.LapEvent{VehicleID: id, Lap: n, LapTime: lapTime}
}

func TestLapEvents_AppendKeepsArrivalOrderAndDuplicates(t *testing.T) {
	l := NewLapEvents()
	l.Append(lap("13", 2, 99.1))
	l.Append(lap("13", 1, 101.4))
	l.Append(lap("13", 2, 98.7))

	h := l.History("13")
	require.Len(t, h, 3)
	assert.Equal(t, []int{2, 1, 2}, []int{h[0].Lap, h[1].Lap, h[2].Lap})
	assert.Equal(t, 3, l.Len())

	latest, ok := l.Latest("13")
	require.True(t, ok)
	assert.Equal(t, 98.7, latest.LapTime)
}

func TestLapEvents_EventsForLapFirstMatchPerVehicle(t *testing.T) {
	l := NewLapEvents()
	l.Append(lap("46", 3, 100.0))
	l.Append(lap("13", 3, 101.0))
	l.Append(lap("46", 3, 200.0))
	l.Append(lap("78", 2, 99.0))

	got := l.EventsForLap(3)
	require.Len(t, got, 2)
	assert.Equal(t, "46", got[0].VehicleID)
	assert.Equal(t, 100.0, got[0].LapTime)
	assert.Equal(t, "13", got[1].VehicleID)

	assert.Empty(t, l.EventsForLap(9))
	assert.Equal(t, []string{"46", "13", "78"}, l.Vehicles())
}

func TestLapEvents_HistoryIsACopy(t *testing.T) {
	l := NewLapEvents()
	l.Append(lap("1", 1, 1))

	h := l.History("1")
	h[0].Lap = 42
	assert.Equal(t, 1, l.History("1")[0].Lap)
	assert.Nil(t, l.History("unknown"))
}

func TestLapEvents_CloneIsIndependent(t *testing.T) {
	l := NewLapEvents()
	l.Append(lap("1", 1, 1))

	c := l.Clone()
	l.Append(lap("1", 2, 1))
	l.Append(lap("2", 1, 1))

	assert.Equal(t, 1, c.Len())
	assert.Len(t, c.History("1"), 1)
	assert.Equal(t, []string{"1"}, c.Vehicles())

	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 1, c.Len())
}

func TestLeaderboard_LastWriteWins(t *testing.T) {
	b := NewLeaderboard()
	b.Upsert(core.LeaderboardEntry{VehicleID: "13", Position: 1, Laps: 10})
	b.Upsert(core.LeaderboardEntry{VehicleID: "13", Position: 2, Laps: 11})

	require.Equal(t, 1, b.Len())
	e, ok := b.Get("13")
	require.True(t, ok)
	assert.Equal(t, 2, e.Position)
	assert.Equal(t, 11, e.Laps)
}

func TestLeaderboard_SnapshotOrder(t *testing.T) {
	b := NewLeaderboard()
	b.Upsert(core.LeaderboardEntry{VehicleID: "78", Position: 3})
	b.Upsert(core.LeaderboardEntry{VehicleID: "99", Position: 0})
	b.Upsert(core.LeaderboardEntry{VehicleID: "13", Position: 1})
	b.Upsert(core.LeaderboardEntry{VehicleID: "46", Position: 1})

	snap := b.Snapshot()
	ids := make([]string, len(snap))
	for i, e := range snap {
		ids[i] = e.VehicleID
	}
	assert.Equal(t, []string{"13", "46", "78", "99"}, ids)

	b.Clear()
	assert.Empty(t, b.Snapshot())
}
