package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetryrush/replay/internal/channel"
	"github.com/telemetryrush/replay/internal/reconcile"
	"github.com/telemetryrush/replay/pkg/streaming"
)

func newTestSession(t *testing.T, deps Deps) *Session {
	t.Helper()
	s, err := New(Config{
		Policy:     channel.DefaultPolicy(),
		Reconciler: reconcile.DefaultConfig(),
	}, deps)
	require.NoError(t, err)
	return s
}

func frame(ts string, vehicles map[string]map[string]float64) channel.Inbound {
	f := streaming.TelemetryFrame{
		Type:      streaming.TypeTelemetryFrame,
		Timestamp: ts,
		Vehicles:  make(map[string]map[string]streaming.Number, len(vehicles)),
	}
	for id, fields := range vehicles {
		m := make(map[string]streaming.Number, len(fields))
		for k, v := range fields {
			m[k] = streaming.Num(v)
		}
		f.Vehicles[id] = m
	}
	return channel.Inbound{Channel: channel.Telemetry, Message: f}
}

func push(s *Session, items ...channel.Inbound) {
	s.Sink().Push(items...)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(data))
	return nil
}

type recordingMetrics struct {
	vehicles    int
	transitions []channel.State
}

func (r *recordingMetrics) RecordVehicles(_ time.Time, states []reconcile.VehicleState) {
	r.vehicles++
}

func (r *recordingMetrics) RecordTransition(_ string, t channel.Transition, _ time.Time) {
	r.transitions = append(r.transitions, t.To)
}

func TestNew_PublishesEmptySnapshot(t *testing.T) {
	s := newTestSession(t, Deps{})

	snap := s.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, s.ID(), snap.Session)
	assert.Empty(t, snap.Vehicles)
	assert.Empty(t, snap.Channels)
	assert.NotNil(t, snap.Laps)
}

func TestNew_ExplicitID(t *testing.T) {
	s, err := New(Config{ID: "run-7", Policy: channel.DefaultPolicy()}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "run-7", s.ID())
	assert.Equal(t, "run-7", s.Snapshot().Session)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{
		Policy: channel.DefaultPolicy(),
		Channels: []ChannelSpec{
			{Name: channel.Telemetry, URL: "ws://localhost:8765", Enabled: true},
			{Name: channel.Telemetry, URL: "ws://localhost:8766", Enabled: true},
		},
	}, Deps{})
	assert.ErrorContains(t, err, "duplicate channel")

	_, err = New(Config{
		Policy:   channel.DefaultPolicy(),
		Channels: []ChannelSpec{{Name: channel.Laps, URL: "http://localhost:8766", Enabled: true}},
	}, Deps{})
	assert.Error(t, err)

	s, err := New(Config{
		Policy:   channel.DefaultPolicy(),
		Channels: []ChannelSpec{{Name: channel.Laps, URL: "http://not-checked", Enabled: false}},
	}, Deps{})
	require.NoError(t, err)
	_, ok := s.Channel(channel.Laps)
	assert.False(t, ok, "disabled channels are not created")
}

func TestTick_FirstSampleInitializesDistance(t *testing.T) {
	s := newTestSession(t, Deps{})

	push(s, frame("2025-04-04T18:10:23.000Z", map[string]map[string]float64{
		"GR86-78": {"Laptrigger_lapdist_dls": 100.0},
	}))
	s.Tick(0)

	v, ok := s.Snapshot().Vehicle("GR86-78")
	require.True(t, ok)
	assert.Equal(t, 100.0, v.Distance)
	assert.Equal(t, 0, v.Lap)
	assert.True(t, v.Initialized)
}

func TestTick_SnapLeavesAuthoritativeDistance(t *testing.T) {
	s := newTestSession(t, Deps{})

	push(s, frame("2025-04-04T18:10:23Z", map[string]map[string]float64{
		"13": {"Laptrigger_lapdist_dls": 100, "speed": 36},
	}))
	s.Tick(0)
	s.Tick(time.Second)

	v, _ := s.Snapshot().Vehicle("13")
	assert.InDelta(t, 110.0, v.Distance, 1e-9)

	push(s, frame("2025-04-04T18:10:25Z", map[string]map[string]float64{
		"13": {"Laptrigger_lapdist_dls": 200, "speed": 36},
	}))
	s.Tick(time.Second)

	v, _ = s.Snapshot().Vehicle("13")
	assert.Equal(t, 200.0, v.Distance)
	assert.Equal(t, 1, v.Snaps)
}

func TestTick_LapCountsOnceAcrossFrames(t *testing.T) {
	s := newTestSession(t, Deps{})

	for i, d := range []float64{3600, 3650, 20, 80} {
		push(s, frame(time.Date(2025, 4, 4, 18, 10, i, 0, time.UTC).Format(time.RFC3339), map[string]map[string]float64{
			"46": {"Laptrigger_lapdist_dls": d},
		}))
		s.Tick(0)
	}

	v, _ := s.Snapshot().Vehicle("46")
	assert.Equal(t, 1, v.Lap)
	assert.Equal(t, 80.0, v.Distance)
}

func TestTick_DiscardsBadInput(t *testing.T) {
	s := newTestSession(t, Deps{})

	push(s,
		frame("not a time", map[string]map[string]float64{"7": {"Laptrigger_lapdist_dls": 10}}),
		frame("2025-04-04T18:10:23Z", map[string]map[string]float64{"8": {"speed": 120}}),
		channel.Inbound{Channel: channel.Telemetry, Message: streaming.Control{Type: streaming.TypeControl, Cmd: "play"}},
	)
	s.Tick(0)

	assert.Empty(t, s.Snapshot().Vehicles)
}

func TestTick_WeatherConnectedAndEnd(t *testing.T) {
	s := newTestSession(t, Deps{})

	f := frame("2025-04-04T18:10:23Z", nil)
	tf := f.Message.(streaming.TelemetryFrame)
	tf.Weather = &streaming.WeatherPayload{AirTemp: streaming.Num(24.5), Rain: streaming.Num(0)}
	f.Message = tf

	push(s,
		channel.Inbound{Channel: channel.Telemetry, Message: streaming.Connected{Type: streaming.TypeConnected, HasData: true}},
		f,
		channel.Inbound{Channel: channel.Telemetry, Message: streaming.TelemetryEnd{Type: streaming.TypeTelemetryEnd, Timestamp: "2025-04-04T19:00:00Z"}},
	)
	s.Tick(0)

	snap := s.Snapshot()
	assert.True(t, snap.Ended)
	require.NotNil(t, snap.Weather)
	assert.Equal(t, 24.5, snap.Weather.AirTemp)
	assert.True(t, s.hasData[channel.Telemetry])

	push(s, frame("2025-04-04T19:00:01Z", nil))
	s.Tick(0)
	assert.False(t, s.Snapshot().Ended)
}

func TestTick_AggregatesLapsAndLeaderboard(t *testing.T) {
	s := newTestSession(t, Deps{})

	push(s,
		channel.Inbound{Channel: channel.Laps, Message: streaming.LapEvent{VehicleID: "13", Lap: 2, LapTime: "1:47.909"}},
		channel.Inbound{Channel: channel.Laps, Message: streaming.LapEvent{VehicleID: "13", Lap: 1, LapTime: "1:48.000"}},
		channel.Inbound{Channel: channel.Laps, Message: streaming.LapEvent{Lap: 1}},
		channel.Inbound{Channel: channel.Leaderboard, Message: streaming.LeaderboardEntry{VehicleID: "44", Position: 3}},
		channel.Inbound{Channel: channel.Leaderboard, Message: streaming.LeaderboardEntry{VehicleID: "13", Position: 1}},
		channel.Inbound{Channel: channel.Leaderboard, Message: streaming.LeaderboardEntry{VehicleID: "44", Position: 2}},
	)
	s.Tick(0)

	snap := s.Snapshot()
	history := snap.Laps.History("13")
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Lap, "arrival order is kept")
	assert.InDelta(t, 107.909, history[0].LapTime, 1e-9)

	require.Len(t, snap.Leaderboard, 2)
	assert.Equal(t, "13", snap.Leaderboard[0].VehicleID)
	assert.Equal(t, "44", snap.Leaderboard[1].VehicleID)
	assert.Equal(t, 2, snap.Leaderboard[1].Position)

	// without new lap events the published history is reused
	s.Tick(0)
	assert.Same(t, snap.Laps, s.Snapshot().Laps)
}

func TestRestart_ClearsPlaybackState(t *testing.T) {
	s := newTestSession(t, Deps{})
	sender := &fakeSender{}
	s.Controller().SetTarget(sender)

	push(s,
		frame("2025-04-04T18:10:23Z", map[string]map[string]float64{"13": {"Laptrigger_lapdist_dls": 500}}),
		channel.Inbound{Channel: channel.Laps, Message: streaming.LapEvent{VehicleID: "13", Lap: 1}},
	)
	s.Tick(0)
	require.Len(t, s.Snapshot().Vehicles, 1)

	require.True(t, s.Controller().Restart())
	s.Tick(0)

	snap := s.Snapshot()
	assert.Empty(t, snap.Vehicles)
	assert.Equal(t, 0, snap.Laps.Len())
	assert.Equal(t, []string{`{"type":"control","cmd":"restart"}`}, sender.sent)
}

func TestRestart_NotSentDoesNotClear(t *testing.T) {
	s := newTestSession(t, Deps{})

	push(s, frame("2025-04-04T18:10:23Z", map[string]map[string]float64{"13": {"Laptrigger_lapdist_dls": 500}}))
	s.Tick(0)

	assert.False(t, s.Controller().Restart(), "no control channel")
	s.Tick(0)
	assert.Len(t, s.Snapshot().Vehicles, 1)
}

func TestTick_ReportsMetrics(t *testing.T) {
	m := &recordingMetrics{}
	s, err := New(Config{
		Policy:          channel.DefaultPolicy(),
		Reconciler:      reconcile.DefaultConfig(),
		MetricsInterval: time.Second,
	}, Deps{Metrics: m})
	require.NoError(t, err)

	push(s, channel.Inbound{
		Channel:    channel.Telemetry,
		Transition: &channel.Transition{From: channel.Connecting, To: channel.Open, Attempt: 1},
	})
	for i := 0; i < 4; i++ {
		s.Tick(500 * time.Millisecond)
	}

	assert.Equal(t, []channel.State{channel.Open}, m.transitions)
	assert.Equal(t, 2, m.vehicles)
}

func TestTick_SectorAndMercator(t *testing.T) {
	s := newTestSession(t, Deps{Sectors: func(d float64) int {
		if d < 1000 {
			return 1
		}
		return 2
	}})

	push(s, frame("2025-04-04T18:10:23Z", map[string]map[string]float64{
		"13": {"Laptrigger_lapdist_dls": 1500, "VBOX_Lat_Min": 33.5326, "VBOX_Long_Minutes": -86.6196},
	}))
	s.Tick(0)

	v, ok := s.Snapshot().Vehicle("13")
	require.True(t, ok)
	assert.Equal(t, 2, v.Sector)
	require.Len(t, v.Mercator, 2)
	assert.InDelta(t, -9642500, v.Mercator[0], 1000)
	require.NotNil(t, v.GroundTruth)
}

func TestShutdown_DropsQueued(t *testing.T) {
	s := newTestSession(t, Deps{})
	push(s, frame("2025-04-04T18:10:23Z", map[string]map[string]float64{"13": {"Laptrigger_lapdist_dls": 5}}))

	s.Shutdown()
	s.Tick(0)
	assert.Empty(t, s.Snapshot().Vehicles)
}

// telemetryServer greets, sends one frame and records control messages.
func telemetryServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var controls []string

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(ws.TextMessage, []byte(`{"type":"connected","has_data":true}`))
		_ = c.WriteMessage(ws.TextMessage, []byte(`{"type":"telemetry_frame","timestamp":"2025-04-04T18:10:23.000","vehicles":{"GR86-78":{"Laptrigger_lapdist_dls":"100.0","speed":120}}}`))
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			controls = append(controls, string(msg))
			mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)

	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), controls...)
	}
}

func TestStart_EndToEnd(t *testing.T) {
	srv, controls := telemetryServer(t)

	s, err := New(Config{
		Channels: []ChannelSpec{{
			Name:    channel.Telemetry,
			URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
			Enabled: true,
		}},
		Policy:     channel.DefaultPolicy(),
		Reconciler: reconcile.DefaultConfig(),
	}, Deps{})
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start")

	require.Eventually(t, func() bool {
		s.Tick(0)
		_, ok := s.Snapshot().Vehicle("GR86-78")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Channels, 1)
	assert.Equal(t, channel.Open, snap.Channels[0].State)
	assert.True(t, snap.Channels[0].HasData)
	assert.Equal(t, 1, s.OpenChannels())

	v, _ := snap.Vehicle("GR86-78")
	assert.Equal(t, 100.0, v.Distance)

	require.True(t, s.Controller().SetSpeed(2))
	require.Eventually(t, func() bool {
		return len(controls()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"type":"control","cmd":"speed","value":2}`, controls()[0])
}
