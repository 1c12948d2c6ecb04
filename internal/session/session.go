// Package session owns everything a running playback client needs: the
// feed channels, the hand-off queue, the reconciler and the aggregators.
// A Session is constructed explicitly and passed to whoever needs it.
//
// Socket goroutines only push onto the queue. All state is mutated by
// Tick, which must be called from a single goroutine. Other goroutines
// read the immutable Snapshot published at the end of every tick.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/telemetryrush/replay/internal/aggregate"
	"github.com/telemetryrush/replay/internal/channel"
	"github.com/telemetryrush/replay/internal/control"
	"github.com/telemetryrush/replay/internal/convert"
	"github.com/telemetryrush/replay/internal/dispatcher"
	"github.com/telemetryrush/replay/internal/geo"
	"github.com/telemetryrush/replay/internal/queue"
	"github.com/telemetryrush/replay/internal/reconcile"
	"github.com/telemetryrush/replay/pkg/core"
	"github.com/telemetryrush/replay/pkg/streaming"
)

// ChannelSpec describes one feed to attach.
type ChannelSpec struct {
	Name    string
	URL     string
	Enabled bool
}

// Config holds the session settings.
type Config struct {
	// ID names the session; a random one is generated when empty.
	ID         string
	Channels   []ChannelSpec
	Policy     channel.Policy
	Reconciler reconcile.Config
	// QueueLimit bounds the hand-off queue; 0 means unbounded.
	QueueLimit int
	// MetricsInterval is the simulated time between vehicle metric
	// writes; 0 writes on every tick.
	MetricsInterval time.Duration
}

// Metrics receives per-tick vehicle states and channel transitions.
type Metrics interface {
	RecordVehicles(at time.Time, states []reconcile.VehicleState)
	RecordTransition(name string, t channel.Transition, at time.Time)
}

// Deps are the collaborators a session is built from. All are optional.
type Deps struct {
	Logger           *slog.Logger
	DispatcherLogger dispatcher.Logger
	Transform        *geo.Transform
	Path             reconcile.Path
	Sectors          func(d float64) int
	Metrics          Metrics
}

// Session is one playback client run.
type Session struct {
	id     string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	queue      *queue.Queue[channel.Inbound]
	channels   []*channel.Connection
	byName     map[string]*channel.Connection
	dispatch   *dispatcher.Dispatcher
	controller *control.Controller
	metrics    Metrics
	sectors    func(d float64) int

	// owned by the tick goroutine
	reconciler  *reconcile.Reconciler
	laps        *aggregate.LapEvents
	board       *aggregate.Leaderboard
	weather     *core.Weather
	hasData     map[string]bool
	ended       bool
	ticks       uint64
	elapsed     time.Duration
	lastMetrics time.Duration
	lapsChanged bool
	lapsView    *aggregate.LapEvents

	restartRequested atomic.Bool
	started          atomic.Bool
	snapshot         atomic.Pointer[Snapshot]
}

// New builds a session. Channels are created but not connected.
func New(cfg Config, deps Deps) (*Session, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger = logger.With("session", id)

	var dl dispatcher.Logger = logger
	if deps.DispatcherLogger != nil {
		dl = deps.DispatcherLogger
	}
	d, err := dispatcher.New(dl)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	s := &Session{
		id:         id,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		queue:      queue.NewBounded[channel.Inbound](cfg.QueueLimit),
		byName:     make(map[string]*channel.Connection),
		dispatch:   d,
		metrics:    deps.Metrics,
		sectors:    deps.Sectors,
		reconciler: reconcile.New(cfg.Reconciler, deps.Transform, deps.Path, logger.With("component", "reconciler")),
		laps:       aggregate.NewLapEvents(),
		board:      aggregate.NewLeaderboard(),
		hasData:    make(map[string]bool),
		lapsView:   aggregate.NewLapEvents(),
	}

	for _, spec := range cfg.Channels {
		if !spec.Enabled {
			logger.Info("Channel disabled", "channel", spec.Name)
			continue
		}
		if _, dup := s.byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate channel %q", spec.Name)
		}
		conn, err := channel.New(channel.Config{
			Name:    spec.Name,
			URL:     spec.URL,
			Policy:  cfg.Policy,
			Decoder: channel.DecoderFor(spec.Name),
			Sink:    s.queue,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", spec.Name, err)
		}
		s.channels = append(s.channels, conn)
		s.byName[spec.Name] = conn
	}

	var target control.Sender
	if conn, ok := s.byName[channel.Telemetry]; ok {
		target = conn
	}
	s.controller = control.NewController(target, logger.With("component", "control"))
	s.controller.Observe(func(cmd control.Command) {
		if cmd.Kind == control.KindRestart {
			s.restartRequested.Store(true)
		}
	})

	s.registerHandlers()
	s.dispatch.ObserveBacklog("queue", func() int64 { return int64(s.queue.Len()) })

	s.publish()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Controller returns the playback controller. It targets the telemetry
// channel unless retargeted.
func (s *Session) Controller() *control.Controller {
	return s.controller
}

// Sink returns the queue other producers, such as a poller, push onto.
func (s *Session) Sink() channel.Sink {
	return s.queue
}

// Channel returns a channel by name.
func (s *Session) Channel(name string) (*channel.Connection, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// OpenChannels counts channels currently in the Open state. Safe for
// concurrent use.
func (s *Session) OpenChannels() int {
	n := 0
	for _, c := range s.channels {
		if c.State() == channel.Open {
			n++
		}
	}
	return n
}

// Start connects every enabled channel. Channels reconnect on their own
// afterwards.
func (s *Session) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already started")
	}
	for _, c := range s.channels {
		c.Connect()
	}
	s.logger.Info("Session started", "channels", len(s.channels))
	return nil
}

// Run ticks at the given interval until ctx is cancelled. The measured
// wall time between ticks is passed as dt.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid tick interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := s.now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			s.Tick(t.Sub(last))
			last = t
		}
	}
}

// Shutdown disconnects every channel and drops whatever is still queued.
func (s *Session) Shutdown() {
	for _, c := range s.channels {
		c.Disconnect()
	}
	dropped := s.queue.Len()
	s.queue.Clear()
	s.logger.Info("Session shut down", "droppedQueued", dropped)
}

// Tick advances the simulation by dt, applies everything queued since the
// previous tick in arrival order and publishes a new snapshot.
func (s *Session) Tick(dt time.Duration) {
	if s.restartRequested.Swap(false) {
		s.resetPlayback()
	}
	if dt < 0 {
		dt = 0
	}

	s.reconciler.Tick(dt)
	for _, in := range s.queue.Drain() {
		s.apply(in)
	}

	s.ticks++
	s.elapsed += dt
	if s.metrics != nil && s.elapsed-s.lastMetrics >= s.cfg.MetricsInterval {
		s.lastMetrics = s.elapsed
		s.metrics.RecordVehicles(s.now(), s.reconciler.States())
	}
	s.publish()
}

func (s *Session) resetPlayback() {
	s.reconciler.Reset()
	s.laps.Clear()
	s.board.Clear()
	s.weather = nil
	s.ended = false
	s.lapsChanged = true
	s.logger.Info("Playback restarted, state cleared")
}

func (s *Session) apply(in channel.Inbound) {
	if in.Transition != nil {
		t := *in.Transition
		if t.Err != nil {
			s.logger.Info("Channel state changed", "channel", in.Channel, "from", t.From, "to", t.To, "attempt", t.Attempt, "error", t.Err)
		} else {
			s.logger.Info("Channel state changed", "channel", in.Channel, "from", t.From, "to", t.To, "attempt", t.Attempt)
		}
		if s.metrics != nil {
			s.metrics.RecordTransition(in.Channel, t, in.Received)
		}
		return
	}
	if in.Message == nil {
		return
	}

	err := s.dispatch.Dispatch(dispatcher.Event{
		Type:     in.Message.MessageType(),
		Channel:  in.Channel,
		Payload:  in.Message,
		Received: in.Received,
	})
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrNoHandler):
		s.logger.Debug("Dropped message without handler", "channel", in.Channel, "type", in.Message.MessageType())
	default:
		s.logger.Warn("Dropped message", "channel", in.Channel, "type", in.Message.MessageType(), "error", err)
	}
}

func (s *Session) registerHandlers() {
	s.dispatch.Register(streaming.TypeConnected, s.handleConnected, dispatcher.Logged())
	s.dispatch.Register(streaming.TypeTelemetryFrame, s.handleFrame)
	s.dispatch.Register(streaming.TypeTelemetryEnd, s.handleEnd, dispatcher.Logged())
	s.dispatch.Register(streaming.TypeLapEvent, s.handleLapEvent, dispatcher.Logged())
	s.dispatch.Register(streaming.TypeLeaderboardEntry, s.handleLeaderboardEntry)
}

func payload[T streaming.Message](e dispatcher.Event) (T, error) {
	switch v := e.Payload.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
}

func (s *Session) handleConnected(e dispatcher.Event) error {
	m, err := payload[streaming.Connected](e)
	if err != nil {
		return err
	}
	s.hasData[e.Channel] = m.HasData
	if !m.HasData {
		s.logger.Warn("Feed has no data loaded", "channel", e.Channel)
	}
	return nil
}

func (s *Session) handleFrame(e dispatcher.Event) error {
	m, err := payload[streaming.TelemetryFrame](e)
	if err != nil {
		return err
	}
	samples, err := convert.FrameToSamples(m)
	if err != nil {
		return err
	}

	s.ended = false
	if w := convert.Weather(m.Weather); w != nil {
		s.weather = w
	}

	for _, sample := range samples {
		out, err := s.reconciler.ApplySample(sample)
		if err != nil {
			s.logger.Debug("Discarded sample", "vehicle", sample.VehicleID, "error", err)
			continue
		}
		if out.Initialized {
			s.logger.Info("Tracking vehicle", "vehicle", sample.VehicleID, "distance", sample.LapDistance)
		}
	}
	return nil
}

func (s *Session) handleEnd(e dispatcher.Event) error {
	m, err := payload[streaming.TelemetryEnd](e)
	if err != nil {
		return err
	}
	s.ended = true
	s.logger.Info("Telemetry playback reached the end", "timestamp", m.Timestamp)
	return nil
}

func (s *Session) handleLapEvent(e dispatcher.Event) error {
	m, err := payload[streaming.LapEvent](e)
	if err != nil {
		return err
	}
	if m.VehicleID == "" {
		return errors.New("lap event without vehicle id")
	}
	s.laps.Append(convert.LapEvent(m))
	s.lapsChanged = true
	return nil
}

func (s *Session) handleLeaderboardEntry(e dispatcher.Event) error {
	m, err := payload[streaming.LeaderboardEntry](e)
	if err != nil {
		return err
	}
	if m.VehicleID == "" {
		return errors.New("leaderboard entry without vehicle id")
	}
	s.board.Upsert(convert.LeaderboardEntry(m))
	return nil
}
