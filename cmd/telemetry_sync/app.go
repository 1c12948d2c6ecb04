package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/telemetryrush/replay/internal/api"
	"github.com/telemetryrush/replay/internal/channel"
	"github.com/telemetryrush/replay/internal/config"
	"github.com/telemetryrush/replay/internal/geo"
	"github.com/telemetryrush/replay/internal/influx"
	"github.com/telemetryrush/replay/internal/logging"
	intOtel "github.com/telemetryrush/replay/internal/otel"
	"github.com/telemetryrush/replay/internal/reconcile"
	"github.com/telemetryrush/replay/internal/server"
	"github.com/telemetryrush/replay/internal/session"
	"github.com/telemetryrush/replay/internal/track"
)

const shutdownTimeout = 5 * time.Second

// app holds everything run starts so shutdown can release it in reverse.
type app struct {
	id      string
	started time.Time
	logger  *slog.Logger
	logs    *logging.SlogManager
	logFile *os.File
	graylog *gelf.Writer
	otel    *intOtel.Provider
	influx  *influx.Manager
	session *session.Session
	server  *server.Server

	// read by the log context provider from any goroutine
	current atomic.Pointer[session.Session]
}

func run(ctx context.Context, configDir string) error {
	a := &app{
		id:      uuid.NewString(),
		started: time.Now(),
		logs:    logging.NewSlogManager(),
	}

	// console logging until the config says otherwise
	a.logs.Setup(logging.Options{Level: "info", Name: BinaryName})
	a.logger = a.logs.Logger()
	a.logger.Info("Starting up...", "version", Version, "build", BuildDate, "session", a.id)

	if err := config.Load(configDir); err != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		a.logger.Info("Loaded config", "dir", configDir)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	defer a.shutdown()

	a.setupLogging()

	sess, err := a.buildSession(ctx)
	if err != nil {
		return err
	}
	a.session = sess
	a.current.Store(sess)
	a.registerMetrics()

	if cfg := config.GetServerConfig(); cfg.Enabled {
		a.server = server.New(cfg.Address, sess, sess.Controller(), a.logger)
		if err := a.server.Start(); err != nil {
			return err
		}
	}

	if cfg := config.GetPollConfig(); cfg.Enabled {
		a.startPoller(ctx, cfg)
	}

	if err := sess.Start(); err != nil {
		return err
	}

	interval := tickInterval(config.GetTickRate())
	a.logger.Info("Running", "tickInterval", interval)
	if err := sess.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("Shutting down...")
	return nil
}

// setupLogging opens the log file and rebuilds the slog chain with the
// file, Graylog and OTel outputs the config enables.
func (a *app) setupLogging() {
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		a.logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	}

	logPath := logging.LogFilePath(logsDir, BinaryName, a.started)
	// keep the previous run with the same timestamp around
	if _, err := os.Stat(logPath); err == nil {
		_ = os.Rename(logPath, logPath+".old")
	}

	var out io.Writer = os.Stdout
	file, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		a.logger.Error("Failed to create/open log file!", "error", err, "path", logPath)
	} else {
		a.logFile = file
		out = file
		a.logger.Info("Begin logging in logs directory", "path", logPath)
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		a.otel, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    out,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
			SessionID:    a.id,
		})
		if err != nil {
			a.logger.Error("Failed to initialize OTel provider", "error", err)
			a.otel = nil
		} else if otelCfg.Endpoint != "" {
			a.logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		} else {
			a.logger.Info("OTel provider initialized")
		}
	}

	glCfg := config.GetGraylogConfig()
	if glCfg.Enabled {
		a.graylog, err = logging.NewGraylogWriter(glCfg.Address)
		if err != nil {
			a.logger.Error("Failed to initialize Graylog writer", "error", err)
			a.graylog = nil
		}
	}

	opts := logging.Options{
		Level:   config.GetString("logLevel"),
		Name:    BinaryName,
		Context: logging.SessionContext(nil, a.openChannels),
	}
	if a.logFile != nil {
		opts.File = a.logFile
	}
	if a.graylog != nil {
		opts.Graylog = a.graylog
	}
	if a.otel != nil {
		opts.Provider = a.otel.LoggerProvider()
	}

	a.logs.Setup(opts)
	a.logger = a.logs.Logger().With("session", a.id)
}

// openChannels is safe to call before the session exists.
func (a *app) openChannels() int {
	if s := a.current.Load(); s != nil {
		return s.OpenChannels()
	}
	return 0
}

// logOutput is where the zerolog based components write.
func (a *app) logOutput() io.Writer {
	if a.logFile != nil {
		return a.logFile
	}
	return os.Stdout
}

func (a *app) buildSession(ctx context.Context) (*session.Session, error) {
	level := config.GetString("logLevel")
	zl := logging.NewZerolog(a.logOutput(), level)

	rc := config.GetReconcilerConfig()
	ts, err := setupTrack(config.GetTrackConfig(), &rc)
	if err != nil {
		return nil, err
	}
	if ts.track != nil {
		a.logger.Info("Loaded track", "name", ts.track.Name, "length", rc.PathLength,
			"centerline", ts.path != nil, "sectors", len(ts.track.Sectors))
	}

	deps := session.Deps{
		Logger:           a.logs.Logger(),
		DispatcherLogger: logging.NewDispatcherLogger(zl.With().Str("component", "dispatcher").Logger()),
		Transform:        ts.transform,
		Path:             ts.path,
		Sectors:          ts.sectors,
	}

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		backupPath := filepath.Join(config.GetString("logsDir"),
			fmt.Sprintf("%s_%s.influx.gz", BinaryName, a.started.Format("20060102_150405")))
		m := influx.NewManager(influxCfg, a.id, zl.With().Str("component", "influx").Logger(), backupPath)
		if err := m.Connect(ctx); err != nil {
			a.logger.Error("Failed to set up InfluxDB, metrics disabled", "error", err)
			_ = m.Close()
		} else {
			a.influx = m
			deps.Metrics = m
		}
	}

	sess, err := session.New(session.Config{
		ID:              a.id,
		Channels:        channelSpecs(config.GetChannelConfigs()),
		Policy:          config.GetReconnectPolicy(),
		Reconciler:      rc,
		QueueLimit:      config.GetQueueLimit(),
		MetricsInterval: influxCfg.Interval,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// registerMetrics exposes the channel count through the OTel meter.
func (a *app) registerMetrics() {
	if a.otel == nil {
		return
	}
	meter := a.otel.Meter("github.com/telemetryrush/replay/cmd/telemetry_sync")
	_, err := meter.Int64ObservableGauge("telemetry_sync.channels.open",
		metric.WithDescription("Number of feed channels in the open state"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(a.openChannels()))
			return nil
		}),
	)
	if err != nil {
		a.logger.Warn("Failed to register channel gauge", "error", err)
	}
}

func (a *app) startPoller(ctx context.Context, cfg config.PollConfig) {
	client := api.New(cfg.BaseURL)

	// check if the playback server is reachable before polling it
	if err := client.Healthcheck(ctx); err != nil {
		a.logger.Info("Playback server is offline", "url", cfg.BaseURL, "error", err)
	} else {
		a.logger.Info("Playback server is online", "url", cfg.BaseURL)
	}

	// without a telemetry socket, commands go over HTTP
	if _, ok := a.session.Channel(channel.Telemetry); !ok {
		a.session.Controller().SetTarget(client)
		a.logger.Info("Control commands routed over HTTP", "url", cfg.BaseURL)
	}

	poller := api.NewPoller(client, a.session.Sink(), cfg.Interval, a.logger)
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Poller stopped", "error", err)
		}
	}()
	a.logger.Info("Polling playback server", "url", cfg.BaseURL, "interval", cfg.Interval)
}

// shutdown releases everything in reverse start order. It is safe to call
// on a partially started app.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("Failed to shut down server", "error", err)
		}
	}
	if a.session != nil {
		a.session.Shutdown()
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.logger.Error("Failed to close InfluxDB manager", "error", err)
		}
	}
	if err := a.logs.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "flushing logs: %v\n", err)
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "shutting down OTel: %v\n", err)
		}
	}
	if a.graylog != nil {
		_ = a.graylog.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// trackSetup carries what a track file contributes to a session.
type trackSetup struct {
	track     *track.Track
	transform *geo.Transform
	path      reconcile.Path
	sectors   func(d float64) int
}

// setupTrack loads the configured track file, when there is one, and
// replaces rc.PathLength with the track's length.
func setupTrack(cfg config.TrackConfig, rc *reconcile.Config) (trackSetup, error) {
	ts := trackSetup{transform: geo.NewTransform()}
	if cfg.File == "" {
		return ts, nil
	}

	t, err := track.Load(cfg.File)
	if err != nil {
		return ts, err
	}
	if err := t.Anchor(ts.transform); err != nil {
		return ts, fmt.Errorf("anchoring track: %w", err)
	}
	line, err := t.Path(ts.transform)
	if err != nil {
		return ts, fmt.Errorf("building track path: %w", err)
	}

	ts.track = t
	// a nil *Polyline must not become a non-nil Path
	if line != nil {
		ts.path = line
	}
	if l := t.PathLength(line); l > 0 {
		rc.PathLength = l
	}
	if len(t.Sectors) > 0 {
		ts.sectors = t.SectorAt
	}
	return ts, nil
}

func channelSpecs(cfgs []config.ChannelConfig) []session.ChannelSpec {
	specs := make([]session.ChannelSpec, 0, len(cfgs))
	for _, c := range cfgs {
		specs = append(specs, session.ChannelSpec{Name: c.Name, URL: c.URL, Enabled: c.Enabled})
	}
	return specs
}

// tickInterval converts a rate in Hz to the period between ticks.
func tickInterval(rate int) time.Duration {
	if rate <= 0 {
		rate = 60
	}
	return time.Second / time.Duration(rate)
}
