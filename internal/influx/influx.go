package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/telemetryrush/replay/internal/channel"
	"github.com/telemetryrush/replay/internal/config"
	"github.com/telemetryrush/replay/internal/reconcile"
)

// ErrDisabled is returned by Connect when InfluxDB is switched off.
var ErrDisabled = errors.New("influx.enabled is false")

// Measurement names.
const (
	MeasurementVehicle = "vehicle_state"
	MeasurementChannel = "channel_state"
)

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	session    string
	backupFile *os.File
	mu         sync.Mutex
}

// NewManager creates a new InfluxDB manager. Points are tagged with the
// session id.
func NewManager(cfg config.InfluxConfig, session string, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		IsValid:    false,
		Logger:     log,
		BackupPath: backupPath,
		cfg:        cfg,
		session:    session,
	}
}

// Connect establishes a connection to InfluxDB. When the server cannot be
// reached, points go to a gzip line-protocol backup file instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)

	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %v", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := m.cfg.Org

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// ensure bucket exists with 30 day retention
	if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err != nil {
		m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, m.cfg.Bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 30,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error creating bucket")
			return err
		}
	}

	return nil
}

func (m *Manager) createWriter() {
	m.Writer = m.Client.WriteAPI(m.cfg.Org, m.cfg.Bucket)

	errorsCh := m.Writer.Errors()
	go func() {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}()
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsValid {
		if m.Writer == nil {
			return fmt.Errorf("influxDB bucket '%s' has no writer", m.cfg.Bucket)
		}
		m.Writer.WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %s", err)
	}
	return nil
}

// VehiclePoint converts one reconciled vehicle state.
func VehiclePoint(session string, st reconcile.VehicleState, at time.Time) *influxdb2_write.Point {
	p := influxdb2.NewPointWithMeasurement(MeasurementVehicle).
		AddTag("session", session).
		AddTag("vehicle_id", st.VehicleID).
		AddField("distance", st.Distance).
		AddField("lap_distance", st.LapDistance).
		AddField("lap", st.Lap).
		AddField("reported_lap", st.ReportedLap).
		AddField("speed_kph", st.SpeedKph).
		AddField("speed", st.Speed).
		AddField("throttle", st.Throttle).
		AddField("brake", st.Brake).
		AddField("samples", st.Samples).
		AddField("snaps", st.Snaps).
		AddField("interpolating", st.Interpolating).
		SetTime(at)
	return p
}

// TransitionPoint converts one channel state change.
func TransitionPoint(session, name string, t channel.Transition, at time.Time) *influxdb2_write.Point {
	p := influxdb2.NewPointWithMeasurement(MeasurementChannel).
		AddTag("channel", name).
		AddTag("session", session).
		AddField("from", t.From.String()).
		AddField("to", t.To.String()).
		AddField("attempt", int64(t.Attempt)).
		SetTime(at)
	if t.Err != nil {
		p.AddField("error", t.Err.Error())
	}
	return p
}

// RecordVehicles writes one point per initialized vehicle.
func (m *Manager) RecordVehicles(at time.Time, states []reconcile.VehicleState) {
	for _, st := range states {
		if !st.Initialized {
			continue
		}
		if err := m.WritePoint(VehiclePoint(m.session, st, at)); err != nil {
			m.Logger.Error().Err(err).Str("vehicle", st.VehicleID).Msg("Failed to record vehicle state")
			return
		}
	}
}

// RecordTransition writes a channel state change.
func (m *Manager) RecordTransition(name string, t channel.Transition, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	if err := m.WritePoint(TransitionPoint(m.session, name, t, at)); err != nil {
		m.Logger.Error().Err(err).Str("channel", name).Msg("Failed to record channel transition")
	}
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}
