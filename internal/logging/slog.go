package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// replaced in tests
var (
	osStdout io.Writer = os.Stdout
	osPipe             = os.Pipe
)

// Options selects the outputs of a SlogManager.
type Options struct {
	// File receives text records. When nil, records go to stdout instead.
	File  io.Writer
	Level string
	// Provider enables the OpenTelemetry bridge when non-nil.
	Provider *sdklog.LoggerProvider
	// Graylog receives one JSON record per write when non-nil.
	Graylog io.Writer
	// Context adds dynamic attributes to every record.
	Context ContextProvider
	// Name identifies the logger in OTel records.
	Name string
}

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel accepts slog level names in any case, with an optional
// offset such as "warn+2". Anything else is info.
func parseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Setup (re)builds the logger from opts. Records go to the file, or to
// stdout without one, plus every optional sink that is set.
func (m *SlogManager) Setup(opts Options) {
	m.logProvider = opts.Provider

	hopts := &slog.HandlerOptions{
		Level:       parseLevel(opts.Level),
		ReplaceAttr: utcTime,
	}

	out := opts.File
	if out == nil {
		out = osStdout
	}
	handlers := []slog.Handler{slog.NewTextHandler(out, hopts)}

	if opts.Graylog != nil {
		handlers = append(handlers, slog.NewJSONHandler(opts.Graylog, hopts))
	}
	if opts.Provider != nil {
		name := opts.Name
		if name == "" {
			name = "telemetry-sync"
		}
		handlers = append(handlers, otelslog.NewHandler(name, otelslog.WithLoggerProvider(opts.Provider)))
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", opts.Level)
}

// utcTime renders record times as RFC3339 in UTC.
func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
