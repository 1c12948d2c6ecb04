package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// captureStdout points osStdout at a pipe. The returned function restores
// it and returns what was written.
func captureStdout(t *testing.T) func() string {
	t.Helper()

	r, w, err := osPipe()
	require.NoError(t, err)

	saved := osStdout
	osStdout = w

	return func() string {
		_ = w.Close()
		osStdout = saved
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		_ = r.Close()
		return buf.String()
	}
}

func TestSetup_Destination(t *testing.T) {
	t.Run("file only", func(t *testing.T) {
		restore := captureStdout(t)
		var file bytes.Buffer
		m := NewSlogManager()
		m.Setup(Options{File: &file, Level: "info"})
		m.Logger().Info("reconciler ready")

		assert.Empty(t, restore(), "stdout stays quiet when a file is set")
		assert.Contains(t, file.String(), "reconciler ready")
	})

	t.Run("stdout without file", func(t *testing.T) {
		restore := captureStdout(t)
		m := NewSlogManager()
		m.Setup(Options{Level: "info"})
		m.Logger().Info("reconciler ready")

		assert.Contains(t, restore(), "reconciler ready")
	})
}

func TestSetup_Levels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantWarn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"error", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(Options{File: &buf, Level: tt.level})

			m.Logger().Debug("lap boundary crossed")
			m.Logger().Warn("snapped to authoritative distance")

			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("lap boundary crossed")))
			assert.Equal(t, tt.wantWarn, bytes.Contains(buf.Bytes(), []byte("snapped to authoritative")))
		})
	}
}

func TestSetup_TimesAreUTC(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Level: "info"})
	m.Logger().Info("tick")

	assert.Regexp(t, `time=\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`, buf.String())
}

func TestSetup_SecondCallReplacesOutputs(t *testing.T) {
	var before, after bytes.Buffer
	m := NewSlogManager()

	m.Setup(Options{File: &before, Level: "info"})
	m.Logger().Info("console phase")
	m.Setup(Options{File: &after, Level: "info"})
	m.Logger().Info("file phase")

	assert.Contains(t, before.String(), "console phase")
	assert.NotContains(t, before.String(), "file phase")
	assert.Contains(t, after.String(), "file phase")
}

func TestSetup_ContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	open := 2
	m := NewSlogManager()
	m.Setup(Options{
		File:    &buf,
		Level:   "info",
		Context: SessionContext(func() string { return "abc" }, func() int { return open }),
	})

	m.Logger().Info("with context")
	assert.Contains(t, buf.String(), "session=abc")
	assert.Contains(t, buf.String(), "openChannels=2")

	open = 3
	m.Logger().With("channel", "laps").Info("again")
	assert.Contains(t, buf.String(), "channel=laps")
	assert.Contains(t, buf.String(), "openChannels=3")
}

func TestSessionContext_NilSources(t *testing.T) {
	assert.Empty(t, SessionContext(nil, nil)())
	assert.Empty(t, SessionContext(func() string { return "" }, nil)())
	assert.Len(t, SessionContext(nil, func() int { return 0 })(), 1)
}

func TestSetup_GraylogReceivesJSON(t *testing.T) {
	var file, gelf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &file, Level: "info", Graylog: &gelf})

	m.Logger().Warn("divergence", "vehicle", "13")

	assert.Contains(t, file.String(), "divergence")
	assert.Contains(t, gelf.String(), `"msg":"divergence"`)
	assert.Contains(t, gelf.String(), `"vehicle":"13"`)
}

func TestSetup_OTelProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{File: &buf, Level: "info", Provider: provider, Name: "test"})
	m.Logger().Info("bridged")

	assert.Contains(t, buf.String(), "bridged")
	assert.NoError(t, m.Flush(context.Background()))
}

func TestManager_BeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Same(t, slog.Default(), m.Logger())
	assert.NoError(t, m.Flush(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"Info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"warn+2":  slog.LevelWarn + 2,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range tests {
		assert.Equal(t, want, parseLevel(input), "input %q", input)
	}
}
