package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "telemetry-sync",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
		SessionID:    "0b7c3c1e-session",
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())

	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutOutputs(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "telemetry-sync"})
	assert.ErrorIs(t, err, ErrNoOutputs)
}

func TestNew_ExportsToWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:     true,
		ServiceName: "telemetry-sync",
		LogWriter:   &buf,
		SessionID:   "run-7",
	})
	require.NoError(t, err)

	var rec log.Record
	rec.SetBody(log.StringValue("channel open"))
	p.LoggerProvider().Logger("test").Emit(context.Background(), rec)

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "channel open")
	assert.Contains(t, buf.String(), "run-7")
}
