package logging

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraylogWriter_SendsOverUDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	w, err := NewGraylogWriter(pc.LocalAddr().String())
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, Facility, w.Facility)

	_, err = w.Write([]byte(`{"msg":"channel open"}`))
	require.NoError(t, err)

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 8192)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestNewGraylogWriter_BadAddress(t *testing.T) {
	_, err := NewGraylogWriter("not an address")
	assert.Error(t, err)
}
