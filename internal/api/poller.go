package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/telemetryrush/replay/internal/channel"
	"github.com/telemetryrush/replay/pkg/streaming"
)

// Channel names used for pulled data. They match the push channels so the
// consumer treats both transports alike.
const (
	ChannelTelemetry   = channel.Telemetry
	ChannelLaps        = channel.Laps
	ChannelLeaderboard = channel.Leaderboard
)

// Poller periodically pulls the playback server and pushes what changed
// onto a Sink as if it had arrived over the push channels.
type Poller struct {
	client   *Client
	sink     channel.Sink
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	greeted       bool
	lastTelemetry string
	seenLaps      int
}

// NewPoller creates a poller. interval must be positive.
func NewPoller(client *Client, sink channel.Sink, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Poller{
		client:   client,
		sink:     sink,
		interval: interval,
		logger:   logger.With("component", "poller"),
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. Individual poll failures are logged
// and retried on the next interval.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("Poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll performs one round of requests.
func (p *Poller) Poll(ctx context.Context) error {
	if !p.greeted {
		h, err := p.client.Health(ctx)
		if err != nil {
			return err
		}
		p.push(ChannelTelemetry, streaming.Connected{Type: streaming.TypeConnected, HasData: h.DataLoaded.Telemetry})
		p.push(ChannelLaps, streaming.Connected{Type: streaming.TypeConnected, HasData: h.DataLoaded.Endurance})
		p.push(ChannelLeaderboard, streaming.Connected{Type: streaming.TypeConnected, HasData: h.DataLoaded.Leaderboard})
		p.greeted = true
	}

	msg, err := p.client.Telemetry(ctx)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case streaming.TelemetryFrame:
		if m.Timestamp != p.lastTelemetry {
			p.lastTelemetry = m.Timestamp
			p.push(ChannelTelemetry, m)
		}
	case streaming.TelemetryEnd:
		if m.Timestamp != p.lastTelemetry {
			p.lastTelemetry = m.Timestamp
			p.push(ChannelTelemetry, m)
		}
	}

	events, err := p.client.Endurance(ctx)
	if err != nil {
		return err
	}
	if len(events) < p.seenLaps {
		// server restarted its replay
		p.logger.Info("Lap history shrank, replaying from start", "had", p.seenLaps, "now", len(events))
		p.seenLaps = 0
	}
	for _, e := range events[p.seenLaps:] {
		p.push(ChannelLaps, e)
	}
	p.seenLaps = len(events)

	entries, err := p.client.Leaderboard(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p.push(ChannelLeaderboard, e)
	}
	return nil
}

func (p *Poller) push(ch string, msg streaming.Message) {
	p.sink.Push(channel.Inbound{Channel: ch, Received: p.now(), Message: msg})
}
