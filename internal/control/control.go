// Package control builds playback commands and hands them to whichever
// transport currently reaches the playback server.
package control

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/telemetryrush/replay/internal/channel"
	"github.com/telemetryrush/replay/internal/util"
	"github.com/telemetryrush/replay/pkg/streaming"
)

// Kind is the command verb on the wire.
type Kind string

const (
	KindPlay    Kind = "play"
	KindPause   Kind = "pause"
	KindReverse Kind = "reverse"
	KindRestart Kind = "restart"
	KindSpeed   Kind = "speed"
	KindSeek    Kind = "seek"
)

// Command is one playback instruction.
type Command struct {
	Kind      Kind
	Value     float64   // playback multiplier, speed only
	Timestamp time.Time // seek target, seek only
}

func Play() Command    { return Command{Kind: KindPlay} }
func Pause() Command   { return Command{Kind: KindPause} }
func Reverse() Command { return Command{Kind: KindReverse} }
func Restart() Command { return Command{Kind: KindRestart} }

// SetSpeed sets the playback multiplier.
func SetSpeed(value float64) Command { return Command{Kind: KindSpeed, Value: value} }

// Seek jumps playback to ts.
func Seek(ts time.Time) Command { return Command{Kind: KindSeek, Timestamp: ts} }

// Validate rejects commands the server cannot act on.
func (c Command) Validate() error {
	switch c.Kind {
	case KindPlay, KindPause, KindReverse, KindRestart:
		return nil
	case KindSpeed:
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) || c.Value < 0 {
			return fmt.Errorf("invalid playback speed %v", c.Value)
		}
		return nil
	case KindSeek:
		if c.Timestamp.IsZero() {
			return errors.New("seek requires a timestamp")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", c.Kind)
	}
}

// Message converts the command to its wire form.
func (c Command) Message() streaming.Control {
	m := streaming.Control{Type: streaming.TypeControl, Cmd: string(c.Kind)}
	switch c.Kind {
	case KindSpeed:
		v := c.Value
		m.Value = &v
	case KindSeek:
		m.Timestamp = util.FormatTimestamp(c.Timestamp)
	}
	return m
}

// Encode validates and serializes the command.
func (c Command) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return streaming.Encode(c.Message())
}

// FromMessage parses a wire control message.
func FromMessage(m streaming.Control) (Command, error) {
	c := Command{Kind: Kind(m.Cmd)}
	switch c.Kind {
	case KindSpeed:
		if m.Value == nil {
			return Command{}, errors.New("speed requires a value")
		}
		c.Value = *m.Value
	case KindSeek:
		ts, err := util.ParseTimestamp(m.Timestamp)
		if err != nil {
			return Command{}, fmt.Errorf("seek timestamp: %w", err)
		}
		c.Timestamp = ts
	}
	return c, c.Validate()
}

func (c Command) String() string {
	switch c.Kind {
	case KindSpeed:
		return fmt.Sprintf("%s(%g)", c.Kind, c.Value)
	case KindSeek:
		return fmt.Sprintf("%s(%s)", c.Kind, util.FormatTimestamp(c.Timestamp))
	default:
		return string(c.Kind)
	}
}

// Sender delivers an encoded command.
type Sender interface {
	Send(data []byte) error
}

// Controller submits commands. A command that cannot be delivered is
// reported and dropped; it is never retried.
type Controller struct {
	mu        sync.RWMutex
	target    Sender
	observers []func(Command)
	logger    *slog.Logger
}

// NewController returns a controller sending to target, which may be nil.
func NewController(target Sender, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{target: target, logger: logger}
}

// SetTarget swaps the transport.
func (c *Controller) SetTarget(target Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = target
}

// Observe registers fn to run after every delivered command. Observers run
// on the submitting goroutine.
func (c *Controller) Observe(fn func(Command)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Submit encodes and sends cmd. It returns false when the command was not
// delivered.
func (c *Controller) Submit(cmd Command) bool {
	data, err := cmd.Encode()
	if err != nil {
		c.logger.Warn("Rejected control command", "command", cmd.String(), "error", err)
		return false
	}

	c.mu.RLock()
	target := c.target
	observers := c.observers
	c.mu.RUnlock()

	if target == nil {
		c.logger.Warn("Control command dropped, no control channel", "command", cmd.String())
		return false
	}
	if err := target.Send(data); err != nil {
		if errors.Is(err, channel.ErrNotConnected) {
			c.logger.Warn("Control command dropped, channel not connected", "command", cmd.String())
		} else {
			c.logger.Error("Control command failed", "command", cmd.String(), "error", err)
		}
		return false
	}

	c.logger.Info("Control command sent", "command", cmd.String())
	for _, fn := range observers {
		fn(cmd)
	}
	return true
}

func (c *Controller) Play() bool                  { return c.Submit(Play()) }
func (c *Controller) Pause() bool                 { return c.Submit(Pause()) }
func (c *Controller) Reverse() bool               { return c.Submit(Reverse()) }
func (c *Controller) Restart() bool               { return c.Submit(Restart()) }
func (c *Controller) SetSpeed(value float64) bool { return c.Submit(SetSpeed(value)) }
func (c *Controller) Seek(ts time.Time) bool      { return c.Submit(Seek(ts)) }
