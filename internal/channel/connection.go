// Package channel maintains one reconnecting WebSocket connection per
// replay feed. Socket goroutines only decode frames and push them to a
// Sink; all state mutation happens on the consumer side.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	ws "github.com/gorilla/websocket"
	"github.com/telemetryrush/replay/pkg/streaming"
)

var (
	// ErrNotConnected is returned by Send when the channel is not open.
	ErrNotConnected = errors.New("channel not connected")
	// ErrSendBufferFull is returned by Send when the outbound buffer is full.
	ErrSendBufferFull = errors.New("channel send buffer full")
)

const (
	sendChSize  = 256
	writeWait   = 10 * time.Second
	closeWait   = time.Second
	dialTimeout = 10 * time.Second
)

type stopper interface {
	Stop() bool
}

// Config describes one channel.
type Config struct {
	Name    string
	URL     string
	Policy  Policy
	Decoder Decoder
	Sink    Sink
	Logger  *slog.Logger
}

// Connection is a single feed connection with its own reconnect state.
// Every connect attempt gets a new id; completions carrying an older id
// are ignored.
type Connection struct {
	name   string
	url    string
	policy Policy
	decode Decoder
	sink   Sink
	logger *slog.Logger
	dialer *ws.Dialer
	now    func() time.Time
	after  func(time.Duration, func()) stopper

	mu         sync.Mutex
	state      State
	desired    bool
	attempt    uint64
	retries    int
	backoff    *backoff.ExponentialBackOff
	conn       *ws.Conn
	sendCh     chan []byte
	done       chan struct{}
	cancelDial context.CancelFunc
	retry      stopper
}

// New validates cfg and returns a disconnected Connection.
func New(cfg Config) (*Connection, error) {
	if cfg.Name == "" {
		return nil, errors.New("channel name is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid channel URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("channel URL %q must use ws or wss", cfg.URL)
	}
	if cfg.Sink == nil {
		return nil, errors.New("channel sink is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	decode := cfg.Decoder
	if decode == nil {
		decode = streaming.Decode
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Connection{
		name:    cfg.Name,
		url:     cfg.URL,
		policy:  cfg.Policy,
		decode:  decode,
		sink:    cfg.Sink,
		logger:  logger.With("channel", cfg.Name),
		dialer:  &ws.Dialer{HandshakeTimeout: dialTimeout},
		now:     time.Now,
		after:   func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
		backoff: cfg.Policy.NewBackOff(),
	}, nil
}

// Name returns the channel name.
func (c *Connection) Name() string { return c.name }

// URL returns the endpoint the channel dials.
func (c *Connection) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the id of the most recent connect attempt.
func (c *Connection) Attempt() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Retries returns the number of consecutive reconnects since the last open.
func (c *Connection) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// Connect starts an asynchronous connect attempt. It is a no-op while a
// connection is opening or open, and it cancels any scheduled reconnect.
func (c *Connection) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.desired = true
	if c.state == Connecting || c.state == Open {
		return
	}
	c.stopRetryLocked()
	c.retries = 0
	c.backoff.Reset()
	c.attempt++
	c.dialLocked(c.attempt)
}

// Disconnect closes the connection with a normal close frame and disables
// automatic reconnection until the next Connect.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.desired = false
	c.attempt++
	id := c.attempt
	c.stopRetryLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	conn := c.conn
	c.conn = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.sendCh = nil

	if conn == nil {
		c.setStateLocked(Disconnected, nil)
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Closing, nil)
	c.mu.Unlock()

	_ = conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(closeWait))
	_ = conn.Close()

	c.mu.Lock()
	if c.attempt == id {
		c.setStateLocked(Disconnected, nil)
	}
	c.mu.Unlock()
	c.logger.Info("Channel disconnected")
}

// Send queues a text frame for the write goroutine.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open || c.sendCh == nil {
		return ErrNotConnected
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Connection) dialLocked(id uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	c.cancelDial = cancel
	c.setStateLocked(Connecting, nil)
	c.logger.Debug("Dialing channel", "url", c.url, "attempt", id)
	go c.dial(ctx, cancel, id)
}

func (c *Connection) dial(ctx context.Context, cancel context.CancelFunc, id uint64) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if id != c.attempt {
		if conn != nil {
			_ = conn.Close()
		}
		c.logger.Debug("Discarding stale dial result", "attempt", id, "current", c.attempt)
		return
	}
	c.cancelDial = nil

	if err != nil {
		c.logger.Warn("Channel dial failed", "url", c.url, "attempt", id, "error", err)
		c.closedLocked(err)
		return
	}

	c.conn = conn
	c.retries = 0
	c.backoff.Reset()
	c.sendCh = make(chan []byte, sendChSize)
	c.done = make(chan struct{})
	c.setStateLocked(Open, nil)
	c.logger.Info("Channel open", "url", c.url, "attempt", id)

	go c.readLoop(conn, id)
	go c.writeLoop(conn, id, c.sendCh, c.done)
}

// readLoop decodes frames until the connection fails. Frames that cannot
// be decoded are dropped; they never close the connection.
func (c *Connection) readLoop(conn *ws.Conn, id uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if id == c.attempt && c.state == Open {
				if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					c.logger.Warn("Channel closed unexpectedly", "attempt", id, "error", err)
				} else {
					c.logger.Info("Channel closed by peer", "attempt", id, "error", err)
				}
				c.closedLocked(err)
			}
			c.mu.Unlock()
			return
		}

		msg, err := c.decode(data)
		if err != nil {
			if errors.Is(err, streaming.ErrUnknownType) {
				c.logger.Debug("Dropping message of unknown type", "error", err)
			} else {
				c.logger.Warn("Dropping malformed message", "error", err, "size", len(data))
			}
			continue
		}

		c.mu.Lock()
		current := id == c.attempt
		if current {
			c.sink.Push(Inbound{Channel: c.name, Attempt: id, Received: c.now(), Message: msg})
		}
		c.mu.Unlock()
		if !current {
			return
		}
	}
}

// writeLoop is the only writer of data frames on conn.
func (c *Connection) writeLoop(conn *ws.Conn, id uint64, sendCh <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-sendCh:
			err := conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err == nil {
				err = conn.WriteMessage(ws.TextMessage, data)
			}
			if err != nil {
				c.mu.Lock()
				if id == c.attempt && c.state == Open {
					c.logger.Warn("Channel write failed", "attempt", id, "error", err)
					c.closedLocked(err)
				}
				c.mu.Unlock()
				return
			}
		}
	}
}

// closedLocked tears down the current connection after a failure and
// schedules the next attempt when the policy allows it.
func (c *Connection) closedLocked(cause error) {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.sendCh = nil
	c.setStateLocked(Disconnected, cause)

	if !c.desired {
		return
	}
	if c.policy.Exhausted(c.retries) {
		c.logger.Error("Channel reconnect attempts exhausted", "retries", c.retries)
		return
	}
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		return
	}

	c.retries++
	c.attempt++
	id := c.attempt
	c.logger.Info("Channel reconnect scheduled", "delay", delay, "retry", c.retries, "attempt", id)
	c.retry = c.after(delay, func() { c.retryDial(id) })
}

func (c *Connection) retryDial(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id != c.attempt || !c.desired || c.state != Disconnected {
		return
	}
	c.retry = nil
	c.dialLocked(id)
}

func (c *Connection) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Connection) setStateLocked(to State, cause error) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.sink.Push(Inbound{
		Channel:  c.name,
		Attempt:  c.attempt,
		Received: c.now(),
		Transition: &Transition{
			From:    from,
			To:      to,
			Attempt: c.attempt,
			Err:     cause,
		},
	})
}
