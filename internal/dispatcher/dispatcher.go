package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNoHandler is returned by Dispatch for event types nobody registered.
var ErrNoHandler = errors.New("no handler registered")

// Event is one decoded feed message on its way to a handler.
type Event struct {
	Type     string
	Channel  string
	Payload  any
	Received time.Time
}

// HandlerFunc processes an event. Handlers run synchronously on the
// goroutine calling Dispatch.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to registered handlers by type tag.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger

	backlog   metric.Int64ObservableGauge
	processed metric.Int64Counter
	failed    metric.Int64Counter
	unhandled metric.Int64Counter

	// backlog sources for the gauge callback
	mu      sync.RWMutex
	sources map[string]func() int64
}

// New creates a Dispatcher. Instruments come from the global OTel meter,
// which is a no-op until a provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		sources:  make(map[string]func() int64),
		logger:   logger,
	}
	m := meter()

	var err error
	d.backlog, err = m.Int64ObservableGauge(
		"dispatcher.backlog",
		metric.WithDescription("Current number of items waiting for the next tick"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating backlog gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for name, fn := range d.sources {
				o.ObserveInt64(d.backlog, fn(),
					metric.WithAttributes(attribute.String("source", name)))
			}
			return nil
		},
		d.backlog,
	)
	if err != nil {
		return nil, fmt.Errorf("registering backlog callback: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&d.processed, "dispatcher.events.processed", "Events handled without error"},
		{&d.failed, "dispatcher.events.failed", "Events whose handler returned an error"},
		{&d.unhandled, "dispatcher.events.unhandled", "Events with no handler for their type"},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	return d, nil
}

// Register adds a handler for the given event type with optional configuration.
func (d *Dispatcher) Register(eventType string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.logged {
		handler = d.withLogging(eventType, handler)
	}

	d.handlers[eventType] = handler
}

// ObserveBacklog reports fn under the given source name on the backlog gauge.
func (d *Dispatcher) ObserveBacklog(source string, fn func() int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources[source] = fn
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) error {
	typeAttr := metric.WithAttributes(attribute.String("type", e.Type))

	h, ok := d.handlers[e.Type]
	if !ok {
		d.unhandled.Add(context.Background(), 1, typeAttr)
		return fmt.Errorf("%w: %s", ErrNoHandler, e.Type)
	}

	err := h(e)
	if err != nil {
		d.failed.Add(context.Background(), 1, typeAttr)
		return err
	}
	d.processed.Add(context.Background(), 1, typeAttr)
	return nil
}

// HasHandler returns true if a handler is registered for the event type.
func (d *Dispatcher) HasHandler(eventType string) bool {
	_, ok := d.handlers[eventType]
	return ok
}

func (d *Dispatcher) withLogging(eventType string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling event", "type", eventType, "channel", e.Channel)

		err := h(e)

		if err != nil {
			d.logger.Error("event failed", "type", eventType, "channel", e.Channel, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "type", eventType, "duration", time.Since(start))
		}

		return err
	}
}
