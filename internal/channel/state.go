package channel

import (
	"time"

	"github.com/telemetryrush/replay/pkg/streaming"
)

// State is the lifecycle position of a Connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition records a state change of one channel.
type Transition struct {
	From    State
	To      State
	Attempt uint64
	Err     error
}

// Inbound is what a channel hands to the consumer: either a decoded
// message or a state transition, never both.
type Inbound struct {
	Channel    string
	Attempt    uint64
	Received   time.Time
	Message    streaming.Message
	Transition *Transition
}

// Sink receives inbound items from socket goroutines. Implementations must
// be safe for concurrent use and must not block.
type Sink interface {
	Push(items ...Inbound)
}
