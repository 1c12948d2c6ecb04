package streaming

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned for frames whose type tag is not accepted.
var ErrUnknownType = errors.New("unknown message type")

// DecodeFunc turns a raw text frame into a typed message.
type DecodeFunc func(data []byte) (Message, error)

// Decode parses any known message type.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeConnected:
		var m Connected
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeTelemetryFrame:
		var m TelemetryFrame
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeTelemetryEnd:
		var m TelemetryEnd
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeLapEvent:
		var m LapEvent
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeLeaderboardEntry:
		var m LeaderboardEntry
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeControl:
		var m Control
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return msg, nil
}

// NewDecoder returns a DecodeFunc that only accepts the given type tags.
func NewDecoder(types ...string) DecodeFunc {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return func(data []byte) (Message, error) {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if _, ok := allowed[env.Type]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
		}
		return Decode(data)
	}
}
