package channel

import "github.com/telemetryrush/replay/pkg/streaming"

// Feed names. A channel named after a feed gets that feed's decoder.
const (
	Telemetry   = "telemetry"
	Laps        = "laps"
	Leaderboard = "leaderboard"
)

// Decoder turns a raw frame into a typed message.
type Decoder = streaming.DecodeFunc

// Per-feed decoders. Frames with a type tag foreign to the feed fail with
// streaming.ErrUnknownType.
var (
	DecodeTelemetry = streaming.NewDecoder(
		streaming.TypeConnected,
		streaming.TypeTelemetryFrame,
		streaming.TypeTelemetryEnd,
	)
	DecodeLaps = streaming.NewDecoder(
		streaming.TypeConnected,
		streaming.TypeLapEvent,
	)
	DecodeLeaderboard = streaming.NewDecoder(
		streaming.TypeConnected,
		streaming.TypeLeaderboardEntry,
	)
)

// DecoderFor returns the decoder for a feed name, or the permissive
// decoder for anything else.
func DecoderFor(name string) Decoder {
	switch name {
	case Telemetry:
		return DecodeTelemetry
	case Laps:
		return DecodeLaps
	case Leaderboard:
		return DecodeLeaderboard
	default:
		return streaming.Decode
	}
}
