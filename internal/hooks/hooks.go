// Package hooks implements the application-facing callback surface of
// spec.md §6: a struct of function fields the client and stream state
// machines invoke on lifecycle events, plus a default logging
// implementation for tests and the demo harness.
package hooks

import (
	"github.com/rs/zerolog"

	"github.com/alxayo/go-kvsproducer/internal/logger"
)

// AckKind classifies a fragment ACK as reported by the service on the
// PUT response stream.
type AckKind int

const (
	AckBuffering AckKind = iota
	AckReceived
	AckPersisted
	AckError
)

func (k AckKind) String() string {
	switch k {
	case AckBuffering:
		return "BUFFERING"
	case AckReceived:
		return "RECEIVED"
	case AckPersisted:
		return "PERSISTED"
	case AckError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Callbacks is the full application-facing event surface, one function
// field per spec.md §6 callback. Any field may be left nil; callers must
// check before invoking (the helper methods below do this for them). Every
// callback identifies its stream by name, since one application may run
// several concurrent streams through a single Client.
type Callbacks struct {
	OnStreamReady            func(streamName string)
	OnStreamClosed           func(streamName string)
	OnDataAvailable          func(streamName string, duration uint64, size uint32)
	OnConnectionStale        func(streamName string, lastAckAge uint64)
	OnLatencyPressure        func(streamName string, currentDuration uint64)
	OnBufferDurationOverflow func(streamName string)
	OnFragmentAck            func(streamName string, fragmentTimecode uint64, kind AckKind)
	OnDroppedFrame           func(streamName string, timecode uint64)
	OnDroppedFragment        func(streamName string, timecode uint64)
	OnStreamError            func(streamName string, fragmentTimecode uint64, code string)
	OnStorageOverflow        func(streamName string, remainingBytes uint64)
}

// StreamReady and the helper methods that follow each safely invoke one
// callback field, silently no-oping when the application left it unset
// (or when c itself is nil). Stream/client code should always call
// through these helpers rather than invoking Callbacks fields directly.
func (c *Callbacks) StreamReady(streamName string) {
	if c != nil && c.OnStreamReady != nil {
		c.OnStreamReady(streamName)
	}
}

func (c *Callbacks) StreamClosed(streamName string) {
	if c != nil && c.OnStreamClosed != nil {
		c.OnStreamClosed(streamName)
	}
}

func (c *Callbacks) DataAvailable(streamName string, duration uint64, size uint32) {
	if c != nil && c.OnDataAvailable != nil {
		c.OnDataAvailable(streamName, duration, size)
	}
}

func (c *Callbacks) ConnectionStale(streamName string, lastAckAge uint64) {
	if c != nil && c.OnConnectionStale != nil {
		c.OnConnectionStale(streamName, lastAckAge)
	}
}

func (c *Callbacks) LatencyPressure(streamName string, currentDuration uint64) {
	if c != nil && c.OnLatencyPressure != nil {
		c.OnLatencyPressure(streamName, currentDuration)
	}
}

func (c *Callbacks) BufferDurationOverflow(streamName string) {
	if c != nil && c.OnBufferDurationOverflow != nil {
		c.OnBufferDurationOverflow(streamName)
	}
}

func (c *Callbacks) FragmentAck(streamName string, fragmentTimecode uint64, kind AckKind) {
	if c != nil && c.OnFragmentAck != nil {
		c.OnFragmentAck(streamName, fragmentTimecode, kind)
	}
}

func (c *Callbacks) DroppedFrame(streamName string, timecode uint64) {
	if c != nil && c.OnDroppedFrame != nil {
		c.OnDroppedFrame(streamName, timecode)
	}
}

func (c *Callbacks) DroppedFragment(streamName string, timecode uint64) {
	if c != nil && c.OnDroppedFragment != nil {
		c.OnDroppedFragment(streamName, timecode)
	}
}

func (c *Callbacks) StreamError(streamName string, fragmentTimecode uint64, code string) {
	if c != nil && c.OnStreamError != nil {
		c.OnStreamError(streamName, fragmentTimecode, code)
	}
}

func (c *Callbacks) StorageOverflow(streamName string, remainingBytes uint64) {
	if c != nil && c.OnStorageOverflow != nil {
		c.OnStorageOverflow(streamName, remainingBytes)
	}
}

// NewLoggingCallbacks returns a Callbacks that logs every event through
// the module's structured logger, analogous to the teacher's stdio hook
// backend. Useful as a default for cmd/kvsdemo and for tests that only
// care that an event fired.
func NewLoggingCallbacks() *Callbacks {
	log := logger.Logger()
	return &Callbacks{
		OnStreamReady: func(streamName string) {
			withStream(log, streamName).Info().Msg("stream ready")
		},
		OnStreamClosed: func(streamName string) {
			withStream(log, streamName).Info().Msg("stream closed")
		},
		OnDataAvailable: func(streamName string, duration uint64, size uint32) {
			withStream(log, streamName).Debug().
				Uint64("duration", duration).Uint32("size", size).
				Msg("data available")
		},
		OnConnectionStale: func(streamName string, lastAckAge uint64) {
			withStream(log, streamName).Warn().
				Uint64("last_ack_age", lastAckAge).
				Msg("connection stale")
		},
		OnLatencyPressure: func(streamName string, currentDuration uint64) {
			withStream(log, streamName).Warn().
				Uint64("current_duration", currentDuration).
				Msg("latency pressure")
		},
		OnBufferDurationOverflow: func(streamName string) {
			withStream(log, streamName).Warn().Msg("buffer duration overflow")
		},
		OnFragmentAck: func(streamName string, fragmentTimecode uint64, kind AckKind) {
			withStream(log, streamName).Debug().
				Uint64("fragment_timecode", fragmentTimecode).
				Str("kind", kind.String()).
				Msg("fragment ack")
		},
		OnDroppedFrame: func(streamName string, timecode uint64) {
			withStream(log, streamName).Warn().
				Uint64("timecode", timecode).
				Msg("dropped frame")
		},
		OnDroppedFragment: func(streamName string, timecode uint64) {
			withStream(log, streamName).Warn().
				Uint64("timecode", timecode).
				Msg("dropped fragment")
		},
		OnStreamError: func(streamName string, fragmentTimecode uint64, code string) {
			withStream(log, streamName).Error().
				Uint64("fragment_timecode", fragmentTimecode).
				Str("code", code).
				Msg("stream error")
		},
		OnStorageOverflow: func(streamName string, remainingBytes uint64) {
			withStream(log, streamName).Error().
				Uint64("remaining_bytes", remainingBytes).
				Msg("storage overflow")
		},
	}
}

func withStream(l *zerolog.Logger, streamName string) *zerolog.Logger {
	wl := logger.WithStream(l, streamName)
	return &wl
}
