// Package transport defines the byte sources that feed MIP frames into the
// router, and the events they report.
package transport

import (
	"context"

	"github.com/kabili207/mip-go/core/codec"
	"github.com/kabili207/mip-go/core/dispatch"
	"github.com/kabili207/mip-go/core/stream"
)

// Transport is a source of decoded MIP frames.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string
	// Start opens the underlying source and begins decoding. The provided
	// context controls the transport's lifetime.
	Start(ctx context.Context) error
	// Stop closes the source and waits for decoding to finish.
	Stop() error
	// IsConnected returns true while the source is open.
	IsConnected() bool
	// SetFrameHandler sets the callback for decoded frames.
	SetFrameHandler(fn FrameHandler)
	// SetStateHandler sets the callback for transport state changes.
	SetStateHandler(fn StateHandler)
	// Stats returns the stream counters for this transport.
	Stats() stream.Stats
}

// Publisher is implemented by transports that can forward validated frames.
type Publisher interface {
	// PublishFrame transmits the byte-exact encoding of frame.
	PublishFrame(frame *codec.RawFrame) error
}

// FrameHandler is called for every frame that passed checksum and structure
// checks, whether or not its category is known.
type FrameHandler func(result *dispatch.Result, source FrameSource)

// StateHandler is called when the transport state changes.
type StateHandler func(transport Transport, event Event)

// Event represents transport state change events.
type Event int

const (
	// EventConnected is fired when the transport connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the transport disconnects.
	EventDisconnected
	// EventReconnecting is fired when the transport is attempting to reconnect.
	EventReconnecting
	// EventError is fired when the stream ends with an error.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// FrameSource indicates where a frame was read from.
type FrameSource int

const (
	// FrameSourceSerial indicates the frame came from a serial port.
	FrameSourceSerial FrameSource = iota
	// FrameSourceMQTT indicates the frame came from raw chunks relayed over MQTT.
	FrameSourceMQTT
	// FrameSourceReplay indicates the frame came from a recorded capture.
	FrameSourceReplay
)

func (s FrameSource) String() string {
	switch s {
	case FrameSourceSerial:
		return "serial"
	case FrameSourceMQTT:
		return "mqtt"
	case FrameSourceReplay:
		return "replay"
	default:
		return "unknown"
	}
}
