// Package transport holds the small optional-interface contracts shared
// between the bridge server and whatever frame codec it is configured
// with, plus the AsyncTx transmit funnel the gateway uses to fan in
// client-originated sends onto the bus backend.
package transport

import (
	"io"

	"github.com/caran/canbus/canbus"
)

// FrameDecoder decodes a single CAN frame from a stream.
type FrameDecoder interface {
	Decode(r io.Reader) (*canbus.Frame, error)
}

// MultiFrameDecoder optionally drains multiple frames from a stream.
type MultiFrameDecoder interface {
	DecodeN(r io.Reader, max int, onFrame func(*canbus.Frame)) (int, error)
}

// FrameBatchEncoder can encode batches efficiently (either to bytes or directly to writer).
type FrameBatchEncoder interface {
	Encode([]*canbus.Frame) []byte
	EncodeTo(w io.Writer, frames []*canbus.Frame) (int, error)
}

// FrameSink is a generic CAN frame transmission target.
type FrameSink interface {
	SendFrame(*canbus.Frame) error
}
