// Package bridge implements the TCP bridge: a server that fans out CAN
// frames received on the bus to any number of connected clients, and
// accepts frames from those clients for transmission back onto the bus.
// The wire format is the same fixed 16-byte raw CAN frame encoding used
// internally by the raw and BCM interfaces — no separate framing layer.
package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/caran/canbus/canbus"
	"github.com/caran/canbus/internal/metrics"
	"github.com/caran/canbus/internal/transport"
)

// Codec encodes/decodes streams of fixed-size 16-byte wire frames.
// Stateless and safe for concurrent use.
type Codec struct{}

// Compile-time assertions that *Codec satisfies the optional capabilities
// the bridge server looks for.
var (
	_ transport.FrameDecoder      = (*Codec)(nil)
	_ transport.MultiFrameDecoder = (*Codec)(nil)
	_ transport.FrameBatchEncoder = (*Codec)(nil)
)

// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
var ErrTruncatedFrame = errors.New("bridge: truncated frame")

const wireFrameBytes = 16

// Encode packs frames into a single byte slice, one 16-byte wire frame
// after another.
func (c *Codec) Encode(frames []*canbus.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * wireFrameBytes)
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of frames to w and returns the
// number of bytes written.
func (c *Codec) EncodeTo(w io.Writer, frames []*canbus.Frame) (int, error) {
	var total int
	for _, f := range frames {
		n, err := w.Write(f.ToWire())
		total += n
		if err != nil {
			return total, fmt.Errorf("bridge encode frame: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one 16-byte wire frame from r. It returns io.EOF if
// called at a clean frame boundary and no more data is available.
func (c *Codec) Decode(r io.Reader) (*canbus.Frame, error) {
	var wire [wireFrameBytes]byte
	n, err := io.ReadFull(r, wire[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return nil, fmt.Errorf("bridge decode: %w", ErrTruncatedFrame)
		}
		return nil, err
	}
	f, err := canbus.FromWire(wire[:])
	if err != nil {
		metrics.IncMalformed()
		return nil, fmt.Errorf("bridge decode: %w", err)
	}
	return f, nil
}

// DecodeN decodes up to max frames (if max>0) or until EOF (if max<=0),
// invoking onFrame for each. It returns the number of frames decoded and
// the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(*canbus.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
