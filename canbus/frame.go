package canbus

import (
	"encoding/binary"

	"github.com/caran/canbus/signal"
)

// Format is a CAN frame's identifier format.
type Format int

const (
	Standard Format = iota
	Extended
)

func (f Format) String() string {
	if f == Extended {
		return "extended"
	}
	return "standard"
}

const (
	maxFrameIDStandard = 0x7FF
	maxFrameIDExtended = 0x1FFFFFFF

	maskExtendedFrameBit = 0x80000000
	maskIDOnly           = 0x1FFFFFFF

	maxDataBytes   = 8
	wireFrameBytes = 16 // 4 (id) + 1 (dlc) + 3 (pad) + 8 (data)
)

// Frame is a single CAN frame: an identifier, its format, and up to 8 bytes
// of payload. Frame carries no knowledge of which signals live inside it —
// that comes from a FrameDefinition.
type Frame struct {
	ID     uint32
	Format Format
	Data   []byte
}

// checkFrameIDAndFormat validates id against the range permitted by format.
func checkFrameIDAndFormat(id uint32, format Format) error {
	switch format {
	case Standard:
		if id > maxFrameIDStandard {
			return newError(KindInvalid, "frame id 0x%X out of range for standard format (max 0x%X)", id, maxFrameIDStandard)
		}
	case Extended:
		if id > maxFrameIDExtended {
			return newError(KindInvalid, "frame id 0x%X out of range for extended format (max 0x%X)", id, maxFrameIDExtended)
		}
	default:
		return newError(KindInvalid, "unknown frame format: %v", format)
	}
	return nil
}

// NewFrame constructs a Frame, validating the identifier against its format
// and rejecting payloads longer than 8 bytes.
func NewFrame(id uint32, data []byte, format Format) (*Frame, error) {
	if err := checkFrameIDAndFormat(id, format); err != nil {
		return nil, err
	}
	if len(data) > maxDataBytes {
		return nil, newError(KindInvalid, "frame data too long: %d bytes (max %d)", len(data), maxDataBytes)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Frame{ID: id, Format: format, Data: buf}, nil
}

// FromEmptyBytes builds a Frame of the given id and format with dlc bytes of
// zeroed payload, ready to have signal values set into it.
func FromEmptyBytes(id uint32, dlc int, format Format) (*Frame, error) {
	if dlc < 0 || dlc > maxDataBytes {
		return nil, newError(KindInvalid, "dlc out of range: %d", dlc)
	}
	return NewFrame(id, make([]byte, dlc), format)
}

// ToWire encodes the frame into the 16-byte SocketCAN raw frame wire format:
// a little-endian 4-byte CAN ID (with the extended-frame bit set when
// applicable), a 1-byte DLC, 3 pad bytes, and 8 data bytes (zero-padded).
func (f *Frame) ToWire() []byte {
	out := make([]byte, wireFrameBytes)
	idField := f.ID
	if f.Format == Extended {
		idField |= maskExtendedFrameBit
	}
	binary.LittleEndian.PutUint32(out[0:4], idField)
	out[4] = byte(len(f.Data))
	copy(out[8:8+len(f.Data)], f.Data)
	return out
}

// FromWire decodes a 16-byte SocketCAN raw frame.
func FromWire(wire []byte) (*Frame, error) {
	if len(wire) != wireFrameBytes {
		return nil, newError(KindInvalid, "wire frame must be %d bytes, got %d", wireFrameBytes, len(wire))
	}
	idField := binary.LittleEndian.Uint32(wire[0:4])
	format := Standard
	if idField&maskExtendedFrameBit != 0 {
		format = Extended
	}
	id := idField & maskIDOnly
	dlc := int(wire[4])
	if dlc > maxDataBytes {
		return nil, newError(KindInvalid, "wire frame dlc out of range: %d", dlc)
	}
	data := make([]byte, dlc)
	copy(data, wire[8:8+dlc])
	return &Frame{ID: id, Format: format, Data: data}, nil
}

// GetSignal decodes def's physical value out of this frame's payload.
func (f *Frame) GetSignal(def *signal.Definition) (float64, error) {
	v, err := def.Decode(f.Data)
	if err != nil {
		return 0, wrapError(KindInvalid, err, "decoding signal %q from frame 0x%X", def.Name, f.ID)
	}
	return v, nil
}

// SetSignal encodes value into this frame's payload at def's bit position.
// A nil value substitutes def's default.
func (f *Frame) SetSignal(def *signal.Definition, value *float64) error {
	if def.MinimumDLC() > len(f.Data) {
		return newError(KindInvalid, "frame 0x%X too short for signal %q: have %d bytes, need %d", f.ID, def.Name, len(f.Data), def.MinimumDLC())
	}
	if err := def.Encode(f.Data, value); err != nil {
		return wrapError(KindInvalid, err, "encoding signal %q into frame 0x%X", def.Name, f.ID)
	}
	return nil
}

// Unpack decodes every signal defined for this frame's ID into a map keyed
// by signal name. If frameDefs has no definition for this frame's ID, an
// empty (non-nil) map is returned — the frame is simply not one this
// configuration cares about.
func (f *Frame) Unpack(frameDefs map[uint32]*FrameDefinition) (map[string]float64, error) {
	result := make(map[string]float64)
	def, ok := frameDefs[f.ID]
	if !ok {
		return result, nil
	}
	if def.DLC != len(f.Data) {
		return nil, newError(KindPayloadLengthMismatch, "frame 0x%X: received dlc %d does not match configured dlc %d", f.ID, len(f.Data), def.DLC)
	}
	for _, sigdef := range def.Signals {
		v, err := f.GetSignal(sigdef)
		if err != nil {
			return nil, err
		}
		result[sigdef.Name] = v
	}
	return result, nil
}
