package canbus

import (
	"bytes"
	"testing"

	"github.com/caran/canbus/signal"
)

func TestFrameWireRoundTrip(t *testing.T) {
	f, err := NewFrame(0x123, []byte{1, 2, 3, 4}, Standard)
	if err != nil {
		t.Fatal(err)
	}
	wire := f.ToWire()
	if len(wire) != 16 {
		t.Fatalf("expected 16-byte wire frame, got %d", len(wire))
	}
	got, err := FromWire(wire)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != f.ID || got.Format != f.Format || !bytes.Equal(got.Data, f.Data) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
	}
}

func TestFrameWireExtendedBit(t *testing.T) {
	f, err := NewFrame(0x1FFFFFFF, nil, Extended)
	if err != nil {
		t.Fatal(err)
	}
	wire := f.ToWire()
	got, err := FromWire(wire)
	if err != nil {
		t.Fatal(err)
	}
	if got.Format != Extended {
		t.Fatalf("expected extended format to survive the wire round trip")
	}
	if got.ID != 0x1FFFFFFF {
		t.Fatalf("got id 0x%X want 0x1FFFFFFF", got.ID)
	}
}

func TestNewFrameRejectsOutOfRangeStandardID(t *testing.T) {
	if _, err := NewFrame(0x800, nil, Standard); err == nil {
		t.Fatal("expected error for standard id above 0x7FF")
	}
}

func TestNewFrameRejectsOverlongData(t *testing.T) {
	if _, err := NewFrame(1, make([]byte, 9), Standard); err == nil {
		t.Fatal("expected error for data longer than 8 bytes")
	}
}

func TestFromWireRejectsWrongLength(t *testing.T) {
	if _, err := FromWire(make([]byte, 8)); err == nil {
		t.Fatal("expected error for a non-16-byte wire frame")
	}
}

func TestFrameSetAndGetSignal(t *testing.T) {
	def, err := signal.New("speed", 0, 16, signal.WithScale(0.1))
	if err != nil {
		t.Fatal(err)
	}
	f, err := FromEmptyBytes(0x10, 8, Standard)
	if err != nil {
		t.Fatal(err)
	}
	v := 12.3
	if err := f.SetSignal(def, &v); err != nil {
		t.Fatal(err)
	}
	got, err := f.GetSignal(def)
	if err != nil {
		t.Fatal(err)
	}
	if got < 12.2 || got > 12.4 {
		t.Fatalf("got %v want ~12.3", got)
	}
}

func TestFrameUnpackUnknownFrameIsEmpty(t *testing.T) {
	f, err := FromEmptyBytes(0x99, 8, Standard)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.Unpack(map[uint32]*FrameDefinition{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map for an undefined frame, got %v", got)
	}
}

func TestFrameUnpackDLCMismatch(t *testing.T) {
	fd, err := NewFrameDefinition(0x50, "m", 8, Standard)
	if err != nil {
		t.Fatal(err)
	}
	f, err := FromEmptyBytes(0x50, 4, Standard)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Unpack(map[uint32]*FrameDefinition{0x50: fd}); err == nil {
		t.Fatal("expected error on dlc mismatch between received frame and configuration")
	}
}
