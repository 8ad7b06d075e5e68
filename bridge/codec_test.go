package bridge

import (
	"bytes"
	"io"
	"testing"

	"github.com/caran/canbus/canbus"
)

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	f1, err := canbus.NewFrame(0x123, []byte{1, 2, 3}, canbus.Standard)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := canbus.NewFrame(0x1FFFFFFF, nil, canbus.Extended)
	if err != nil {
		t.Fatal(err)
	}
	c := &Codec{}
	wire := c.Encode([]*canbus.Frame{f1, f2})
	if len(wire) != 32 {
		t.Fatalf("expected 2*16=32 bytes, got %d", len(wire))
	}

	r := bytes.NewReader(wire)
	got1, err := c.Decode(r)
	if err != nil {
		t.Fatal(err)
	}
	if got1.ID != f1.ID || got1.Format != f1.Format {
		t.Fatalf("got %+v want %+v", got1, f1)
	}
	got2, err := c.Decode(r)
	if err != nil {
		t.Fatal(err)
	}
	if got2.ID != f2.ID || got2.Format != f2.Format {
		t.Fatalf("got %+v want %+v", got2, f2)
	}
	if _, err := c.Decode(r); err != io.EOF {
		t.Fatalf("expected io.EOF at a clean frame boundary, got %v", err)
	}
}

func TestCodecDecodeTruncatedFrame(t *testing.T) {
	c := &Codec{}
	r := bytes.NewReader(make([]byte, 10)) // shorter than one wire frame
	if _, err := c.Decode(r); err == nil {
		t.Fatal("expected an error for a truncated frame")
	}
}

func TestCodecDecodeNStopsAtMax(t *testing.T) {
	f, err := canbus.NewFrame(1, nil, canbus.Standard)
	if err != nil {
		t.Fatal(err)
	}
	c := &Codec{}
	wire := c.Encode([]*canbus.Frame{f, f, f})
	r := bytes.NewReader(wire)
	var got int
	n, err := c.DecodeN(r, 2, func(fr *canbus.Frame) { got++ })
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || got != 2 {
		t.Fatalf("expected DecodeN to stop at max=2, got n=%d got=%d", n, got)
	}
}
