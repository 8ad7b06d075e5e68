package bcmcan

import "testing"

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := header{
		opcode:    OpTxSetup,
		flags:     FlagSetTimer | FlagStartTimer,
		count:     0,
		ival2Sec:  1,
		ival2Usec: 500000,
		canID:     0x123,
		nframes:   1,
	}
	buf := h.encode()
	if len(buf) != headerSize {
		t.Fatalf("expected %d-byte header, got %d", headerSize, len(buf))
	}
	got, err := decodeHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestHeaderEncodeFieldOffsets(t *testing.T) {
	h := header{opcode: OpRxChanged, flags: FlagRxFilterID, canID: 0x7FF, nframes: 1}
	buf := h.encode()
	if buf[offOpcode] != byte(OpRxChanged) {
		t.Fatalf("opcode not at offset %d", offOpcode)
	}
	if buf[offFlags] != byte(FlagRxFilterID) {
		t.Fatalf("flags not at offset %d", offFlags)
	}
	if int(buf[offCanID]) != 0xFF || buf[offCanID+1] != 0x07 {
		t.Fatalf("canID not little-endian at offset %d", offCanID)
	}
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	if _, err := decodeHeader(make([]byte, headerSize-1)); err == nil {
		t.Fatal("expected an error for a header shorter than 56 bytes")
	}
}
