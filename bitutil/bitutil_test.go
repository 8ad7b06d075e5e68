package bitutil

import "testing"

func TestBitNumberInvolution(t *testing.T) {
	for n := 0; n < 64; n++ {
		b, err := BackwardOf(n)
		if err != nil {
			t.Fatalf("BackwardOf(%d): %v", n, err)
		}
		back, err := NormalOf(b)
		if err != nil {
			t.Fatalf("NormalOf(%d): %v", b, err)
		}
		if back != n {
			t.Errorf("involution broken: NormalOf(BackwardOf(%d))=%d", n, back)
		}
	}
}

func TestBytesToUint64RoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01},
		{0xAB, 0xCD},
		{1, 2, 3, 4, 5, 6, 7, 8},
	}
	for _, c := range cases {
		v := BytesToUint64(c)
		got := Uint64ToBytes(8, v)
		var want [8]byte
		copy(want[:], c)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("round trip mismatch for %v: got %v want %v", c, got, want[:])
			}
		}
	}
}

func TestTwosComplementInvolution(t *testing.T) {
	for bits := 1; bits <= 64; bits++ {
		maxV := int64(1)<<(uint(bits)-1) - 1
		minV := -(int64(1) << (uint(bits) - 1))
		samples := []int64{minV, minV + 1, -1, 0, 1, maxV - 1, maxV}
		for _, v := range samples {
			if v < minV || v > maxV {
				continue
			}
			enc, err := ToTwosComplement(v, bits)
			if err != nil {
				t.Fatalf("bits=%d v=%d: %v", bits, v, err)
			}
			dec, err := FromTwosComplement(enc, bits)
			if err != nil {
				t.Fatalf("bits=%d enc=%d: %v", bits, enc, err)
			}
			if dec != v {
				t.Errorf("bits=%d v=%d: round trip got %d", bits, v, dec)
			}
		}
	}
}

func TestExtractInsertRoundTrip(t *testing.T) {
	data := make([]byte, 8)
	if err := InsertUnsigned(data, false, 16, 20, 0xABCD); err != nil {
		t.Fatal(err)
	}
	got, err := ExtractUnsigned(data, false, 16, 20)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xABCD {
		t.Fatalf("got %x want %x", got, 0xABCD)
	}
}

// S2: big-endian unsigned, byte-aligned. The start bit names the field's
// least-significant bit, so the field filling byte 0 starts at bit 0.
func TestScenarioS2(t *testing.T) {
	data := []byte{0xA5, 0, 0, 0, 0, 0, 0, 0}
	got, err := ExtractUnsigned(data, true, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xA5 {
		t.Fatalf("got %x want %x", got, 0xA5)
	}
}

// S3: little-endian unsigned spanning three bytes.
func TestScenarioS3(t *testing.T) {
	data := make([]byte, 8)
	if err := InsertUnsigned(data, false, 16, 20, 0xABCD); err != nil {
		t.Fatal(err)
	}
	got, err := ExtractUnsigned(data, false, 16, 20)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xABCD {
		t.Fatalf("got %x want %x", got, 0xABCD)
	}
}
