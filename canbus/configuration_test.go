package canbus

import (
	"testing"

	"github.com/caran/canbus/signal"
)

func TestFrameDefinitionIsOutbound(t *testing.T) {
	fd, err := NewFrameDefinition(0x100, "engine", 8, Standard)
	if err != nil {
		t.Fatal(err)
	}
	fd.AddProducer("ECU")

	if fd.IsOutbound(map[string]struct{}{}) {
		t.Fatal("a frame with no ego node set must never be outbound")
	}
	if !fd.IsOutbound(map[string]struct{}{"ECU": {}}) {
		t.Fatal("a frame produced by an ego node must be outbound")
	}
	if fd.IsOutbound(map[string]struct{}{"DASH": {}}) {
		t.Fatal("a frame produced by a non-ego node must not be outbound")
	}
}

func TestFrameDefinitionWithNoProducerIsNeverOutbound(t *testing.T) {
	fd, err := NewFrameDefinition(0x101, "telemetry", 8, Standard)
	if err != nil {
		t.Fatal(err)
	}
	if fd.IsOutbound(map[string]struct{}{"ECU": {}}) {
		t.Fatal("a frame with no declared producer must always be inbound")
	}
}

func TestSignalMaskCoversOnlySignalBits(t *testing.T) {
	fd, err := NewFrameDefinition(0x200, "status", 8, Standard)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := signal.New("flag", 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	fd.Signals = append(fd.Signals, sig)

	mask, err := fd.SignalMask()
	if err != nil {
		t.Fatal(err)
	}
	if len(mask) != 8 {
		t.Fatalf("expected an 8-byte mask, got %d bytes", len(mask))
	}
	if mask[0] != 0xFF {
		t.Fatalf("expected the first byte fully masked, got 0x%X", mask[0])
	}
	for i := 1; i < len(mask); i++ {
		if mask[i] != 0 {
			t.Fatalf("expected byte %d unmasked, got 0x%X", i, mask[i])
		}
	}
}

func TestSetCycleTimeRejectsOutOfRange(t *testing.T) {
	fd, err := NewFrameDefinition(0x300, "x", 8, Standard)
	if err != nil {
		t.Fatal(err)
	}
	if err := fd.SetCycleTime(-1); err == nil {
		t.Fatal("expected error for a negative cycle time")
	}
	if err := fd.SetCycleTime(60001); err == nil {
		t.Fatal("expected error for a cycle time above the 60s KCD cap")
	}
	if err := fd.SetCycleTime(100); err != nil {
		t.Fatal(err)
	}
	if fd.CycleTime == nil || *fd.CycleTime != 100 {
		t.Fatalf("expected cycle time 100, got %v", fd.CycleTime)
	}
}

func TestFindFrameIDBySignalName(t *testing.T) {
	cfg := NewConfiguration("Mainbus")
	fd, err := NewFrameDefinition(0x400, "m", 8, Standard)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := signal.New("speed", 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	fd.Signals = append(fd.Signals, sig)
	cfg.AddFrameDefinition(fd)

	id, err := cfg.FindFrameIDBySignalName("speed")
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x400 {
		t.Fatalf("got 0x%X want 0x400", id)
	}
	if _, err := cfg.FindFrameIDBySignalName("nope"); err == nil {
		t.Fatal("expected error for an unknown signal name")
	}
}

func TestSetEgoNodeIDs(t *testing.T) {
	cfg := NewConfiguration("Mainbus")
	cfg.SetEgoNodeIDs([]string{"ECU", "BMS"})
	if _, ok := cfg.EgoNodeIDs["ECU"]; !ok {
		t.Fatal("expected ECU in ego node set")
	}
	if _, ok := cfg.EgoNodeIDs["DASH"]; ok {
		t.Fatal("did not expect DASH in ego node set")
	}
}
