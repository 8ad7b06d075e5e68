package kcd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caran/canbus/canbus"
	"github.com/caran/canbus/signal"
)

const sampleKCD = `<?xml version="1.0" encoding="UTF-8"?>
<NetworkDefinition xmlns="http://kayak.2codeornot2code.org/1.0">
  <Document/>
  <Bus name="Mainbus">
    <Message id="0x100" name="EngineStatus" length="8" interval="100">
      <Producer>
        <NodeRef id="ECU"/>
      </Producer>
      <Signal name="rpm" offset="0" length="16" endianess="big">
        <Value slope="0.25" intercept="-10" unit="rpm" type="unsigned"/>
      </Signal>
      <Signal name="flag" offset="16" length="1"/>
    </Message>
  </Bus>
</NetworkDefinition>
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bus.kcd")
	if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestReadParsesFrameAndSignals(t *testing.T) {
	path := writeTemp(t, sampleKCD)
	cfg, err := Read(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BusName != "Mainbus" {
		t.Fatalf("got bus name %q want Mainbus", cfg.BusName)
	}
	fd, ok := cfg.FrameDefs[0x100]
	if !ok {
		t.Fatal("expected frame 0x100 to be parsed")
	}
	if fd.Name != "EngineStatus" || fd.DLC != 8 {
		t.Fatalf("got %+v", fd)
	}
	if fd.CycleTime == nil || *fd.CycleTime != 100 {
		t.Fatalf("expected cycle time 100, got %v", fd.CycleTime)
	}
	if _, ok := fd.ProducerIDs["ECU"]; !ok {
		t.Fatal("expected ECU as a producer")
	}
	if len(fd.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(fd.Signals))
	}
	rpm := fd.Signals[0]
	if rpm.Name != "rpm" || rpm.Endianness != signal.Big || rpm.Scale != 0.25 || rpm.Offset != -10 {
		t.Fatalf("got %+v", rpm)
	}
}

func TestReadDefaultsBusNameToFirstAlphabetically(t *testing.T) {
	doc := `<?xml version="1.0"?>
<NetworkDefinition xmlns="http://kayak.2codeornot2code.org/1.0">
  <Document/>
  <Bus name="Zbus"><Message id="0x1" name="a"><Signal name="s" offset="0"/></Message></Bus>
  <Bus name="Abus"><Message id="0x2" name="b"><Signal name="t" offset="0"/></Message></Bus>
</NetworkDefinition>
`
	path := writeTemp(t, doc)
	cfg, err := Read(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BusName != "Abus" {
		t.Fatalf("got %q want Abus (alphabetically first)", cfg.BusName)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	cfg := canbus.NewConfiguration("Mainbus")
	fd, err := canbus.NewFrameDefinition(0x200, "Cruise", 8, canbus.Standard)
	if err != nil {
		t.Fatal(err)
	}
	if err := fd.SetCycleTime(50); err != nil {
		t.Fatal(err)
	}
	fd.AddProducer("ECU")
	sig, err := signal.New("speed", 0, 16, signal.WithScale(0.1), signal.WithUnit("km/h"))
	if err != nil {
		t.Fatal(err)
	}
	fd.Signals = append(fd.Signals, sig)
	cfg.AddFrameDefinition(fd)

	path := filepath.Join(t.TempDir(), "out.kcd")
	if err := Write(cfg, path); err != nil {
		t.Fatal(err)
	}

	got, err := Read(path, "")
	if err != nil {
		t.Fatal(err)
	}
	gotFD, ok := got.FrameDefs[0x200]
	if !ok {
		t.Fatal("expected frame 0x200 to survive the round trip")
	}
	if gotFD.Name != "Cruise" || gotFD.DLC != 8 {
		t.Fatalf("got %+v", gotFD)
	}
	if gotFD.CycleTime == nil || *gotFD.CycleTime != 50 {
		t.Fatalf("expected cycle time 50 to survive the round trip, got %v", gotFD.CycleTime)
	}
	if len(gotFD.Signals) != 1 || gotFD.Signals[0].Scale != 0.1 || gotFD.Signals[0].Unit != "km/h" {
		t.Fatalf("got %+v", gotFD.Signals)
	}
}

func TestWriteOmitsDefaultSlopeAndIntercept(t *testing.T) {
	cfg := canbus.NewConfiguration("Mainbus")
	fd, err := canbus.NewFrameDefinition(0x300, "Plain", 8, canbus.Standard)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := signal.New("flag", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	fd.Signals = append(fd.Signals, sig)
	cfg.AddFrameDefinition(fd)

	path := filepath.Join(t.TempDir(), "plain.kcd")
	if err := Write(cfg, path); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "slope") || strings.Contains(string(raw), "intercept") {
		t.Fatalf("expected default slope=1/intercept=0 to be omitted, got: %s", raw)
	}
}
