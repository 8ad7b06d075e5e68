package canbus

import (
	"context"
	"errors"
	"testing"

	"github.com/caran/canbus/signal"
)

// fakeBackend is a minimal in-memory Backend (optionally PeriodicSender and
// ReceptionSetup) for exercising Bus without a real socket.
type fakeBackend struct {
	sent        []*Frame
	periodic    bool
	setupCalls  []*int // nil entry records a data-only SetupPeriodicSend call (no interval)
	deleted     []uint32
	recvQueue   []*Frame
	recvErr     error
	closeCalled bool
}

func (b *fakeBackend) SendFrame(f *Frame) error {
	cp := *f
	cp.Data = append([]byte(nil), f.Data...)
	b.sent = append(b.sent, &cp)
	return nil
}

func (b *fakeBackend) RecvFrame(ctx context.Context) (*Frame, error) {
	if b.recvErr != nil {
		return nil, b.recvErr
	}
	if len(b.recvQueue) == 0 {
		return nil, errors.New("no frames queued")
	}
	f := b.recvQueue[0]
	b.recvQueue = b.recvQueue[1:]
	return f, nil
}

func (b *fakeBackend) Close() error { b.closeCalled = true; return nil }

func (b *fakeBackend) SetupPeriodicSend(f *Frame, interval *int, restartTimer bool) error {
	b.setupCalls = append(b.setupCalls, interval)
	return nil
}

func (b *fakeBackend) StopPeriodicSend(id uint32, format Format) error {
	b.deleted = append(b.deleted, id)
	return nil
}

func testConfig(t *testing.T, cycleMillis *int) (*Configuration, *signal.Definition) {
	t.Helper()
	fd, err := NewFrameDefinition(0x10, "engine", 8, Standard)
	if err != nil {
		t.Fatal(err)
	}
	if cycleMillis != nil {
		if err := fd.SetCycleTime(*cycleMillis); err != nil {
			t.Fatal(err)
		}
	}
	fd.AddProducer("ECU")
	sig, err := signal.New("rpm", 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	fd.Signals = append(fd.Signals, sig)

	cfg := NewConfiguration("Mainbus")
	cfg.AddFrameDefinition(fd)
	cfg.SetEgoNodeIDs([]string{"ECU"})
	return cfg, sig
}

func TestSendSignalsNonPeriodicSendsDirectly(t *testing.T) {
	cfg, _ := testConfig(t, nil)
	backend := &fakeBackend{}
	bus, err := NewBus(cfg, backend, nil)
	if err != nil {
		t.Fatal(err)
	}
	v := 100.0
	if err := bus.SendSignals(map[string]*float64{"rpm": &v}); err != nil {
		t.Fatal(err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected exactly one direct send, got %d", len(backend.sent))
	}
}

// TestSendSignalsFirstPeriodicTransitionSendsOnce verifies that the first
// transition from not-yet-started to periodic both arms the kernel timer and
// sends the frame once immediately, using the transmission status observed
// at the top of the call rather than the status after the setup step.
func TestSendSignalsFirstPeriodicTransitionSendsOnce(t *testing.T) {
	cycle := 100
	cfg, _ := testConfig(t, &cycle)
	backend := &fakeBackend{}
	bus, err := NewBus(cfg, backend, nil)
	if err != nil {
		t.Fatal(err)
	}
	v := 50.0
	if err := bus.SendSignals(map[string]*float64{"rpm": &v}); err != nil {
		t.Fatal(err)
	}
	if len(backend.setupCalls) != 1 {
		t.Fatalf("expected exactly one SetupPeriodicSend call, got %d", len(backend.setupCalls))
	}
	if backend.setupCalls[0] == nil || *backend.setupCalls[0] != cycle {
		t.Fatalf("expected the initial setup to arm the configured cycle time")
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected exactly one direct send on first transition, got %d", len(backend.sent))
	}
}

// TestSendSignalsSteadyStatePeriodicUpdatesOnly verifies that once a frame is
// already periodic, subsequent updates only re-run SetupPeriodicSend
// (data-only update, no restart) and never fall back to a direct send.
func TestSendSignalsSteadyStatePeriodicUpdatesOnly(t *testing.T) {
	cycle := 100
	cfg, _ := testConfig(t, &cycle)
	backend := &fakeBackend{}
	bus, err := NewBus(cfg, backend, nil)
	if err != nil {
		t.Fatal(err)
	}
	v := 10.0
	if err := bus.SendSignals(map[string]*float64{"rpm": &v}); err != nil {
		t.Fatal(err)
	}
	v2 := 20.0
	if err := bus.SendSignals(map[string]*float64{"rpm": &v2}); err != nil {
		t.Fatal(err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected no direct send after the frame is already periodic, got %d sends", len(backend.sent))
	}
	if len(backend.setupCalls) != 2 {
		t.Fatalf("expected two SetupPeriodicSend calls (arm + update), got %d", len(backend.setupCalls))
	}
	if backend.setupCalls[1] != nil {
		t.Fatalf("expected the steady-state update to pass a nil interval (data-only update)")
	}
}

func TestSendSignalsUnknownNameIsError(t *testing.T) {
	cfg, _ := testConfig(t, nil)
	backend := &fakeBackend{}
	bus, err := NewBus(cfg, backend, nil)
	if err != nil {
		t.Fatal(err)
	}
	v := 1.0
	if err := bus.SendSignals(map[string]*float64{"does-not-exist": &v}); err == nil {
		t.Fatal("expected an error for an undefined outbound signal name")
	}
}

func TestStopSendingDeletesEveryOutboundFrame(t *testing.T) {
	cycle := 50
	cfg, _ := testConfig(t, &cycle)
	backend := &fakeBackend{}
	bus, err := NewBus(cfg, backend, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.StopSending(); err != nil {
		t.Fatal(err)
	}
	if len(backend.deleted) != 1 || backend.deleted[0] != 0x10 {
		t.Fatalf("expected frame 0x10 to be deleted, got %v", backend.deleted)
	}
}

func TestObserverReceivesFrameAndErrorNotifications(t *testing.T) {
	cfg, _ := testConfig(t, nil)
	f, err := FromEmptyBytes(0x20, 8, Standard)
	if err != nil {
		t.Fatal(err)
	}
	backend := &fakeBackend{recvQueue: []*Frame{f}}
	obs := &recordingObserver{}
	bus, err := NewBus(cfg, backend, nil, WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bus.RecvNextFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(obs.decoded) != 1 || obs.decoded[0] != 0x20 {
		t.Fatalf("expected OnFrameDecoded(0x20), got %v", obs.decoded)
	}

	backend.recvErr = &Error{Kind: KindTimeout, Message: "deadline exceeded"}
	if _, err := bus.RecvNextFrame(context.Background()); err == nil {
		t.Fatal("expected the timeout error to propagate")
	}
	if len(obs.errors) != 1 || obs.errors[0] != "timeout" {
		t.Fatalf("expected OnError(\"timeout\", ...), got %v", obs.errors)
	}
}

type recordingObserver struct {
	decoded []uint32
	errors  []string
}

func (o *recordingObserver) OnOpcode(opcode string, frameID uint32)  {}
func (o *recordingObserver) OnFrameEncoded(frameID uint32)           {}
func (o *recordingObserver) OnFrameDecoded(frameID uint32) {
	o.decoded = append(o.decoded, frameID)
}
func (o *recordingObserver) OnError(kind string, err error) {
	o.errors = append(o.errors, kind)
}
