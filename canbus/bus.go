package canbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/caran/canbus/signal"
)

// status is the BCM transmission state of one outbound frame.
type status int

const (
	statusNonperiodic status = iota + 1
	statusPeriodic
	statusPeriodicNotYetStarted
)

// Backend is the minimum a CAN interface (raw or BCM) must implement to
// back a Bus.
type Backend interface {
	RecvFrame(ctx context.Context) (*Frame, error)
	SendFrame(f *Frame) error
	Close() error
}

// ReceiveFilterer is implemented by backends (the raw interface) that
// install kernel-side ID filters rather than explicit subscriptions.
type ReceiveFilterer interface {
	SetReceiveFilters(ids []uint32) error
}

// PeriodicSender is implemented by backends (the BCM interface) that can
// offload periodic transmission to the kernel. interval nil means "do not
// change the timing, just update the data" (ival2 = 0, no SETTIMER).
type PeriodicSender interface {
	SetupPeriodicSend(f *Frame, interval *int, restartTimer bool) error
	StopPeriodicSend(id uint32, format Format) error
}

// ReceptionSetup is implemented by backends (the BCM interface) that
// explicitly subscribe to frame IDs, optionally throttled or filtered on
// data change.
type ReceptionSetup interface {
	SetupReception(id uint32, format Format, minIntervalMillis int, dataMask []byte) error
	StopReception(id uint32, format Format) error
}

// Observer receives optional notifications of bus activity. Every method
// must tolerate being called from concurrent goroutines. A nil Observer is
// never invoked; callers that don't need observability simply omit it.
type Observer interface {
	// OnOpcode reports a BCM opcode issued to the kernel, only ever called
	// on a BCM-backed Bus. The Bus reports "tx_setup" for each periodic
	// setup SendSignals issues; deletes and receive setups are not reported.
	OnOpcode(opcode string, frameID uint32)
	// OnError reports a backend error, classified by Kind.String().
	OnError(kind string, err error)
	// OnFrameDecoded reports a frame received from the backend.
	OnFrameDecoded(frameID uint32)
	// OnFrameEncoded reports a frame handed to the backend for transmission.
	OnFrameEncoded(frameID uint32)
}

// Bus is the façade over a CAN interface: it tracks which frames are
// outbound (this program sends them) versus inbound (this program only
// receives them), holds the live outbound frame values, and drives the BCM
// periodic-transmission state machine when the backend supports it.
type Bus struct {
	config   *Configuration
	backend  Backend
	logger   *slog.Logger
	observer Observer

	mu                 sync.Mutex
	outputSignalDefs   map[string]*signal.Definition
	outputFrames       map[string]*Frame // keyed by signal name; frames are shared across signals on the same frame
	outputFrameDefs    map[uint32]*FrameDefinition
	inputFrameDefs     []*FrameDefinition
	transmissionStatus map[uint32]status
}

// BusOption configures optional Bus behavior at construction time.
type BusOption func(*Bus)

// WithObserver attaches an Observer to the Bus. Library-only callers may
// omit this entirely; the Bus stays nil-safe without it.
func WithObserver(o Observer) BusOption {
	return func(b *Bus) { b.observer = o }
}

// NewBus constructs a Bus over the given backend, partitioning cfg's frame
// definitions into outbound (produced by a node in cfg.EgoNodeIDs) and
// inbound sets, and initializing every outbound frame to its signals'
// default values.
func NewBus(cfg *Configuration, backend Backend, logger *slog.Logger, opts ...BusOption) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		config:             cfg,
		backend:            backend,
		logger:             logger,
		outputSignalDefs:   make(map[string]*signal.Definition),
		outputFrames:       make(map[string]*Frame),
		outputFrameDefs:    make(map[uint32]*FrameDefinition),
		transmissionStatus: make(map[uint32]status),
	}
	for _, o := range opts {
		o(b)
	}

	for frameID, fd := range cfg.FrameDefs {
		if !fd.IsOutbound(cfg.EgoNodeIDs) {
			b.inputFrameDefs = append(b.inputFrameDefs, fd)
			continue
		}
		b.outputFrameDefs[frameID] = fd

		if fd.CycleTime == nil || *fd.CycleTime == 0 {
			b.transmissionStatus[fd.FrameID] = statusNonperiodic
		} else {
			b.transmissionStatus[fd.FrameID] = statusPeriodicNotYetStarted
		}

		frame, err := FromEmptyBytes(frameID, fd.DLC, fd.Format)
		if err != nil {
			return nil, err
		}
		for _, sigdef := range fd.Signals {
			b.outputSignalDefs[sigdef.Name] = sigdef
			if err := frame.SetSignal(sigdef, nil); err != nil {
				return nil, err
			}
			b.outputFrames[sigdef.Name] = frame
		}
	}

	b.logger.Debug("canbus initialized", "bus", cfg.BusName, "outbound_frames", len(b.outputFrameDefs), "inbound_frames", len(b.inputFrameDefs))
	return b, nil
}

// InitReception sets up frame reception. On a raw backend this installs
// kernel-side ID filters for every inbound frame. On a BCM backend this
// explicitly subscribes to each inbound frame ID, applying throttling and
// change-detection masks per its FrameDefinition.
func (b *Bus) InitReception() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rs, ok := b.backend.(ReceptionSetup); ok {
		for _, fd := range b.inputFrameDefs {
			var mask []byte
			if fd.ReceiveOnChangeOnly {
				m, err := fd.SignalMask()
				if err != nil {
					return err
				}
				mask = m
			}
			throttle := 0
			if fd.ThrottleTime != nil {
				throttle = *fd.ThrottleTime
			}
			if err := rs.SetupReception(fd.FrameID, fd.Format, throttle, mask); err != nil {
				return err
			}
		}
		return nil
	}

	if rf, ok := b.backend.(ReceiveFilterer); ok {
		ids := make([]uint32, 0, len(b.inputFrameDefs))
		for _, fd := range b.inputFrameDefs {
			ids = append(ids, fd.FrameID)
		}
		return rf.SetReceiveFilters(ids)
	}
	return nil
}

// RecvNextFrame receives one CAN frame from the backend.
func (b *Bus) RecvNextFrame(ctx context.Context) (*Frame, error) {
	frame, err := b.backend.RecvFrame(ctx)
	if err != nil {
		b.notifyError(err)
		return nil, err
	}
	if b.observer != nil {
		b.observer.OnFrameDecoded(frame.ID)
	}
	return frame, nil
}

// notifyError reports err to the observer, classified by its Kind if it is
// a *Error, or "other" otherwise. A nil observer is a no-op.
func (b *Bus) notifyError(err error) {
	if b.observer == nil || err == nil {
		return
	}
	kind := "other"
	if ce, ok := err.(*Error); ok {
		kind = ce.Kind.String()
	}
	b.observer.OnError(kind, err)
}

// RecvNextSignals receives one CAN frame and unpacks it to signal values. If
// the frame isn't one this bus's configuration defines, an empty map is
// returned.
func (b *Bus) RecvNextSignals(ctx context.Context) (map[string]float64, error) {
	frame, err := b.backend.RecvFrame(ctx)
	if err != nil {
		return nil, err
	}
	return frame.Unpack(b.config.FrameDefs)
}

// StopReception stops BCM frame reception. It is a no-op on backends that
// don't support ReceptionSetup (the raw backend has no concept of
// unsubscribing from a kernel filter it never registered per-ID).
func (b *Bus) StopReception() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, ok := b.backend.(ReceptionSetup)
	if !ok {
		b.logger.Debug("stop_reception is not defined for this backend")
		return nil
	}
	for _, fd := range b.inputFrameDefs {
		if err := rs.StopReception(fd.FrameID, fd.Format); err != nil {
			if IsNotFound(err) {
				b.logger.Debug("frame was probably not registered by the kernel", "frame_id", fd.FrameID)
				continue
			}
			return err
		}
	}
	return nil
}

// SendSignals updates the named signals' values in their frames and sends
// (or, on a BCM backend, schedules) those frames.
//
// On the first transition of a periodic frame from not-yet-started to
// started, this issues both the periodic setup and one immediate send of
// the frame: the setup decision and the send decision are each made from the
// frame's transmission status as observed at the top of this call, and the
// setup step does not re-observe its own update before the send step runs.
func (b *Bus) SendSignals(values map[string]*float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name := range values {
		if _, ok := b.outputSignalDefs[name]; !ok {
			return newError(KindInvalid, "unknown signal name (is it defined as outbound?): %s", name)
		}
	}

	framesToSend := make(map[*Frame]struct{})
	for name, value := range values {
		sigdef := b.outputSignalDefs[name]
		frame := b.outputFrames[name]
		if err := frame.SetSignal(sigdef, value); err != nil {
			return err
		}
		framesToSend[frame] = struct{}{}
	}

	ps, periodic := b.backend.(PeriodicSender)
	for frame := range framesToSend {
		if !periodic {
			if err := b.sendFrame(frame); err != nil {
				return err
			}
			continue
		}

		st := b.transmissionStatus[frame.ID]

		if st == statusPeriodicNotYetStarted {
			cycletime := *b.outputFrameDefs[frame.ID].CycleTime
			if err := ps.SetupPeriodicSend(frame, &cycletime, true); err != nil {
				b.notifyError(err)
				return err
			}
			if b.observer != nil {
				b.observer.OnOpcode("tx_setup", frame.ID)
			}
			b.transmissionStatus[frame.ID] = statusPeriodic
		}

		if st == statusPeriodic {
			if err := ps.SetupPeriodicSend(frame, nil, false); err != nil {
				b.notifyError(err)
				return err
			}
			if b.observer != nil {
				b.observer.OnOpcode("tx_setup", frame.ID)
			}
		} else {
			if err := b.sendFrame(frame); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendFrame sends frame via the backend and notifies the observer.
func (b *Bus) sendFrame(frame *Frame) error {
	if err := b.backend.SendFrame(frame); err != nil {
		b.notifyError(err)
		return err
	}
	if b.observer != nil {
		b.observer.OnFrameEncoded(frame.ID)
	}
	return nil
}

// StartSendingAllSignals starts periodic transmission for every outbound
// frame, using each signal's default value until overridden by SendSignals.
// It is a no-op on backends that don't support PeriodicSender.
func (b *Bus) StartSendingAllSignals() error {
	b.mu.Lock()
	names := make([]string, 0, len(b.outputSignalDefs))
	for name := range b.outputSignalDefs {
		names = append(names, name)
	}
	_, periodic := b.backend.(PeriodicSender)
	b.mu.Unlock()

	if !periodic {
		b.logger.Debug("start_sending_all_signals is not defined for this backend")
		return nil
	}
	values := make(map[string]*float64, len(names))
	for _, name := range names {
		values[name] = nil
	}
	return b.SendSignals(values)
}

// SendFrame sends a single, already-built frame directly, bypassing the
// periodic-transmission state machine.
func (b *Bus) SendFrame(frame *Frame) error {
	return b.sendFrame(frame)
}

// StopSending stops periodic transmission for every outbound frame. It is a
// no-op on backends that don't support PeriodicSender.
func (b *Bus) StopSending() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps, ok := b.backend.(PeriodicSender)
	if !ok {
		b.logger.Debug("stop_sending is not defined for this backend")
		return nil
	}
	for frameID, fd := range b.outputFrameDefs {
		if err := ps.StopPeriodicSend(frameID, fd.Format); err != nil {
			if IsNotFound(err) {
				b.logger.Debug("frame was probably not registered by the kernel", "frame_id", frameID)
				continue
			}
			return err
		}
	}
	return nil
}

// Stop stops both periodic sending and reception. Reception is stopped even
// when stopping the sending fails; the first error is returned.
func (b *Bus) Stop() error {
	errSend := b.StopSending()
	errRecv := b.StopReception()
	if errSend != nil {
		return errSend
	}
	return errRecv
}

// Close releases the underlying backend.
func (b *Bus) Close() error {
	return b.backend.Close()
}

// Config returns the configuration this bus was built from.
func (b *Bus) Config() *Configuration {
	return b.config
}
