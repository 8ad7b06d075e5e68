package metrics

// Observer implements canbus.Observer, routing façade activity into this
// package's counters instead of requiring canbus itself to import
// Prometheus. Its methods satisfy the canbus.Observer interface structurally
// (no import of package canbus here, to keep metrics a leaf dependency).
type Observer struct {
	bcm bool // true for a BCM-backed bus, false for raw
}

// NewObserver returns an Observer ready to attach to a canbus.Bus via
// canbus.WithObserver. bcm selects which rx/tx counters OnFrameDecoded and
// OnFrameEncoded feed; OnOpcode always feeds the BCM opcode counters, since
// only a BCM backend ever reports opcodes.
func NewObserver(bcm bool) *Observer { return &Observer{bcm: bcm} }

func (o *Observer) OnOpcode(opcode string, _ uint32) {
	IncBCMTxOp(opcode)
}

func (o *Observer) OnError(kind string, _ error) {
	switch kind {
	case "not_found":
		IncError(ErrBCMNotFound)
	default:
		IncError(kind)
	}
}

func (o *Observer) OnFrameDecoded(_ uint32) {
	if o.bcm {
		IncBCMRx()
		return
	}
	IncRawRx()
}

func (o *Observer) OnFrameEncoded(_ uint32) {
	if o.bcm {
		IncBCMTxOp("tx_send")
		return
	}
	IncRawTx()
}
