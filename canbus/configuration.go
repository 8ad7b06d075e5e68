package canbus

import (
	"sort"

	"github.com/caran/canbus/signal"
)

const maxFrameCycleTimeMillis = 60000

// FrameDefinition describes the static layout of one CAN frame: its
// identifier, size, cycle time, and the signals packed into it. It holds no
// live value — that is carried by a Frame.
type FrameDefinition struct {
	FrameID      uint32
	Name         string
	DLC          int
	Format       Format
	CycleTime    *int // milliseconds; nil means non-periodic
	ThrottleTime *int // milliseconds; nil means no throttling on receive
	ProducerIDs  map[string]struct{}
	Signals      []*signal.Definition

	ReceiveOnChangeOnly bool
}

// NewFrameDefinition constructs a validated FrameDefinition. dlc must lie in
// [0, 8] and is used as given; no default is applied here.
func NewFrameDefinition(frameID uint32, name string, dlc int, format Format) (*FrameDefinition, error) {
	if err := checkFrameIDAndFormat(frameID, format); err != nil {
		return nil, err
	}
	if dlc < 0 || dlc > maxDataBytes {
		return nil, newError(KindInvalid, "dlc out of range for frame 0x%X: %d", frameID, dlc)
	}
	return &FrameDefinition{
		FrameID:     frameID,
		Name:        name,
		DLC:         dlc,
		Format:      format,
		ProducerIDs: make(map[string]struct{}),
	}, nil
}

// SetCycleTime sets the periodic send interval in milliseconds. It must lie
// within [0, 60000], the cap defined by the KCD file format.
func (fd *FrameDefinition) SetCycleTime(ms int) error {
	if ms < 0 || ms > maxFrameCycleTimeMillis {
		return newError(KindInvalid, "cycletime out of range for frame 0x%X: %d", fd.FrameID, ms)
	}
	fd.CycleTime = &ms
	return nil
}

// SetThrottleTime sets the minimum interval in milliseconds between
// receive-side updates for this frame.
func (fd *FrameDefinition) SetThrottleTime(ms int) error {
	if ms < 0 || ms > maxFrameCycleTimeMillis {
		return newError(KindInvalid, "throttle_time out of range for frame 0x%X: %d", fd.FrameID, ms)
	}
	fd.ThrottleTime = &ms
	return nil
}

// AddProducer records an ECU node name as a producer of this frame.
func (fd *FrameDefinition) AddProducer(nodeID string) {
	fd.ProducerIDs[nodeID] = struct{}{}
}

// IsOutbound reports whether this frame is produced by any node in
// egoNodeIDs — and therefore should be sent rather than received. A frame
// with no declared producer, or an empty egoNodeIDs set, is always inbound.
func (fd *FrameDefinition) IsOutbound(egoNodeIDs map[string]struct{}) bool {
	if len(fd.ProducerIDs) == 0 || len(egoNodeIDs) == 0 {
		return false
	}
	for id := range egoNodeIDs {
		if _, ok := fd.ProducerIDs[id]; ok {
			return true
		}
	}
	return false
}

// SignalMask calculates an 8-byte mask with a 1 bit at every position
// occupied by one of this frame's signals. It is used as the BCM
// data-change filter for receive_on_change_only frames.
func (fd *FrameDefinition) SignalMask() ([]byte, error) {
	var maskInt uint64
	for _, sigdef := range fd.Signals {
		overview, _, err := sigdef.Overview()
		if err != nil {
			return nil, err
		}
		for pos, ch := range overview {
			if ch != ' ' {
				maskInt |= 1 << uint(len(overview)-1-pos)
			}
		}
	}
	out := make([]byte, maxDataBytes)
	for i := maxDataBytes - 1; i >= 0; i-- {
		out[i] = byte(maskInt)
		maskInt >>= 8
	}
	return out, nil
}

// Configuration holds everything that happens on one CAN bus: the frame
// definitions (and their signals), and which node IDs this program enacts.
type Configuration struct {
	BusName    string
	FrameDefs  map[uint32]*FrameDefinition
	EgoNodeIDs map[string]struct{}
}

// NewConfiguration constructs an empty Configuration for the given bus name.
func NewConfiguration(busName string) *Configuration {
	return &Configuration{
		BusName:    busName,
		FrameDefs:  make(map[uint32]*FrameDefinition),
		EgoNodeIDs: make(map[string]struct{}),
	}
}

// SetEgoNodeIDs replaces the set of node IDs this program enacts.
func (c *Configuration) SetEgoNodeIDs(ids []string) {
	c.EgoNodeIDs = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c.EgoNodeIDs[id] = struct{}{}
	}
}

// AddFrameDefinition registers a frame definition under its own frame ID.
func (c *Configuration) AddFrameDefinition(fd *FrameDefinition) {
	c.FrameDefs[fd.FrameID] = fd
}

// FindFrameIDBySignalName searches every frame definition for a signal with
// the given name and returns the owning frame's ID.
func (c *Configuration) FindFrameIDBySignalName(signalName string) (uint32, error) {
	ids := make([]uint32, 0, len(c.FrameDefs))
	for id := range c.FrameDefs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		for _, sigdef := range c.FrameDefs[id].Signals {
			if sigdef.Name == signalName {
				return id, nil
			}
		}
	}
	return 0, newError(KindInvalid, "signal name not found in configuration: %s", signalName)
}

// SetThrottleTimes sets ThrottleTime on several frame definitions at once,
// keyed by frame ID.
func (c *Configuration) SetThrottleTimes(byFrameID map[uint32]int) error {
	for id, ms := range byFrameID {
		fd, ok := c.FrameDefs[id]
		if !ok {
			return newError(KindInvalid, "frame id not found in configuration: 0x%X", id)
		}
		if err := fd.SetThrottleTime(ms); err != nil {
			return err
		}
	}
	return nil
}

// SetThrottleTimesBySignalName sets ThrottleTime on the frame definitions
// that own the named signals. Note that throttle_time is a per-frame
// attribute: setting different values for two signals sharing a frame gives
// an undefined result, just as in SetThrottleTimes.
func (c *Configuration) SetThrottleTimesBySignalName(byName map[string]int) error {
	byFrameID := make(map[uint32]int, len(byName))
	for name, ms := range byName {
		id, err := c.FindFrameIDBySignalName(name)
		if err != nil {
			return err
		}
		byFrameID[id] = ms
	}
	return c.SetThrottleTimes(byFrameID)
}

// SetReceiveOnChangeOnly marks the given frame IDs to be received only when
// their data content changes.
func (c *Configuration) SetReceiveOnChangeOnly(frameIDs []uint32) error {
	for _, id := range frameIDs {
		fd, ok := c.FrameDefs[id]
		if !ok {
			return newError(KindInvalid, "frame id not found in configuration: 0x%X", id)
		}
		fd.ReceiveOnChangeOnly = true
	}
	return nil
}

// SetReceiveOnChangeOnlyBySignalName marks the frame definitions owning the
// named signals to be received only when their data content changes.
func (c *Configuration) SetReceiveOnChangeOnlyBySignalName(names []string) error {
	seen := make(map[uint32]struct{})
	ids := make([]uint32, 0, len(names))
	for _, name := range names {
		id, err := c.FindFrameIDBySignalName(name)
		if err != nil {
			return err
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return c.SetReceiveOnChangeOnly(ids)
}
