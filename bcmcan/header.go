package bcmcan

import (
	"encoding/binary"
	"fmt"
)

// Opcode is a BCM command/notification code. Values match
// include/uapi/linux/can/bcm.h.
type Opcode uint32

const (
	OpTxSetup   Opcode = 1
	OpTxDelete  Opcode = 2
	OpTxRead    Opcode = 3
	OpTxSend    Opcode = 4
	OpRxSetup   Opcode = 5
	OpRxDelete  Opcode = 6
	OpRxRead    Opcode = 7
	OpTxStatus  Opcode = 8
	OpTxExpired Opcode = 9
	OpRxStatus  Opcode = 10
	OpRxTimeout Opcode = 11
	OpRxChanged Opcode = 12
)

// Flag bits for the BCM header's flags field.
const (
	FlagSetTimer         uint32 = 0x0001
	FlagStartTimer       uint32 = 0x0002
	FlagTxCountEvt       uint32 = 0x0004
	FlagTxAnnounce       uint32 = 0x0008
	FlagTxCPCanID        uint32 = 0x0010
	FlagRxFilterID       uint32 = 0x0020
	FlagRxCheckDLC       uint32 = 0x0040
	FlagRxNoAutotimer    uint32 = 0x0080
	FlagRxAnnounceResume uint32 = 0x0100
	FlagTxResetMultiIdx  uint32 = 0x0200
	FlagRxRTRFrame       uint32 = 0x0400
)

// headerSize is struct bcm_msg_head on a 64-bit-long platform: opcode(4) +
// flags(4) + count(4) + 4 bytes of alignment padding before the two
// platform-`long` interval pairs (8 bytes each), followed by the combined
// CAN ID and frame count (4 bytes each). 12 + 4 + 32 + 8 = 56 bytes.
//
// This layout is specific to 64-bit-long Linux targets (amd64, arm64). A
// 32-bit-long target (386, arm) uses 4-byte interval fields and a different
// total size; this package does not support those targets.
const headerSize = 56

const (
	offOpcode    = 0
	offFlags     = 4
	offCount     = 8
	offIval1Sec  = 16
	offIval1Usec = 24
	offIval2Sec  = 32
	offIval2Usec = 40
	offCanID     = 48
	offNFrames   = 52
)

// header is the 56-byte struct bcm_msg_head.
type header struct {
	opcode    Opcode
	flags     uint32
	count     uint32
	ival1Sec  int64
	ival1Usec int64
	ival2Sec  int64
	ival2Usec int64
	canID     uint32
	nframes   uint32
}

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[offOpcode:], uint32(h.opcode))
	binary.LittleEndian.PutUint32(buf[offFlags:], h.flags)
	binary.LittleEndian.PutUint32(buf[offCount:], h.count)
	binary.LittleEndian.PutUint64(buf[offIval1Sec:], uint64(h.ival1Sec))
	binary.LittleEndian.PutUint64(buf[offIval1Usec:], uint64(h.ival1Usec))
	binary.LittleEndian.PutUint64(buf[offIval2Sec:], uint64(h.ival2Sec))
	binary.LittleEndian.PutUint64(buf[offIval2Usec:], uint64(h.ival2Usec))
	binary.LittleEndian.PutUint32(buf[offCanID:], h.canID)
	binary.LittleEndian.PutUint32(buf[offNFrames:], h.nframes)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("bcmcan: short BCM header: got %d bytes, want %d", len(buf), headerSize)
	}
	return header{
		opcode:    Opcode(binary.LittleEndian.Uint32(buf[offOpcode:])),
		flags:     binary.LittleEndian.Uint32(buf[offFlags:]),
		count:     binary.LittleEndian.Uint32(buf[offCount:]),
		ival1Sec:  int64(binary.LittleEndian.Uint64(buf[offIval1Sec:])),
		ival1Usec: int64(binary.LittleEndian.Uint64(buf[offIval1Usec:])),
		ival2Sec:  int64(binary.LittleEndian.Uint64(buf[offIval2Sec:])),
		ival2Usec: int64(binary.LittleEndian.Uint64(buf[offIval2Usec:])),
		canID:     binary.LittleEndian.Uint32(buf[offCanID:]),
		nframes:   binary.LittleEndian.Uint32(buf[offNFrames:]),
	}, nil
}

