//go:build linux

// Package bcmcan implements a CAN interface over the Linux SocketCAN
// Broadcast Manager (AF_CAN/SOCK_DGRAM/CAN_BCM): kernel-offloaded periodic
// transmission and receive throttling/change-filtering.
package bcmcan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/caran/canbus/bitutil"
	"github.com/caran/canbus/canbus"
)

const (
	maxBCMMessageBytes = 1024

	// pollInterval bounds how long a blocking Read can hold the socket
	// before RecvFrame re-checks ctx, mirroring rawcan's polling recv.
	pollInterval = 200 * time.Millisecond
)

// Conn is a connected BCM socket, bound to one CAN interface.
type Conn struct {
	fd    int
	iface string
}

// Open connects a new BCM socket to the named Linux network interface.
func Open(iface string) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_DGRAM, unix.CAN_BCM)
	if err != nil {
		return nil, fmt.Errorf("bcmcan: socket: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bcmcan: interface %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bcmcan: connect %q: %w", iface, err)
	}
	if err := setReadTimeout(fd, pollInterval); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bcmcan: set read timeout: %w", err)
	}
	return &Conn{fd: fd, iface: iface}, nil
}

func setReadTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

func frameIDField(id uint32, format canbus.Format) uint32 {
	if format == canbus.Extended {
		return id | 0x80000000
	}
	return id
}

func splitFrameIDField(field uint32) (uint32, canbus.Format) {
	if field&0x80000000 != 0 {
		return field & 0x1FFFFFFF, canbus.Extended
	}
	return field & 0x1FFFFFFF, canbus.Standard
}

func (c *Conn) send(h header, payload []byte) error {
	msg := append(h.encode(), payload...)
	if _, err := unix.Write(c.fd, msg); err != nil {
		if errors.Is(err, unix.EINVAL) {
			return &canbus.Error{Kind: canbus.KindNotFound, Message: fmt.Sprintf("bcmcan: kernel rejected message on %s, likely an unknown frame id", c.iface), Err: err}
		}
		if errors.Is(err, unix.ENETDOWN) {
			return &canbus.Error{Kind: canbus.KindInterfaceDown, Message: fmt.Sprintf("bcmcan: interface %s is down", c.iface), Err: err}
		}
		if errors.Is(err, unix.EBADF) {
			return &canbus.Error{Kind: canbus.KindClosed, Message: fmt.Sprintf("bcmcan: socket on %s is closed", c.iface), Err: err}
		}
		return fmt.Errorf("bcmcan: send on %s: %w", c.iface, err)
	}
	return nil
}

// SendFrame issues a one-shot TX_SEND of frame.
func (c *Conn) SendFrame(frame *canbus.Frame) error {
	h := header{
		opcode:  OpTxSend,
		canID:   frameIDField(frame.ID, frame.Format),
		nframes: 1,
	}
	return c.send(h, frame.ToWire())
}

// SetupPeriodicSend arms (or updates) periodic transmission of frame.
// interval nil leaves the kernel's timing unchanged — only the frame data
// is updated. restartTimer requests the kernel (re)start the cycle from
// now; set it false to change the payload in place without disturbing
// phase.
func (c *Conn) SetupPeriodicSend(frame *canbus.Frame, interval *int, restartTimer bool) error {
	var flags uint32
	var ms int
	if interval != nil {
		if *interval < 0 {
			return &canbus.Error{Kind: canbus.KindInvalid, Message: fmt.Sprintf("bcmcan: negative interval: %d", *interval)}
		}
		ms = *interval
		flags |= FlagSetTimer
	}
	if restartTimer {
		flags |= FlagStartTimer
	}
	sec, usec := bitutil.SplitMillisToSecUsec(float64(ms))
	h := header{
		opcode:    OpTxSetup,
		flags:     flags,
		ival2Sec:  sec,
		ival2Usec: usec,
		canID:     frameIDField(frame.ID, frame.Format),
		nframes:   1,
	}
	return c.send(h, frame.ToWire())
}

// StopPeriodicSend deletes the periodic transmission slot for id.
func (c *Conn) StopPeriodicSend(id uint32, format canbus.Format) error {
	h := header{opcode: OpTxDelete, canID: frameIDField(id, format)}
	return c.send(h, nil)
}

// SetupReception subscribes to id. minIntervalMillis throttles delivery to
// at most once per that many milliseconds (0 disables throttling). dataMask
// nil subscribes to every frame with this ID; a non-nil 8-byte dataMask
// instead delivers only when the masked data bits (or DLC) change.
func (c *Conn) SetupReception(id uint32, format canbus.Format, minIntervalMillis int, dataMask []byte) error {
	var flags uint32
	if minIntervalMillis > 0 {
		flags |= FlagSetTimer
	}

	var maskingFrame *canbus.Frame
	var err error
	if dataMask == nil {
		flags |= FlagRxFilterID
		maskingFrame, err = canbus.NewFrame(id, make([]byte, 8), format)
	} else {
		if len(dataMask) != 8 {
			return &canbus.Error{Kind: canbus.KindInvalid, Message: fmt.Sprintf("bcmcan: data mask must be 8 bytes, got %d", len(dataMask))}
		}
		flags |= FlagRxCheckDLC
		maskingFrame, err = canbus.NewFrame(id, dataMask, format)
	}
	if err != nil {
		return err
	}

	sec, usec := bitutil.SplitMillisToSecUsec(float64(minIntervalMillis))
	h := header{
		opcode:    OpRxSetup,
		flags:     flags,
		ival2Sec:  sec,
		ival2Usec: usec,
		canID:     frameIDField(id, format),
		nframes:   1,
	}
	return c.send(h, maskingFrame.ToWire())
}

// StopReception unsubscribes from id.
func (c *Conn) StopReception(id uint32, format canbus.Format) error {
	h := header{opcode: OpRxDelete, canID: frameIDField(id, format)}
	return c.send(h, nil)
}

// RecvFrame blocks until one RX_CHANGED notification arrives from the
// kernel, ctx is cancelled, or an I/O error occurs.
func (c *Conn) RecvFrame(ctx context.Context) (*canbus.Frame, error) {
	buf := make([]byte, maxBCMMessageBytes)
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &canbus.Error{Kind: canbus.KindTimeout, Message: fmt.Sprintf("bcmcan: recv on %s: context deadline exceeded", c.iface), Err: err}
			}
			return nil, err
		}
		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				continue
			}
			if errors.Is(err, unix.EBADF) {
				return nil, &canbus.Error{Kind: canbus.KindClosed, Message: fmt.Sprintf("bcmcan: socket on %s is closed", c.iface), Err: err}
			}
			if errors.Is(err, unix.ENETDOWN) {
				return nil, &canbus.Error{Kind: canbus.KindInterfaceDown, Message: fmt.Sprintf("bcmcan: interface %s is down", c.iface), Err: err}
			}
			return nil, fmt.Errorf("bcmcan: recv on %s: %w", c.iface, err)
		}
		if n < headerSize {
			return nil, fmt.Errorf("bcmcan: short BCM message on %s: %d bytes", c.iface, n)
		}
		h, err := decodeHeader(buf[:headerSize])
		if err != nil {
			return nil, err
		}
		if h.opcode != OpRxChanged {
			return nil, fmt.Errorf("bcmcan: unexpected BCM opcode on %s: %d", c.iface, h.opcode)
		}
		wireEnd := headerSize + 16
		if n < wireEnd {
			return nil, fmt.Errorf("bcmcan: truncated BCM frame on %s", c.iface)
		}
		id, format := splitFrameIDField(h.canID)
		frame, err := canbus.FromWire(buf[headerSize:wireEnd])
		if err != nil {
			return nil, err
		}
		frame.ID = id
		frame.Format = format
		return frame, nil
	}
}
