//go:build linux

// Package rawcan implements a CAN interface over a Linux SocketCAN raw
// (AF_CAN/SOCK_RAW/CAN_RAW) socket: unfiltered frame send/receive with
// kernel-side ID filtering.
package rawcan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/caran/canbus/canbus"
)

const (
	// maxReceiveFilters mirrors the upstream implementation's arbitrary cap:
	// beyond this many distinct frame IDs, kernel-side filtering is skipped
	// and every frame on the bus is delivered to userspace instead.
	maxReceiveFilters = 100

	// filterMask matches only the 11 standard-frame ID bits; this is the
	// mask the reference implementation installs per filter entry.
	filterMask = 0x7FF

	pollInterval = 200 * time.Millisecond
)

// Conn is a raw CAN socket bound to one interface.
type Conn struct {
	fd     int
	iface  string
}

// Open binds a new raw CAN socket to the named Linux network interface
// (e.g. "vcan0", "can1").
func Open(iface string) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("rawcan: socket: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rawcan: interface %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rawcan: bind %q: %w", iface, err)
	}
	if err := setReadTimeout(fd, pollInterval); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("rawcan: set read timeout: %w", err)
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

// SendFrame writes a single CAN frame to the bus.
func (c *Conn) SendFrame(f *canbus.Frame) error {
	_, err := unix.Write(c.fd, f.ToWire())
	if err != nil {
		if errors.Is(err, unix.EBADF) {
			return &canbus.Error{Kind: canbus.KindClosed, Message: fmt.Sprintf("rawcan: socket on %s is closed", c.iface), Err: err}
		}
		if errors.Is(err, unix.ENETDOWN) {
			return &canbus.Error{Kind: canbus.KindInterfaceDown, Message: fmt.Sprintf("rawcan: interface %s is down", c.iface), Err: err}
		}
		return fmt.Errorf("rawcan: send on %s: %w", c.iface, err)
	}
	return nil
}

// RecvFrame blocks until one CAN frame arrives, ctx is cancelled, or an I/O
// error occurs. Cancellation is implemented by polling the socket with a
// short read timeout rather than a second goroutine, since the Linux
// SocketCAN fd can't be driven by the runtime's netpoller directly.
func (c *Conn) RecvFrame(ctx context.Context) (*canbus.Frame, error) {
	buf := make([]byte, unix.CAN_MTU)
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &canbus.Error{Kind: canbus.KindTimeout, Message: fmt.Sprintf("rawcan: recv on %s: context deadline exceeded", c.iface), Err: err}
			}
			return nil, err
		}
		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				continue
			}
			if errors.Is(err, unix.EBADF) {
				return nil, &canbus.Error{Kind: canbus.KindClosed, Message: fmt.Sprintf("rawcan: socket on %s is closed", c.iface), Err: err}
			}
			if errors.Is(err, unix.ENETDOWN) {
				return nil, &canbus.Error{Kind: canbus.KindInterfaceDown, Message: fmt.Sprintf("rawcan: interface %s is down", c.iface), Err: err}
			}
			return nil, fmt.Errorf("rawcan: read on %s: %w", c.iface, err)
		}
		if n != unix.CAN_MTU {
			return nil, fmt.Errorf("rawcan: short read on %s: %d bytes", c.iface, n)
		}
		return canbus.FromWire(buf)
	}
}

// SetReceiveFilters installs one kernel-side receive filter per frame ID.
// When ids is empty, or exceeds maxReceiveFilters, kernel filtering is
// skipped entirely and every incoming frame reaches RecvFrame unfiltered.
func (c *Conn) SetReceiveFilters(ids []uint32) error {
	if len(ids) == 0 || len(ids) > maxReceiveFilters {
		return nil
	}
	buf := make([]byte, 0, 8*len(ids))
	for _, id := range ids {
		var entry [8]byte
		putUint32LE(entry[0:4], id)
		putUint32LE(entry[4:8], filterMask)
		buf = append(buf, entry[:]...)
	}
	if err := unix.SetsockoptString(c.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, string(buf)); err != nil {
		return fmt.Errorf("rawcan: install filters on %s: %w", c.iface, err)
	}
	return nil
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
