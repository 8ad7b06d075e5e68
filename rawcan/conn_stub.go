//go:build !linux

package rawcan

import (
	"context"
	"errors"

	"github.com/caran/canbus/canbus"
)

// ErrUnsupported is returned by every Conn operation on non-Linux platforms.
// SocketCAN is a Linux kernel facility; there is no portable equivalent.
var ErrUnsupported = errors.New("rawcan: SocketCAN is only supported on linux")

// Conn is a non-functional stand-in so this package builds on non-Linux
// platforms. Every method returns ErrUnsupported.
type Conn struct{}

func Open(iface string) (*Conn, error) { return nil, ErrUnsupported }

func (c *Conn) Close() error { return ErrUnsupported }

func (c *Conn) SendFrame(f *canbus.Frame) error { return ErrUnsupported }

func (c *Conn) RecvFrame(ctx context.Context) (*canbus.Frame, error) { return nil, ErrUnsupported }

func (c *Conn) SetReceiveFilters(ids []uint32) error { return ErrUnsupported }
