//go:build !linux

package bcmcan

import (
	"context"
	"errors"

	"github.com/caran/canbus/canbus"
)

// ErrUnsupported is returned by every Conn operation on non-Linux platforms.
// The Broadcast Manager is a Linux kernel facility; there is no portable
// equivalent.
var ErrUnsupported = errors.New("bcmcan: the BCM is only supported on linux")

// Conn is a non-functional stand-in so this package builds on non-Linux
// platforms. Every method returns ErrUnsupported.
type Conn struct{}

func Open(iface string) (*Conn, error) { return nil, ErrUnsupported }

func (c *Conn) Close() error { return ErrUnsupported }

func (c *Conn) SendFrame(f *canbus.Frame) error { return ErrUnsupported }

func (c *Conn) SetupPeriodicSend(f *canbus.Frame, interval *int, restartTimer bool) error {
	return ErrUnsupported
}

func (c *Conn) StopPeriodicSend(id uint32, format canbus.Format) error { return ErrUnsupported }

func (c *Conn) SetupReception(id uint32, format canbus.Format, minIntervalMillis int, dataMask []byte) error {
	return ErrUnsupported
}

func (c *Conn) StopReception(id uint32, format canbus.Format) error { return ErrUnsupported }

func (c *Conn) RecvFrame(ctx context.Context) (*canbus.Frame, error) { return nil, ErrUnsupported }
