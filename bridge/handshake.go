package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	magic         = "CBUS"
	protoVersion  = byte(1)
	handshakeSize = len(magic) + 1
)

// Handshake runs the bridge's hello exchange: each side sends the 4-byte
// magic "CBUS" followed by a 1-byte protocol version, and reads the same
// from its peer.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})

	hello := append([]byte(magic), protoVersion)
	errCh := make(chan error, 2)

	go func() {
		_, err := c.Write(hello)
		errCh <- err
	}()

	go func() {
		buf := make([]byte, handshakeSize)
		_, err := io.ReadFull(c, buf)
		if err == nil {
			if string(buf[:len(magic)]) != magic {
				err = errors.New("bad magic")
			} else if buf[len(magic)] != protoVersion {
				err = fmt.Errorf("unsupported protocol version: %d", buf[len(magic)])
			}
		}
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		}
	}
	return nil
}
