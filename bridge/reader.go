package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/caran/canbus/canbus"
	"github.com/caran/canbus/internal/hub"
	"github.com/caran/canbus/internal/metrics"
	"github.com/caran/canbus/internal/transport"
)

func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			var count int
			if mfd, ok := s.Codec.(transport.MultiFrameDecoder); ok {
				var err error
				count, err = mfd.DecodeN(conn, 16, func(fr *canbus.Frame) {
					if s.frameFilter != nil && !s.frameFilter(fr) {
						return
					}
					metrics.IncTCPRx()
					if err := s.Send(fr); err != nil {
						s.totalBusErrors.Add(1)
						logger.Error("bus_tx_error", "error", err, "can_id", fmt.Sprintf("0x%X", fr.ID))
					}
				})
				if err != nil {
					if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
						return
					}
					if ne, ok := err.(net.Error); ok && ne.Timeout() {
						continue
					}
					wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return
				}
			} else {
				fr, err := s.Codec.Decode(conn)
				if err != nil {
					if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
						return
					}
					if ne, ok := err.(net.Error); ok && ne.Timeout() {
						continue
					}
					wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return
				}
				if s.frameFilter == nil || s.frameFilter(fr) {
					metrics.IncTCPRx()
					if err := s.Send(fr); err != nil {
						wrap := fmt.Errorf("%w: %v", ErrBusTx, err)
						s.setError(wrap)
						s.totalBusErrors.Add(1)
						logger.Error("bus_tx_error", "error", wrap, "can_id", fmt.Sprintf("0x%X", fr.ID))
					}
				}
				count = 1
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}
