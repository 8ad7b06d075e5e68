package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caran/canbus/bcmcan"
	"github.com/caran/canbus/canbus"
	"github.com/caran/canbus/internal/hub"
	"github.com/caran/canbus/internal/metrics"
	"github.com/caran/canbus/internal/transport"
	"github.com/caran/canbus/kcd"
	"github.com/caran/canbus/rawcan"
)

const (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond

	// busTxBufferSize bounds the funnel AsyncTx uses between TCP client
	// reader goroutines and the single backend socket: enough to absorb a
	// short burst from several clients without a slow bus stalling reads.
	busTxBufferSize = 256
)

// ErrBusTxOverflow is returned to a TCP client's reader when the transmit
// funnel is full, i.e. the bus backend isn't draining frames fast enough.
var ErrBusTxOverflow = errors.New("bus tx funnel overflow")

// openBackend opens the raw or BCM interface named by cfg.canIf, according
// to cfg.mode.
func openBackend(cfg *appConfig) (canbus.Backend, error) {
	switch cfg.mode {
	case "raw":
		return rawcan.Open(cfg.canIf)
	case "bcm":
		return bcmcan.Open(cfg.canIf)
	default:
		return nil, fmt.Errorf("unknown mode %q (use raw|bcm)", cfg.mode)
	}
}

// initGatewayBus loads the KCD configuration, opens the configured backend,
// constructs the Bus, and starts its receive loop broadcasting decoded
// frames to h. It returns the Bus, a SendFunc that funnels client-originated
// transmits through a single goroutine (see transport.AsyncTx), and a
// cleanup function.
func initGatewayBus(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (*canbus.Bus, func(*canbus.Frame) error, func(), error) {
	config, err := kcd.Read(cfg.kcdFile, cfg.busName)
	if err != nil {
		return nil, nil, func() {}, fmt.Errorf("kcd read %s: %w", cfg.kcdFile, err)
	}
	config.SetEgoNodeIDs(cfg.egoNodeList())

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, nil, func() {}, fmt.Errorf("open backend (%s %s): %w", cfg.mode, cfg.canIf, err)
	}

	observer := metrics.NewObserver(cfg.mode == "bcm")
	bus, err := canbus.NewBus(config, backend, l, canbus.WithObserver(observer))
	if err != nil {
		_ = backend.Close()
		return nil, nil, func() {}, fmt.Errorf("construct bus: %w", err)
	}

	if err := bus.InitReception(); err != nil {
		_ = bus.Close()
		return nil, nil, func() {}, fmt.Errorf("init reception: %w", err)
	}

	l.Info("bus_open", "mode", cfg.mode, "if", cfg.canIf, "bus", config.BusName)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("bus_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			fr, err := bus.RecvNextFrame(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if canbus.IsTimeout(err) {
					backoff = rxBackoffMin
					continue
				}
				l.Warn("bus_rx_error", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			h.Broadcast(fr)
			backoff = rxBackoffMin
		}
	}()

	asyncTx := transport.NewAsyncTx(ctx, busTxBufferSize, bus.SendFrame, transport.Hooks{
		OnError: func(err error) {
			l.Warn("bus_tx_error", "error", err)
			metrics.IncError("bus_tx")
		},
		OnDrop: func() error {
			metrics.IncError("bus_tx_overflow")
			return ErrBusTxOverflow
		},
	})

	cleanup := func() {
		asyncTx.Close()
		_ = bus.Stop()
		_ = bus.Close()
	}
	return bus, asyncTx.SendFrame, cleanup, nil
}
