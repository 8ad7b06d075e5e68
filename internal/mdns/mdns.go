// Package mdns advertises a running gateway process over mDNS/Avahi so LAN
// tooling can discover it without a static address.
package mdns

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the fixed mDNS service type advertised for a canbus gateway.
const ServiceType = "_canbus-gateway._tcp"

// Advertise registers instance (or a hostname-derived default) at the given
// port, with TXT records carrying the bus name and backend mode. It returns
// a cleanup function; calling Advertise is safe to skip entirely when
// advertisement is disabled by the caller.
func Advertise(ctx context.Context, instance, busName, mode string, port int) (func(), error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("canbus-gateway-%s", host)
	}
	meta := []string{
		"bus=" + busName,
		"mode=" + mode,
	}
	svc, err := zeroconf.Register(instance, ServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
