// Package discovery browses mDNS for IPP printers and eSCL scanners. It is
// advisory only: found devices are logged so an operator can extend the
// settings file, never auto-registered.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/one-zero-eight/printers/logger"
)

const browseWindow = 15 * time.Second

var services = []string{"_ipp._tcp", "_uscan._tcp", "_uscans._tcp"}

// Browser periodically enumerates the local network.
type Browser struct {
	log      *logger.Logger
	interval time.Duration
}

// NewBrowser returns a browser sweeping every interval.
func NewBrowser(log *logger.Logger, interval time.Duration) *Browser {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Browser{log: log, interval: interval}
}

// Run sweeps until ctx is done.
func (b *Browser) Run(ctx context.Context) {
	b.sweep(ctx)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep(ctx)
		}
	}
}

func (b *Browser) sweep(ctx context.Context) {
	for _, service := range services {
		if err := b.browse(ctx, service); err != nil {
			b.log.Debug("mDNS browse failed", "service", service, "error", err)
		}
	}
}

func (b *Browser) browse(ctx context.Context, service string) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	browseCtx, cancel := context.WithTimeout(ctx, browseWindow)
	defer cancel()

	go func() {
		for entry := range entries {
			b.log.Info("Discovered device",
				"service", service,
				"instance", entry.Instance,
				"host", entry.HostName,
				"port", entry.Port,
				"addrs", fmt.Sprintf("%v", entry.AddrIPv4))
		}
	}()

	if err := resolver.Browse(browseCtx, service, "local.", entries); err != nil {
		return fmt.Errorf("mdns browse: %w", err)
	}
	<-browseCtx.Done()
	return nil
}
