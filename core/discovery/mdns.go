package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/peerchunks/peerchunks/lib/logger"
	"github.com/peerchunks/peerchunks/lib/utils"
)

const (
	serviceName   = "_peerchunks._tcp"
	serviceDomain = "local."
)

var log, _ = logger.New("discovery")

// Announce publishes this node's peer port on the LAN via mDNS.
func Announce(instance string, port int) (*zeroconf.Server, error) {
	server, err := zeroconf.Register(instance, serviceName, serviceDomain, port, []string{"txtv=0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("could not register mdns service: %w", err)
	}

	log.Infow("mdns", "event", "announced", "instance", instance, "port", port)

	return server, nil
}

// Browse collects peer addresses announced on the LAN for the given
// window. Addresses are host:port strings, deduplicated.
func Browse(ctx context.Context, wait time.Duration) ([]string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	browseCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	addresses := make([]string, 0)
	done := make(chan struct{})

	go func(results <-chan *zeroconf.ServiceEntry) {
		defer close(done)
		for entry := range results {
			if len(entry.AddrIPv4) == 0 {
				continue
			}

			address := fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)
			log.Infow("mdns", "event", "peer discovered", "instance", entry.Instance, "address", address)
			addresses = append(addresses, address)
		}
	}(entries)

	if err := resolver.Browse(browseCtx, serviceName, serviceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse mdns: %w", err)
	}

	<-browseCtx.Done()
	<-done

	return utils.Unique(addresses), nil
}
