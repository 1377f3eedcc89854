// Package discovery finds gateways on the local network via mDNS/DNS-SD.
//
// Gateways advertise themselves under the _openclaw-gw._tcp service type
// so a client on the same network can connect without typing an address.
// Discovery only reveals presence; the device still has to pair.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type gateways advertise under.
// Follows the standard Bonjour naming convention: _<service>._<protocol>
const ServiceType = "_openclaw-gw._tcp"

// Gateway represents a gateway found on the local network.
type Gateway struct {
	// Name is the human-readable instance name of the gateway.
	Name string

	// Host is the IP address the gateway resolved to.
	Host string

	// Port is the advertised gateway port.
	Port int

	// Version is the gateway version from the TXT record, if advertised.
	Version string

	// AgentID is the default agent from the TXT record, if advertised.
	AgentID string
}

// URL returns the WebSocket endpoint for connecting to this gateway.
func (g Gateway) URL() string {
	return fmt.Sprintf("ws://%s:%d", g.Host, g.Port)
}

// parseTXT fills gateway metadata from DNS TXT record strings.
func parseTXT(g *Gateway, records []string) {
	for _, txt := range records {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			if value != "" {
				g.Name = value
			}
		case "version":
			g.Version = value
		case "agent":
			g.AgentID = value
		}
	}
}

// Discover browses the local network for gateways until the context is
// done, then returns everything found. Callers bound the search with a
// context timeout.
func Discover(ctx context.Context) ([]Gateway, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		gateways []Gateway
		mu       sync.Mutex
		wg       sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			gw := Gateway{
				Name: entry.Instance,
				Port: entry.Port,
			}

			// Prefer IPv4 address
			if len(entry.AddrIPv4) > 0 {
				gw.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				gw.Host = entry.AddrIPv6[0].String()
			}

			parseTXT(&gw, entry.Text)

			mu.Lock()
			gateways = append(gateways, gw)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes the entries channel once the context is done; wait
	// for the collector to drain it.
	wg.Wait()

	return gateways, nil
}
