package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

// DefaultServiceType is the mDNS service advertised by media servers that
// expose the control API.
const DefaultServiceType = "_pixera._tcp"

type DiscoveredService struct {
	ServiceName string
	Host        string
	Port        int
	TXTRecords  []string
}

func (s DiscoveredService) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Discover returns the first server answering an mDNS lookup for serviceType.
func Discover(ctx context.Context, serviceType string, timeout time.Duration) (*DiscoveredService, error) {
	if serviceType == "" {
		serviceType = DefaultServiceType
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)
	params := mdns.DefaultParams(serviceType)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	go func() {
		defer close(entriesCh)
		if err := mdns.Query(params); err != nil {
			slog.Warn("mDNS query failed", "service", serviceType, "error", err)
		}
	}()

	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				return nil, fmt.Errorf("no %s service found", serviceType)
			}
			if entry.AddrV4 == nil && entry.AddrV6 == nil {
				continue
			}
			host := ""
			if entry.AddrV4 != nil {
				host = entry.AddrV4.String()
			} else {
				host = entry.AddrV6.String()
			}
			service := &DiscoveredService{
				ServiceName: entry.Name,
				Host:        host,
				Port:        entry.Port,
				TXTRecords:  entry.InfoFields,
			}
			slog.Info("Discovered media server", "service_name", service.ServiceName, "host", service.Host, "port", service.Port)
			return service, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
