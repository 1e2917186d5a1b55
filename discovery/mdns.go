// Package discovery advertises a coordinator on the local network and lets
// peers find one when no address is configured.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	log "github.com/sirupsen/logrus"
)

// ServiceType is the DNS-SD service a coordinator registers.
const ServiceType = "_clocksync._udp"

var ErrNotFound = errors.New("no coordinator found")

// Coordinator describes an advertised coordinator.
type Coordinator struct {
	Instance string
	ID       string
	Address  string // host:port
}

// Advertise registers a coordinator listening on port until ctx is cancelled.
func Advertise(ctx context.Context, instance string, id string, port int) error {
	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, ips, []string{"id=" + id})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Infof("Advertising %s as %q on port %d", ServiceType, instance, port)

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(); err != nil {
			log.Warnf("mdns shutdown: %v", err)
		}
	}()

	return nil
}

// Browse queries the local network once and returns the first coordinator
// that answers within timeout.
func Browse(ctx context.Context, timeout time.Duration) (*Coordinator, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	found := make(chan *Coordinator, 1)

	go func() {
		for e := range entries {
			c := fromEntry(e)
			if c == nil {
				continue
			}
			select {
			case found <- c:
			default:
			}
		}
	}()

	params := &mdns.QueryParam{
		Service: ServiceType,
		Domain:  "local",
		Timeout: timeout,
		Entries: entries,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- mdns.Query(params)
		close(entries)
	}()

	select {
	case c := <-found:
		log.Infof("Found coordinator %q (%s) at %s", c.Instance, c.ID, c.Address)
		return c, nil
	case err := <-errc:
		if err != nil {
			return nil, fmt.Errorf("mdns query: %w", err)
		}
		// The query is over but the last entry may still be in flight
		select {
		case c := <-found:
			return c, nil
		case <-time.After(50 * time.Millisecond):
			return nil, ErrNotFound
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fromEntry converts a browse result, preferring IPv4. Entries for other
// services or without an address are skipped.
func fromEntry(e *mdns.ServiceEntry) *Coordinator {
	if !strings.Contains(e.Name, ServiceType) || e.Port == 0 {
		return nil
	}

	var ip net.IP
	switch {
	case e.AddrV4 != nil:
		ip = e.AddrV4
	case e.AddrV6 != nil:
		ip = e.AddrV6
	default:
		return nil
	}

	c := &Coordinator{
		Instance: strings.TrimSuffix(e.Name, "."+ServiceType+".local."),
		Address:  net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)),
	}
	for _, f := range e.InfoFields {
		if id, ok := strings.CutPrefix(f, "id="); ok {
			c.ID = id
		}
	}
	return c
}

func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && !ipnet.IP.IsLinkLocalUnicast() {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}
