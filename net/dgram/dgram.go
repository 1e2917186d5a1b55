// Package dgram runs the receive side of a UDP socket and opens the sockets
// used by the coordinator and the peers.
package dgram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// MaxDatagramSize is large enough for any UDP payload.
const MaxDatagramSize = 64 * 1024

// Handler processes a single datagram. It must not retain b after returning.
type Handler func(from net.Addr, b []byte)

// Serve reads datagrams from conn and hands each to h until ctx is cancelled,
// at which point conn is closed. Read errors are logged and reading continues;
// a datagram that fails to process never stops the loop.
func Serve(ctx context.Context, conn net.PacketConn, h Handler) error {
	// Closing the socket unblocks ReadFrom
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warnf("dgram: error closing %s: %v", conn.LocalAddr(), err)
		}
	}()

	buf := make([]byte, MaxDatagramSize)
	var tempDelay time.Duration
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				log.Debugf("dgram: receive loop on %s stopped", conn.LocalAddr())
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("dgram: %s closed: %w", conn.LocalAddr(), err)
			}

			// ICMP unreachable and friends surface here on some platforms;
			// back off a little so a persistent error doesn't spin.
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := time.Second; tempDelay > max {
				tempDelay = max
			}
			log.Warnf("dgram: read error on %s: %v; retrying in %v", conn.LocalAddr(), err, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		h(from, buf[:n])
	}
}

// Listen opens the coordinator socket. An unspecified host such as "[::]"
// gives a dual-stack socket where the platform supports it.
func Listen(address string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}
	return conn, nil
}

// DialDualStack resolves host:port and opens one connected socket per address
// family found: the last IPv4 and the last IPv6 address returned by the
// resolver. A family that fails to dial is skipped; an error is returned only
// if no socket could be opened.
func DialDualStack(ctx context.Context, address string) ([]*net.UDPConn, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse port %q: %w", portStr, err)
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	var v4, v6 net.IP
	for _, ip := range ips {
		if ip.IP.To4() != nil {
			v4 = ip.IP
		} else {
			v6 = ip.IP
		}
	}

	var conns []*net.UDPConn
	for _, target := range []struct {
		network string
		ip      net.IP
	}{{"udp4", v4}, {"udp6", v6}} {
		if target.ip == nil {
			continue
		}
		raddr := &net.UDPAddr{IP: target.ip, Port: port}
		conn, err := net.DialUDP(target.network, nil, raddr)
		if err != nil {
			log.Warnf("dgram: cannot dial %s over %s: %v", raddr, target.network, err)
			continue
		}
		log.Infof("dgram: %s coordinator at %s", target.network, raddr)
		conns = append(conns, conn)
	}

	if len(conns) == 0 {
		return nil, fmt.Errorf("no usable address for %s", address)
	}
	return conns, nil
}
