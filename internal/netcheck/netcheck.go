// Package netcheck checks internet egress over the tether interface with STUN.
package netcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

const defaultPort = 3478

// Report is the outcome of a PublicAddr check.
type Report struct {
	LocalIP    net.IP
	PublicAddr string
	NATType    string
	Mapped     []string
	Failures   map[string]error
}

// PublicAddr sends a binding request to each server from a socket bound to
// localIP (any address when nil) and returns the first mapped address. It
// fails only when no server answered.
func PublicAddr(ctx context.Context, servers []string, localIP net.IP, timeout time.Duration) (Report, error) {
	rep := Report{LocalIP: localIP, NATType: NATTypeUnknown, Failures: map[string]error{}}
	if len(servers) == 0 {
		return rep, errors.New("no STUN servers provided")
	}

	var lastErr error
	for _, server := range servers {
		addr, err := probeServer(ctx, server, localIP, timeout)
		if err != nil {
			rep.Failures[server] = err
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		rep.Mapped = append(rep.Mapped, addr)
	}

	if len(rep.Mapped) == 0 {
		if lastErr == nil {
			lastErr = errors.New("STUN probe failed")
		}
		return rep, lastErr
	}
	rep.PublicAddr = rep.Mapped[0]
	rep.NATType = Classify(rep.Mapped)
	return rep, nil
}

// Classify infers NAT behaviour by comparing mapped addresses from multiple
// servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	for _, addr := range addrs[1:] {
		if addr != addrs[0] {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}

// ServerAddr turns "stun:host:port", "host:port" or "host" into host:port.
func ServerAddr(server string) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", errors.New("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}
	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", server, err)
	}
	port := uri.Port
	if port <= 0 {
		port = defaultPort
	}
	return net.JoinHostPort(uri.Host, strconv.Itoa(port)), nil
}

func probeServer(ctx context.Context, server string, localIP net.IP, timeout time.Duration) (string, error) {
	addr, err := ServerAddr(server)
	if err != nil {
		return "", err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dialer := net.Dialer{}
	if localIP != nil {
		dialer.LocalAddr = &net.UDPAddr{IP: localIP}
	}
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return "", err
	}

	client, err := stun.NewClient(conn)
	if err != nil {
		conn.Close()
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var mapped stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := mapped.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- mapped
		})
		if err != nil {
			fail <- err
		}
	}()

	select {
	case mapped := <-result:
		return mapped.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
