package addrutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/wlynxg/anet"

	"tetherctl/internal/model"
)

// ParseEndpoint builds an endpoint from a manually given "host:port", for
// talking to a phone without mDNS. Unbracketed IPv6 "addr:port" is accepted.
func ParseEndpoint(addr string) (model.DiscoveredEndpoint, error) {
	host, portStr, ok := splitHostPort(addr)
	if !ok || host == "" {
		return model.DiscoveredEndpoint{}, fmt.Errorf("invalid endpoint %q: want host:port", addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return model.DiscoveredEndpoint{}, fmt.Errorf("invalid port in %q", addr)
	}
	return model.DiscoveredEndpoint{DisplayName: host, Host: host, Port: uint16(port)}, nil
}

// HostFromAddr returns the host part of addr, which may or may not carry a
// port.
func HostFromAddr(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}
	if h, _, ok := splitHostPort(a); ok {
		return h
	}
	if strings.Contains(a, ":") {
		// Raw IPv6 without port.
		return strings.Trim(a, "[]")
	}
	return a
}

func splitHostPort(addr string) (host, port string, ok bool) {
	a := strings.TrimSpace(addr)
	if h, p, err := net.SplitHostPort(a); err == nil {
		return h, p, true
	}

	// Unbracketed IPv6: peel off the last ":port".
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			h, p := a[:last], a[last+1:]
			if _, err := strconv.Atoi(p); err == nil && net.ParseIP(h) != nil {
				return h, p, true
			}
		}
	}
	return "", "", false
}

// InterfaceIP returns the first IPv4 address of the named interface, or its
// first IPv6 address when it has no IPv4 one.
func InterfaceIP(name string) (net.IP, error) {
	if name == "" {
		return nil, errors.New("interface name required")
	}
	ifaces, err := anet.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		if ifaces[i].Name != name {
			continue
		}
		addrs, err := anet.InterfaceAddrsByInterface(&ifaces[i])
		if err != nil {
			return nil, err
		}
		var v6 net.IP
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if v4 := ipNet.IP.To4(); v4 != nil {
				return v4, nil
			}
			if v6 == nil {
				v6 = ipNet.IP
			}
		}
		if v6 != nil {
			return v6, nil
		}
		return nil, fmt.Errorf("interface %s has no address", name)
	}
	return nil, fmt.Errorf("interface %s not found", name)
}
