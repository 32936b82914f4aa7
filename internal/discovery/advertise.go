package discovery

import (
	"fmt"
	"net"

	"github.com/grandcat/zeroconf"
	"github.com/wlynxg/anet"
)

// Advertiser keeps the phone's service instance registered.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers name as an instance of ServiceType on port. An empty
// ifaces list advertises on every multicast-capable interface.
func Advertise(name string, port int, ifaces []string) (*Advertiser, error) {
	if name == "" {
		return nil, fmt.Errorf("discovery: empty instance name")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("discovery: invalid port %d", port)
	}

	selected, err := selectInterfaces(ifaces)
	if err != nil {
		return nil, err
	}

	server, err := zeroconf.Register(name, ServiceType, Domain, port, []string{"v=1"}, selected)
	if err != nil {
		return nil, fmt.Errorf("discovery: register %q: %w", name, err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the instance.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

func selectInterfaces(names []string) ([]net.Interface, error) {
	if len(names) == 0 {
		return nil, nil
	}
	all, err := anet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("discovery: list interfaces: %w", err)
	}
	byName := make(map[string]net.Interface, len(all))
	for _, iface := range all {
		byName[iface.Name] = iface
	}
	out := make([]net.Interface, 0, len(names))
	for _, name := range names {
		iface, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("discovery: unknown interface %q", name)
		}
		out = append(out, iface)
	}
	return out, nil
}
