// Package discovery finds the phone's signal service on the local network
// via mDNS and advertises it from the phone side.
//
// A discovery cycle moves Idle → Browsing → Resolving → Resolved or
// ResolutionTimedOut. Browsing waits for the first service instance; if it
// arrives without a usable address the instance is looked up directly.
// The whole cycle shares a single timeout.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"tetherctl/internal/model"
)

const (
	ServiceType = "_tetheringhelper._tcp"
	Domain      = "local."

	DefaultTimeout = time.Second
)

var (
	// ErrDiscoveryTimeout means an instance was seen but never resolved in time.
	ErrDiscoveryTimeout = errors.New("discovery: resolution timed out")
	// ErrDiscoveryFailed means no instance was seen or the browse could not start.
	ErrDiscoveryFailed = errors.New("discovery: no service found")
)

// State is the phase of the current discovery cycle.
type State int

const (
	StateIdle State = iota
	StateBrowsing
	StateResolving
	StateResolved
	StateResolutionTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBrowsing:
		return "browsing"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateResolutionTimedOut:
		return "resolution_timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Browser is the subset of *zeroconf.Resolver used here. Implementations
// close entries when ctx is done.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// NewBrowserFunc creates a Browser. A zeroconf resolver cannot be reused
// after its context ends, so one is created per phase.
type NewBrowserFunc func() (Browser, error)

func newZeroconfBrowser() (Browser, error) {
	return zeroconf.NewResolver()
}

// Discoverer runs discovery cycles. Only one cycle is active at a time.
type Discoverer struct {
	Timeout    time.Duration
	NewBrowser NewBrowserFunc
	Log        *zap.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	seq    uint64
}

// New returns a Discoverer backed by zeroconf.
func New(timeout time.Duration, log *zap.Logger) *Discoverer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Discoverer{Timeout: timeout, NewBrowser: newZeroconfBrowser, Log: log.Named("discovery")}
}

// State reports the phase of the current or last cycle.
func (d *Discoverer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Cancel aborts the active cycle, if any.
func (d *Discoverer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// Discover runs one full cycle and returns the first resolved endpoint.
// Starting a cycle cancels any cycle still running.
func (d *Discoverer) Discover(ctx context.Context) (model.DiscoveredEndpoint, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = cancel
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		if d.seq == seq {
			d.cancel = nil
		}
		d.mu.Unlock()
	}()

	ep, err := d.run(ctx, seq)
	switch {
	case err == nil:
		d.setState(seq, StateResolved)
		d.logger().Debug("resolved", zap.String("phone", ep.DisplayName), zap.String("addr", ep.Addr()))
		return ep, nil
	case errors.Is(err, ErrDiscoveryTimeout):
		d.setState(seq, StateResolutionTimedOut)
	}
	d.logger().Debug("discovery failed", zap.Error(err))
	d.setState(seq, StateIdle)
	return model.DiscoveredEndpoint{}, err
}

func (d *Discoverer) run(ctx context.Context, seq uint64) (model.DiscoveredEndpoint, error) {
	newBrowser := d.NewBrowser
	if newBrowser == nil {
		newBrowser = newZeroconfBrowser
	}

	d.setState(seq, StateBrowsing)
	entry, err := first(ctx, newBrowser, func(ctx context.Context, b Browser, ch chan *zeroconf.ServiceEntry) error {
		return b.Browse(ctx, ServiceType, Domain, ch)
	})
	if err != nil {
		return model.DiscoveredEndpoint{}, err
	}
	if entry == nil {
		return model.DiscoveredEndpoint{}, ErrDiscoveryFailed
	}

	d.setState(seq, StateResolving)
	if ep, ok := endpointFrom(entry); ok {
		return ep, nil
	}

	instance := entry.Instance
	resolved, err := first(ctx, newBrowser, func(ctx context.Context, b Browser, ch chan *zeroconf.ServiceEntry) error {
		return b.Lookup(ctx, instance, ServiceType, Domain, ch)
	})
	if err != nil || resolved == nil {
		return model.DiscoveredEndpoint{}, fmt.Errorf("%w: %s", ErrDiscoveryTimeout, instance)
	}
	ep, ok := endpointFrom(resolved)
	if !ok {
		return model.DiscoveredEndpoint{}, fmt.Errorf("%w: %s", ErrDiscoveryTimeout, instance)
	}
	return ep, nil
}

// first runs one browser phase and returns the first entry it reports, or
// nil when ctx ends before any entry arrives.
func first(ctx context.Context, newBrowser NewBrowserFunc, start func(context.Context, Browser, chan *zeroconf.ServiceEntry) error) (*zeroconf.ServiceEntry, error) {
	b, err := newBrowser()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := start(phaseCtx, b, entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, nil
			}
			if entry != nil {
				return entry, nil
			}
		case <-ctx.Done():
			return nil, nil
		}
	}
}

func endpointFrom(entry *zeroconf.ServiceEntry) (model.DiscoveredEndpoint, bool) {
	if entry.Port <= 0 || entry.Port > 65535 {
		return model.DiscoveredEndpoint{}, false
	}
	host := pickHost(entry.AddrIPv4, entry.AddrIPv6)
	if host == "" {
		return model.DiscoveredEndpoint{}, false
	}
	return model.DiscoveredEndpoint{DisplayName: entry.Instance, Host: host, Port: uint16(entry.Port)}, true
}

// pickHost prefers IPv4, then global IPv6. Link-local IPv6 is skipped:
// entries carry no zone, so such an address cannot be dialed.
func pickHost(v4, v6 []net.IP) string {
	for _, ip := range v4 {
		if ip != nil && !ip.IsUnspecified() {
			return ip.String()
		}
	}
	for _, ip := range v6 {
		if ip == nil || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String()
	}
	return ""
}

// setState ignores updates from a cycle that has been superseded.
func (d *Discoverer) setState(seq uint64, s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seq == seq {
		d.state = s
	}
}

func (d *Discoverer) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}
