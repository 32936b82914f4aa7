// Package pairing decides once per tick whether the desktop is paired with
// a phone, and fetches the phone's signal reading while it is.
package pairing

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"tetherctl/internal/discovery"
	"tetherctl/internal/fetch"
	"tetherctl/internal/model"
)

// Discoverer finds the phone's endpoint.
type Discoverer interface {
	Discover(ctx context.Context) (model.DiscoveredEndpoint, error)
}

// Fetcher reads one signal reading from an endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, ep model.DiscoveredEndpoint) (fetch.Result, error)
}

// Phase is the machine's internal state.
type Phase int

const (
	PhaseUnpaired Phase = iota
	PhasePairing
	PhasePaired
)

func (p Phase) String() string {
	switch p {
	case PhaseUnpaired:
		return "unpaired"
	case PhasePairing:
		return "pairing"
	case PhasePaired:
		return "paired"
	default:
		return "unknown"
	}
}

// Result is what one Poll observed.
type Result struct {
	Status        model.PairingStatus
	Reading       *model.SignalReading
	InterfaceName string
	// Err is the discovery or fetch failure of this poll, for observers only.
	Err error
}

// Machine is the Unpaired → Pairing → Paired state machine.
type Machine struct {
	discoverer Discoverer
	fetcher    Fetcher
	log        *zap.Logger

	mu       sync.Mutex
	phase    Phase
	endpoint model.DiscoveredEndpoint
}

// New returns a machine in the Unpaired phase.
func New(d Discoverer, f Fetcher, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{discoverer: d, fetcher: f, log: log.Named("pairing")}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Poll advances the machine by one tick. It never returns an error; a
// failure moves the machine to Unpaired and is reported in Result.Err.
func (m *Machine) Poll(ctx context.Context) Result {
	m.mu.Lock()
	phase, ep := m.phase, m.endpoint
	m.mu.Unlock()

	if phase != PhasePaired {
		m.setPhase(PhasePairing, model.DiscoveredEndpoint{})
		found, err := m.discoverer.Discover(ctx)
		if err != nil {
			m.setPhase(PhaseUnpaired, model.DiscoveredEndpoint{})
			return Result{Status: model.Unpaired(), Err: err}
		}
		m.log.Info("paired", zap.String("phone", found.DisplayName), zap.String("addr", found.Addr()))
		ep = found
		m.setPhase(PhasePaired, ep)
	}

	res, err := m.fetcher.Fetch(ctx, ep)
	if err != nil {
		m.log.Info("unpaired", zap.String("phone", ep.DisplayName), zap.String("reason", ReasonOf(err)), zap.Error(err))
		m.setPhase(PhaseUnpaired, model.DiscoveredEndpoint{})
		return Result{Status: model.Unpaired(), Err: err}
	}

	reading := res.Reading
	return Result{
		Status:        model.Paired(ep.DisplayName),
		Reading:       &reading,
		InterfaceName: res.InterfaceName,
	}
}

func (m *Machine) setPhase(p Phase, ep model.DiscoveredEndpoint) {
	m.mu.Lock()
	m.phase = p
	m.endpoint = ep
	m.mu.Unlock()
}

// ReasonOf returns a short label for a poll failure.
func ReasonOf(err error) string {
	var fe *fetch.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return string(fe.Reason)
	case errors.Is(err, discovery.ErrDiscoveryTimeout):
		return "discovery_timeout"
	case errors.Is(err, discovery.ErrDiscoveryFailed):
		return "not_found"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}
