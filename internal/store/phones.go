package store

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"tetherctl/internal/model"
	"tetherctl/internal/session"
)

// Phones keeps the registry file current. It observes pairing transitions
// and receives closed sessions.
type Phones struct {
	path  string
	clock clock.Clock
	log   *zap.Logger

	mu   sync.Mutex
	reg  *Registry
	last model.PairingStatus
}

// OpenPhones loads the registry at path.
func OpenPhones(path string, clk clock.Clock, log *zap.Logger) (*Phones, error) {
	reg, err := LoadRegistry(path)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Phones{path: path, clock: clk, log: log.Named("phones"), reg: reg}, nil
}

// List returns a copy of the known phones.
func (p *Phones) List() []PhoneInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PhoneInfo(nil), p.reg.Phones...)
}

func (p *Phones) OnPairingStatusChanged(status model.PairingStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == p.last {
		return
	}
	p.last = status
	name, ok := status.PhoneName()
	if !ok {
		return
	}
	now := p.clock.Now().UTC()
	p.reg.Upsert(name, now).LastSeenAt = now
	p.saveLocked()
}

func (p *Phones) OnSignalReadingChanged(*model.SignalReading) {}

func (p *Phones) OnSessionUpdated(session.Snapshot) {}

// SessionClosed adds the session's totals to its phone.
func (p *Phones) SessionClosed(s model.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := p.reg.Upsert(s.PhoneName, s.StartedAt.UTC())
	info.Sessions++
	info.TotalBytes += s.BytesTransferred
	if s.EndedAt.After(info.LastSeenAt) {
		info.LastSeenAt = s.EndedAt.UTC()
	}
	return SaveRegistry(p.path, p.reg)
}

func (p *Phones) saveLocked() {
	if err := SaveRegistry(p.path, p.reg); err != nil {
		p.log.Warn("save registry", zap.String("path", p.path), zap.Error(err))
	}
}
