// Package session tracks tethering sessions and the bytes they transfer.
//
// A session opens on the first tick that is paired with a known interface
// and closes on the first unpaired tick. Every tick in between adds the
// wraparound-safe counter delta since the previous sample.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tetherctl/internal/counters"
	"tetherctl/internal/model"
)

// Sink receives every closed session exactly once.
type Sink interface {
	SessionClosed(s model.Session) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(s model.Session) error

func (f SinkFunc) SessionClosed(s model.Session) error {
	return f(s)
}

// MultiSink delivers to every sink and combines their errors.
type MultiSink []Sink

func (m MultiSink) SessionClosed(s model.Session) error {
	var err error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		err = multierr.Append(err, sink.SessionClosed(s))
	}
	return err
}

// Snapshot is the observable state of the tracker after a tick.
type Snapshot struct {
	Active           bool
	ID               string
	PhoneName        string
	InterfaceName    string
	StartedAt        time.Time
	BytesTransferred uint64
}

type live struct {
	id        string
	phone     string
	iface     string
	startedAt time.Time
	bytes     uint64
	baseline  model.InterfaceByteCount
}

// Tracker owns the live session. It is driven from a single goroutine but
// Snapshot may be read concurrently.
type Tracker struct {
	sampler counters.Sampler
	sink    Sink
	clock   clock.Clock
	log     *zap.Logger
	newID   func() string

	mu      sync.Mutex
	current *live
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the clock used for start and end times.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithIDs overrides session ID generation.
func WithIDs(fn func() string) Option {
	return func(t *Tracker) { t.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// NewTracker returns a tracker reading counters from sampler. sink may be nil.
func NewTracker(sampler counters.Sampler, sink Sink, opts ...Option) *Tracker {
	t := &Tracker{
		sampler: sampler,
		sink:    sink,
		clock:   clock.New(),
		log:     zap.NewNop(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.Named("session")
	return t
}

// Track applies one tick's pairing status and interface name.
func (t *Tracker) Track(status model.PairingStatus, iface string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	phone, paired := status.PhoneName()
	if !paired {
		if t.current != nil {
			t.closeLocked()
		}
		return t.snapshotLocked()
	}

	if iface == "" {
		return t.snapshotLocked()
	}
	sample, err := t.sampler.Sample(iface)
	if err != nil {
		if !errors.Is(err, counters.ErrNotFound) {
			t.log.Warn("sample counters", zap.String("iface", iface), zap.Error(err))
		}
		return t.snapshotLocked()
	}

	if t.current == nil {
		t.current = &live{
			id:        t.newID(),
			phone:     phone,
			iface:     iface,
			startedAt: t.clock.Now(),
			baseline:  sample,
		}
		t.log.Info("session started", zap.String("id", t.current.id), zap.String("phone", phone), zap.String("iface", iface))
		return t.snapshotLocked()
	}

	if t.current.iface != iface {
		// Counters of a different interface are unrelated to the baseline.
		t.log.Info("session interface changed", zap.String("from", t.current.iface), zap.String("to", iface))
		t.current.iface = iface
		t.current.baseline = sample
		return t.snapshotLocked()
	}

	delta := uint64(counters.Delta(t.current.baseline.InputBytes, sample.InputBytes)) +
		uint64(counters.Delta(t.current.baseline.OutputBytes, sample.OutputBytes))
	t.current.bytes += delta
	t.current.baseline = sample
	t.log.Debug("session updated", zap.String("id", t.current.id), zap.Uint64("bytes", t.current.bytes))
	return t.snapshotLocked()
}

// Flush closes the open session, if any.
func (t *Tracker) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		t.closeLocked()
	}
}

// Snapshot returns the current state without advancing it.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) closeLocked() {
	cur := t.current
	t.current = nil

	closed := model.Session{
		ID:               cur.id,
		PhoneName:        cur.phone,
		InterfaceName:    cur.iface,
		StartedAt:        cur.startedAt,
		EndedAt:          t.clock.Now(),
		BytesTransferred: cur.bytes,
	}
	t.log.Info("session closed",
		zap.String("id", closed.ID),
		zap.String("phone", closed.PhoneName),
		zap.Duration("duration", closed.Duration()),
		zap.Uint64("bytes", closed.BytesTransferred),
	)
	if t.sink == nil {
		return
	}
	if err := t.sink.SessionClosed(closed); err != nil {
		t.log.Warn("persist session", zap.String("id", closed.ID), zap.Error(err))
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	if t.current == nil {
		return Snapshot{}
	}
	return Snapshot{
		Active:           true,
		ID:               t.current.id,
		PhoneName:        t.current.phone,
		InterfaceName:    t.current.iface,
		StartedAt:        t.current.startedAt,
		BytesTransferred: t.current.bytes,
	}
}
