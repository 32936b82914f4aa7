// Package events publishes pairing, session and transfer events to NATS.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"tetherctl/internal/model"
	"tetherctl/internal/session"
)

// Conn is the subset of *nats.Conn used by Publisher.
type Conn interface {
	Publish(subject string, data []byte) error
}

// StatusEvent is published on <prefix>.status when the pairing status changes.
type StatusEvent struct {
	Paired    bool      `json:"paired"`
	PhoneName string    `json:"phone_name,omitempty"`
	At        time.Time `json:"at"`
}

// SessionEvent is published on <prefix>.session.closed.
type SessionEvent struct {
	ID               string    `json:"id"`
	PhoneName        string    `json:"phone_name"`
	InterfaceName    string    `json:"interface_name"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	DurationSec      float64   `json:"duration_sec"`
	BytesTransferred uint64    `json:"bytes_transferred"`
}

// TransferEvent is published on <prefix>.transfer for each notification.
type TransferEvent struct {
	SessionID        string    `json:"session_id"`
	PhoneName        string    `json:"phone_name"`
	BytesTransferred uint64    `json:"bytes_transferred"`
	At               time.Time `json:"at"`
}

// Publisher is an agent observer and session sink.
type Publisher struct {
	conn   Conn
	prefix string
	clock  clock.Clock
	log    *zap.Logger

	mu   sync.Mutex
	last model.PairingStatus
	sent bool
}

// NewPublisher publishes on conn under prefix.
func NewPublisher(conn Conn, prefix string, clk clock.Clock, log *zap.Logger) *Publisher {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{conn: conn, prefix: prefix, clock: clk, log: log.Named("events")}
}

// Connect dials the NATS server at url.
func Connect(url string, log *zap.Logger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("tetherctl"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	log.Info("connected to nats", zap.String("url", url))
	return nc, nil
}

// Subject returns the full subject for suffix.
func (p *Publisher) Subject(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "." + suffix
}

func (p *Publisher) OnPairingStatusChanged(status model.PairingStatus) {
	p.mu.Lock()
	changed := !p.sent || status != p.last
	p.last, p.sent = status, true
	p.mu.Unlock()
	if !changed {
		return
	}

	name, paired := status.PhoneName()
	p.publish("status", StatusEvent{Paired: paired, PhoneName: name, At: p.clock.Now().UTC()})
}

func (p *Publisher) OnSignalReadingChanged(*model.SignalReading) {}

func (p *Publisher) OnSessionUpdated(session.Snapshot) {}

func (p *Publisher) OnTransferThreshold(snap session.Snapshot) {
	p.publish("transfer", TransferEvent{
		SessionID:        snap.ID,
		PhoneName:        snap.PhoneName,
		BytesTransferred: snap.BytesTransferred,
		At:               p.clock.Now().UTC(),
	})
}

// SessionClosed publishes the closed session.
func (p *Publisher) SessionClosed(s model.Session) error {
	return p.publishErr("session.closed", SessionEvent{
		ID:               s.ID,
		PhoneName:        s.PhoneName,
		InterfaceName:    s.InterfaceName,
		StartedAt:        s.StartedAt.UTC(),
		EndedAt:          s.EndedAt.UTC(),
		DurationSec:      s.Duration().Seconds(),
		BytesTransferred: s.BytesTransferred,
	})
}

func (p *Publisher) publish(suffix string, v any) {
	if err := p.publishErr(suffix, v); err != nil {
		p.log.Warn("publish", zap.String("subject", p.Subject(suffix)), zap.Error(err))
	}
}

func (p *Publisher) publishErr(suffix string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(suffix), data)
}
