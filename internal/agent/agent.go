// Package agent drives the desktop side: once per tick it polls the pairing
// machine, advances the session tracker, and hands the results to observers.
package agent

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"tetherctl/internal/model"
	"tetherctl/internal/pairing"
	"tetherctl/internal/session"
)

// DefaultDelay is the pause between the end of one tick and the next.
const DefaultDelay = 5 * time.Second

// Observer receives each tick's values after the tick completes.
type Observer interface {
	OnPairingStatusChanged(status model.PairingStatus)
	OnSignalReadingChanged(reading *model.SignalReading)
	OnSessionUpdated(snap session.Snapshot)
}

// TransferObserver is implemented by observers that want the transfer
// notification.
type TransferObserver interface {
	OnTransferThreshold(snap session.Snapshot)
}

// TickObserver is implemented by observers that want the raw poll result,
// including its failure.
type TickObserver interface {
	OnTick(tick Tick)
}

// Poller is satisfied by *pairing.Machine.
type Poller interface {
	Poll(ctx context.Context) pairing.Result
}

// Tracker is satisfied by *session.Tracker.
type Tracker interface {
	Track(status model.PairingStatus, iface string) session.Snapshot
	Flush()
	Snapshot() session.Snapshot
}

// Tick is everything one iteration produced.
type Tick struct {
	At       time.Time
	Poll     pairing.Result
	Session  session.Snapshot
	Notified bool
}

// Agent runs the periodic loop. Ticks never overlap.
type Agent struct {
	Poller    Poller
	Tracker   Tracker
	Observers []Observer
	Notifier  *session.Notifier
	Delay     time.Duration
	Clock     clock.Clock
	Log       *zap.Logger
}

// Tick runs one poll/track iteration and delivers it to the observers.
func (a *Agent) Tick(ctx context.Context) Tick {
	res := a.Poller.Poll(ctx)
	snap := a.Tracker.Track(res.Status, res.InterfaceName)

	tick := Tick{At: a.clock().Now(), Poll: res, Session: snap}
	if a.Notifier.Check(snap) {
		tick.Notified = true
		a.logger().Info("transfer notification",
			zap.String("phone", snap.PhoneName),
			zap.Uint64("bytes", snap.BytesTransferred),
		)
	}

	a.deliver(tick)
	return tick
}

// Run ticks until ctx is done, then closes any open session.
func (a *Agent) Run(ctx context.Context) error {
	delay := a.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	clk := a.clock()
	log := a.logger()
	log.Info("desktop agent started", zap.Duration("delay", delay))

	defer func() {
		a.Tracker.Flush()
		a.deliverSession(a.Tracker.Snapshot())
		log.Info("desktop agent stopped")
	}()

	for {
		tick := a.Tick(ctx)
		if tick.Poll.Err != nil {
			log.Debug("poll failed", zap.String("reason", pairing.ReasonOf(tick.Poll.Err)), zap.Error(tick.Poll.Err))
		}

		timer := clk.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (a *Agent) deliver(tick Tick) {
	for _, obs := range a.Observers {
		if to, ok := obs.(TickObserver); ok {
			to.OnTick(tick)
		}
		obs.OnPairingStatusChanged(tick.Poll.Status)
		obs.OnSignalReadingChanged(tick.Poll.Reading)
		obs.OnSessionUpdated(tick.Session)
		if tick.Notified {
			if to, ok := obs.(TransferObserver); ok {
				to.OnTransferThreshold(tick.Session)
			}
		}
	}
}

func (a *Agent) deliverSession(snap session.Snapshot) {
	for _, obs := range a.Observers {
		obs.OnSessionUpdated(snap)
	}
}

func (a *Agent) clock() clock.Clock {
	if a.Clock == nil {
		return clock.New()
	}
	return a.Clock
}

func (a *Agent) logger() *zap.Logger {
	if a.Log == nil {
		return zap.NewNop()
	}
	return a.Log
}
