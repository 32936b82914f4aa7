package agent

import (
	"fmt"

	"go.uber.org/zap"

	"tetherctl/internal/model"
	"tetherctl/internal/session"
)

// LogObserver logs pairing transitions and reading changes.
type LogObserver struct {
	Log *zap.Logger

	status  model.PairingStatus
	reading *model.SignalReading
}

// NewLogObserver returns an observer writing to log.
func NewLogObserver(log *zap.Logger) *LogObserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogObserver{Log: log.Named("status")}
}

func (o *LogObserver) OnPairingStatusChanged(status model.PairingStatus) {
	if status == o.status {
		return
	}
	o.Log.Info("pairing status", zap.Stringer("from", o.status), zap.Stringer("to", status))
	o.status = status
}

func (o *LogObserver) OnSignalReadingChanged(reading *model.SignalReading) {
	if sameReading(o.reading, reading) {
		return
	}
	if reading == nil {
		o.Log.Info("signal reading cleared")
	} else {
		o.Log.Info("signal reading", zap.Stringer("quality", reading.Quality), zap.String("type", string(reading.Type)))
	}
	o.reading = cloneReading(reading)
}

func (o *LogObserver) OnSessionUpdated(session.Snapshot) {}

func (o *LogObserver) OnTransferThreshold(snap session.Snapshot) {
	o.Log.Info("data transferred this session",
		zap.String("phone", snap.PhoneName),
		zap.String("total", FormatBytes(snap.BytesTransferred)),
	)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Status  func(model.PairingStatus)
	Reading func(*model.SignalReading)
	Session func(session.Snapshot)
}

func (f ObserverFuncs) OnPairingStatusChanged(s model.PairingStatus) {
	if f.Status != nil {
		f.Status(s)
	}
}

func (f ObserverFuncs) OnSignalReadingChanged(r *model.SignalReading) {
	if f.Reading != nil {
		f.Reading(r)
	}
}

func (f ObserverFuncs) OnSessionUpdated(s session.Snapshot) {
	if f.Session != nil {
		f.Session(s)
	}
}

func sameReading(a, b *model.SignalReading) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneReading(r *model.SignalReading) *model.SignalReading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// FormatBytes renders n with binary units, e.g. "50.0 MiB".
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
