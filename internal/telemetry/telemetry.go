// Package telemetry exports the desktop agent's state as Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tetherctl/internal/agent"
	"tetherctl/internal/model"
	"tetherctl/internal/pairing"
	"tetherctl/internal/session"
)

const namespace = "tetherctl"

// Metrics is an agent observer that updates its collectors every tick.
type Metrics struct {
	registry *prometheus.Registry

	paired         prometheus.Gauge
	signalQuality  prometheus.Gauge
	sessionBytes   prometheus.Gauge
	pollFailures   *prometheus.CounterVec
	sessionsClosed prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the
// process and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		paired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "paired",
			Help:      "1 while a phone is paired.",
		}),
		signalQuality: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_quality",
			Help:      "Signal bars reported by the phone, -1 when unknown.",
		}),
		sessionBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_bytes",
			Help:      "Bytes transferred in the open session.",
		}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Failed pairing polls by reason.",
		}, []string{"reason"}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions closed since start.",
		}),
	}
	m.signalQuality.Set(-1)
	m.registry.MustRegister(
		m.paired,
		m.signalQuality,
		m.sessionBytes,
		m.pollFailures,
		m.sessionsClosed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OnTick(tick agent.Tick) {
	if tick.Poll.Err != nil {
		m.pollFailures.WithLabelValues(pairing.ReasonOf(tick.Poll.Err)).Inc()
	}
}

func (m *Metrics) OnPairingStatusChanged(status model.PairingStatus) {
	if status.IsPaired() {
		m.paired.Set(1)
		return
	}
	m.paired.Set(0)
}

func (m *Metrics) OnSignalReadingChanged(reading *model.SignalReading) {
	if reading == nil {
		m.signalQuality.Set(-1)
		return
	}
	m.signalQuality.Set(float64(reading.Quality))
}

func (m *Metrics) OnSessionUpdated(snap session.Snapshot) {
	m.sessionBytes.Set(float64(snap.BytesTransferred))
}

// SessionClosed counts closed sessions.
func (m *Metrics) SessionClosed(model.Session) error {
	m.sessionsClosed.Inc()
	return nil
}
