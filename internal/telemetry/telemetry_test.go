package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tetherctl/internal/agent"
	"tetherctl/internal/discovery"
	"tetherctl/internal/model"
	"tetherctl/internal/pairing"
	"tetherctl/internal/session"
)

func TestMetrics_FollowTicks(t *testing.T) {
	t.Parallel()

	m := New()
	assert.Equal(t, float64(-1), testutil.ToFloat64(m.signalQuality))

	reading := model.SignalReading{Quality: model.ThreeBars, Type: model.TypeLTE}
	m.OnPairingStatusChanged(model.Paired("p"))
	m.OnSignalReadingChanged(&reading)
	m.OnSessionUpdated(session.Snapshot{Active: true, BytesTransferred: 70})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.paired))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.signalQuality))
	assert.Equal(t, float64(70), testutil.ToFloat64(m.sessionBytes))

	m.OnTick(agent.Tick{Poll: pairing.Result{Status: model.Unpaired(), Err: discovery.ErrDiscoveryFailed}})
	m.OnTick(agent.Tick{Poll: pairing.Result{Status: model.Unpaired(), Err: discovery.ErrDiscoveryFailed}})
	m.OnTick(agent.Tick{Poll: pairing.Result{Status: model.Unpaired(), Err: errors.New("x")}})
	m.OnPairingStatusChanged(model.Unpaired())
	m.OnSignalReadingChanged(nil)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.pollFailures.WithLabelValues("not_found")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.pollFailures.WithLabelValues("other")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.paired))
	assert.Equal(t, float64(-1), testutil.ToFloat64(m.signalQuality))

	require.NoError(t, m.SessionClosed(model.Session{}))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sessionsClosed))
}

func TestHandler_Exposes(t *testing.T) {
	t.Parallel()

	m := New()
	m.OnPairingStatusChanged(model.Paired("p"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "tetherctl_paired 1"), body)
	assert.Contains(t, body, "go_goroutines")
}
