package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/petropulse/internal/api"
	"github.com/nhle/petropulse/internal/metrics"
	"github.com/nhle/petropulse/internal/push"
)

var (
	_ push.Observer = (*metrics.Metrics)(nil)
	_ api.Observer  = (*metrics.Metrics)(nil)
)

func TestStateGaugeTracksCurrentState(t *testing.T) {
	_, m := metrics.NewRegistry()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushState.WithLabelValues("disconnected")))

	m.StateChanged(push.Connecting)
	m.StateChanged(push.Connected)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushState.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PushState.WithLabelValues("connecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PushState.WithLabelValues("disconnected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushStateChanges.WithLabelValues("connected")))
}

func TestCounters(t *testing.T) {
	_, m := metrics.NewRegistry()

	m.TransportError()
	m.TransportError()
	m.EventReceived()
	m.EventDropped()
	m.AlertRemoved()
	m.ObserveRequest("GET", 200, 20*time.Millisecond)
	m.ObserveRequest("GET", 0, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PushTransportErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushEvents.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushEvents.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsRemoved))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequests.WithLabelValues("GET", "error")))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg, m := metrics.NewRegistry()
	m.EventReceived()

	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `petropulse_push_events_total{outcome="delivered"} 1`))
}
