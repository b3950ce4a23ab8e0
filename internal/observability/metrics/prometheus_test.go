package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxworkflow/pkg/circuitbreaker"
)

func TestWorkflowCounters(t *testing.T) {
	m := New(nil)

	m.RecordTransition("FILLING", "VERIFICATION")
	m.RecordTransition("FILLING", "VERIFICATION")
	m.RecordFailure("transition", "INVALID_TRANSITION")
	m.RecordAuditFailure()
	m.RecordRelayed("rx.workflow.events", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("FILLING", "VERIFICATION")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationFailures.WithLabelValues("transition", "INVALID_TRANSITION")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxRelayed.WithLabelValues("rx.workflow.events")))
}

func TestBreakerListenerSetsGauge(t *testing.T) {
	m := New(nil)
	l := m.BreakerListener()

	l("claims-switch", circuitbreaker.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("claims-switch")))
	l("claims-switch", circuitbreaker.StateHalfOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("claims-switch")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(nil)
	m.ObserveHTTP("GET", "/api/v1/queue", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rx_http_requests_total{method="GET",route="/api/v1/queue",status="2xx"} 1`)
}
