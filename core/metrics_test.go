package core

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveUpstream("p", 200, time.Millisecond)
		m.IncRotation("p")
		m.IncFallback("c", "success")
		m.IncFrame("data")
		m.IncFunctionCall("f", "success")
		m.IncRoute("pro", "p")
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveUpstream("pro-a", 429, 10*time.Millisecond)
	m.ObserveUpstream("pro-a", 0, 10*time.Millisecond)
	m.IncFallback("fallback-1", "success")
	m.IncRoute(TierPro, "pro-a")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("pro-a", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("pro-a", "transport_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("fallback-1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routeDecisions.WithLabelValues(TierPro, "pro-a")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.IncRotation("generic")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `fronix_gateway_credential_rotations_total{provider="generic"} 1`))
}
