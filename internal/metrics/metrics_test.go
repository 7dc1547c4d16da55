package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveCheck("ok")
	m.ObserveCheck("ok")
	m.ObserveCheck("banned")
	m.ObserveAdmin("ban", "banned")
	m.ObserveRegister("registered")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checks.WithLabelValues("banned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.adminActions.WithLabelValues("ban", "banned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registers.WithLabelValues("registered")))
}

func TestHandler_Exposes(t *testing.T) {
	m := New()
	m.ObserveRequest("/check", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `licensed_http_requests_total{code="200",route="/check"} 1`)
}
