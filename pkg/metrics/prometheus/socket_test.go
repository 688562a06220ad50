package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/knsock/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketMetrics(t *testing.T) {
	metrics.InitRegistry()

	m, ok := NewSocketMetrics().(*socketMetrics)
	require.True(t, ok, "expected prometheus implementation once the registry exists")

	m.RecordConnectionAccepted("json")
	m.RecordConnectionAccepted("json")
	m.RecordConnectionRejected("json")
	m.SetActiveConnections("json", 2)
	m.RecordFrame(metrics.DirectionIn, 128)
	m.RecordRequest("json", 3*time.Millisecond, nil)
	m.RecordRequest("json", time.Millisecond, errors.New("boom"))
	m.RecordTransfer(metrics.OutcomeComplete, 4096, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted.WithLabelValues("json")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsRejected.WithLabelValues("json")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeConnections.WithLabelValues("json")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.frameBytes.WithLabelValues(metrics.DirectionIn)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("json", "error")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.transferBytes))

	t.Run("ServedOverHTTP", func(t *testing.T) {
		srv := metrics.NewServer(metrics.ServerConfig{})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "knsock_connections_accepted_total"))
	})
}
