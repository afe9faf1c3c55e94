package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCycle("pool", "ok", time.Second)
		m.RecordEntities("pool", 1, 2, 3)
		m.MarkSyncSuccess(time.Now())
		m.RecordOverlapSkipped()
		m.RecordCrown()
		m.RecordEndpointAttempt("node-1", "ok", time.Millisecond)
		m.SetQuotaRemaining(4)
		m.RecordQuotaWait("quota")
		m.AddInFlight(1)
		m.RecordStoreOp("postgres", "merge_upsert", time.Millisecond, nil)
	})
}

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordEntities("pool", 9, 1, 0)
	m.RecordEndpointAttempt("node-1", "error", time.Millisecond)
	m.RecordEndpointAttempt("node-1", "error", time.Millisecond)
	m.SetQuotaRemaining(7)
	m.RecordStoreOp("postgres", "merge_upsert", time.Millisecond, errors.New("boom"))
	m.RecordCrown()

	body := scrape(t, reg)
	assert.Contains(t, body, `test_sync_entities_updated_total{variant="pool"} 9`)
	assert.Contains(t, body, `test_sync_entities_failed_total{variant="pool"} 1`)
	assert.Contains(t, body, `test_endpoint_attempts_total{endpoint="node-1",outcome="error"} 2`)
	assert.Contains(t, body, `test_ratelimit_quota_remaining 7`)
	assert.Contains(t, body, `test_db_operation_errors_total{operation="merge_upsert",store="postgres"} 1`)
	assert.Contains(t, body, "test_sync_king_of_the_hill_awarded_total 1")
}

func TestNewMetrics_PrivateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("dup", prometheus.NewRegistry())
		NewMetrics("dup", prometheus.NewRegistry())
	})
}
