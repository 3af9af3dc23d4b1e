package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return pb.GetCounter().GetValue()
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRPCCall("getBalance", "success", "devnet", 0.1)
		m.RecordOperation("create-token", "success", 3)
		m.RecordFee("create-token", 50_000_000)
		m.RecordStorageOperation("upload", errors.New("boom"))
		m.RecordHTTPRequest("/health", http.MethodGet, 200, 0.01)
	})
}

func TestRecordOperationAndFees(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordOperation("freeze-account", "success", 2)
	m.RecordOperation("freeze-account", "signing", 15)
	m.RecordFee("freeze-account", 5_000_000)
	m.RecordFee("freeze-account", 5_000_000)

	assert.Equal(t, 1.0, counterValue(t, m.operationsTotal.WithLabelValues("freeze-account", "success")))
	assert.Equal(t, 1.0, counterValue(t, m.operationsTotal.WithLabelValues("freeze-account", "signing")))
	assert.Equal(t, 10_000_000.0, counterValue(t, m.feesLamportsTotal.WithLabelValues("freeze-account")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := HTTPMetricsMiddleware(m, "/api/v1/receipts")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/receipts", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1.0, counterValue(t, m.httpRequestsTotal.WithLabelValues("/api/v1/receipts", http.MethodPost, "2xx")))
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(204))
	assert.Equal(t, "4xx", statusCodeToString(404))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(99))
}

func TestRecordDBQuery(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDBQuery("insert", "receipts", 0.002, nil)
	m.RecordDBQuery("insert", "receipts", 0.004, errors.New("conflict"))
	m.RecordWorkflowDuration("verified", 12)

	assert.Equal(t, 1.0, counterValue(t, m.dbOperationsTotal.WithLabelValues("insert", "success")))
	assert.Equal(t, 1.0, counterValue(t, m.dbOperationsTotal.WithLabelValues("insert", "error")))
}
