package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec

	// Operation Metrics
	operationsTotal        *prometheus.CounterVec
	operationDuration      *prometheus.HistogramVec
	signingWaitDuration    *prometheus.HistogramVec
	confirmationDuration   *prometheus.HistogramVec
	feesLamportsTotal      *prometheus.CounterVec
	storageOperationsTotal *prometheus.CounterVec

	// Verification Metrics
	verifyWorkflowDuration *prometheus.HistogramVec
	verifyActivityDuration *prometheus.HistogramVec
	receiptsVerifiedTotal  *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),

		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_operations_total",
				Help: "Total number of token operations by kind and terminal outcome",
			},
			[]string{"kind", "outcome"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "token_operation_duration_seconds",
				Help:    "End-to-end duration of token operations in seconds",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"kind"},
		),
		signingWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "token_signing_wait_seconds",
				Help:    "Time spent waiting on the wallet to sign",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"outcome"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "token_confirmation_seconds",
				Help:    "Time from broadcast to confirmation outcome",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 90},
			},
			[]string{"outcome"},
		),
		feesLamportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_fees_lamports_total",
				Help: "Service fees paid by confirmed operations, in lamports",
			},
			[]string{"kind"},
		),
		storageOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metadata_storage_operations_total",
				Help: "Calls to the metadata storage network by step and status",
			},
			[]string{"step", "status"},
		),

		verifyWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verify_workflow_duration_seconds",
				Help:    "Duration of receipt verification workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		verifyActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verify_activity_duration_seconds",
				Help:    "Duration of receipt verification activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),
		receiptsVerifiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipts_verified_total",
				Help: "Receipts checked against the chain by verification status",
			},
			[]string{"kind", "status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"owner"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"owner", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// Operation metric helpers

// RecordOperation records a finished operation. Outcome is the error kind,
// or "success".
func (m *Metrics) RecordOperation(kind, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(kind, outcome).Inc()
	m.operationDuration.WithLabelValues(kind).Observe(duration)
}

// RecordSigningWait records how long the wallet took to answer.
func (m *Metrics) RecordSigningWait(outcome string, duration float64) {
	if m == nil {
		return
	}
	m.signingWaitDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordConfirmation records the time from broadcast to a confirmation outcome.
func (m *Metrics) RecordConfirmation(outcome string, duration float64) {
	if m == nil {
		return
	}
	m.confirmationDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordFee adds a confirmed operation's fee to the running total.
func (m *Metrics) RecordFee(kind string, lamports uint64) {
	if m == nil {
		return
	}
	m.feesLamportsTotal.WithLabelValues(kind).Add(float64(lamports))
}

// RecordStorageOperation records one call to the metadata storage network.
func (m *Metrics) RecordStorageOperation(step string, err error) {
	if m == nil {
		return
	}
	m.storageOperationsTotal.WithLabelValues(step, errStatus(err)).Inc()
}

// Verification metric helpers

// RecordWorkflowDuration records verification workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	if m == nil {
		return
	}
	m.verifyWorkflowDuration.WithLabelValues(status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.verifyActivityDuration.WithLabelValues(activity).Observe(duration)
}

// RecordReceiptVerified records the outcome of checking a receipt on chain.
func (m *Metrics) RecordReceiptVerified(kind, status string) {
	if m == nil {
		return
	}
	m.receiptsVerifiedTotal.WithLabelValues(kind, status).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(owner string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(owner).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(owner, eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(owner, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func errStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
