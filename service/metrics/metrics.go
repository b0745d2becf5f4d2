package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC metrics
	rpcCallsTotal   *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec
	rpcRetries      *prometheus.CounterVec

	// Verification metrics
	verificationsTotal *prometheus.CounterVec

	// Ledger metrics
	purchasesAppliedTotal   prometheus.Counter
	creditsGrantedTotal     prometheus.Counter
	duplicateSubmissions    prometheus.Counter
	dbQueryDuration         *prometheus.HistogramVec
	dbOperationsTotal       *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		rpcRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		verificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_verifications_total",
				Help: "Total number of purchase verification attempts by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		purchasesAppliedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_purchases_applied_total",
				Help: "Total number of credit purchases applied to the ledger",
			},
		),
		creditsGrantedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "credits_granted_total",
				Help: "Total number of credits granted across all purchases",
			},
		),
		duplicateSubmissions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "duplicate_purchase_submissions_total",
				Help: "Total number of submissions for an already-processed transaction signature",
			},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status code",
			},
			[]string{"handler", "method", "status"},
		),
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published by status",
			},
			[]string{"status"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its duration.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(method, status).Inc()
	m.rpcCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordRPCRetry records an RPC retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.rpcRetries.WithLabelValues(method, reason).Inc()
}

// RecordVerification records a verification attempt outcome.
// For accepted verifications, reason should be "ok".
func (m *Metrics) RecordVerification(outcome, reason string) {
	m.verificationsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordPurchaseApplied records a purchase applied to the ledger and the
// credits it granted.
func (m *Metrics) RecordPurchaseApplied(credits int) {
	m.purchasesAppliedTotal.Inc()
	m.creditsGrantedTotal.Add(float64(credits))
}

// RecordDuplicateSubmission records a submission for an already-processed
// signature.
func (m *Metrics) RecordDuplicateSubmission() {
	m.duplicateSubmissions.Inc()
}

// RecordDBQuery records a database query with its duration.
func (m *Metrics) RecordDBQuery(operation string, duration float64, err error) {
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration)
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, statusText(statusCode)).Inc()
}

// RecordNATSPublish records a NATS publish attempt.
func (m *Metrics) RecordNATSPublish(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.natsMessagesPublished.WithLabelValues(status).Inc()
}

// statusText buckets status codes into their class ("2xx", "4xx", ...) to
// keep label cardinality low.
func statusText(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
