package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics.
// Every method is safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Upload coordinator metrics
	UploadTotal         *prometheus.CounterVec
	UploadStageDuration *prometheus.HistogramVec

	// Content store metrics
	ContentStoreOperationTotal    *prometheus.CounterVec
	ContentStoreOperationDuration *prometheus.HistogramVec

	// Ledger metrics
	LedgerTransactionTotal *prometheus.CounterVec

	// Market lookup metrics
	MarketLookupTotal *prometheus.CounterVec

	// Journal (storage) metrics
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Event publishing metrics
	EventPublishTotal    *prometheus.CounterVec
	EventPublishDuration *prometheus.HistogramVec

	// Schema validation metrics
	SchemaValidationTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses the default registry. Collectors already registered there are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidverse_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidverse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		UploadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidverse_uploads_total",
			Help: "Upload coordinator invocations by flow and outcome",
		}, []string{"flow", "outcome"}),

		UploadStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidverse_upload_stage_duration_seconds",
			Help:    "Upload coordinator stage duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "outcome"}),

		ContentStoreOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidverse_content_store_operations_total",
			Help: "Total number of content store operations",
		}, []string{"operation", "status"}),

		ContentStoreOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidverse_content_store_operation_duration_seconds",
			Help:    "Content store operation duration in seconds",
			Buckets: []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation", "status"}),

		LedgerTransactionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidverse_ledger_transactions_total",
			Help: "Ledger transactions by kind and final status",
		}, []string{"kind", "status"}),

		MarketLookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidverse_market_lookups_total",
			Help: "Market data lookups by outcome",
		}, []string{"outcome"}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidverse_storage_operations_total",
			Help: "Total number of journal storage operations",
		}, []string{"operation", "status"}),

		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidverse_storage_operation_duration_seconds",
			Help:    "Journal storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidverse_event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		EventPublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidverse_event_publish_duration_seconds",
			Help:    "Event publish duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type", "status"}),

		SchemaValidationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vidverse_schema_validation_total",
			Help: "Total number of schema validation operations",
		}, []string{"kind", "status"}),
	}

	m.HTTPRequestTotal = registerOrGet(reg, m.HTTPRequestTotal).(*prometheus.CounterVec)
	m.HTTPRequestDuration = registerOrGet(reg, m.HTTPRequestDuration).(*prometheus.HistogramVec)
	m.UploadTotal = registerOrGet(reg, m.UploadTotal).(*prometheus.CounterVec)
	m.UploadStageDuration = registerOrGet(reg, m.UploadStageDuration).(*prometheus.HistogramVec)
	m.ContentStoreOperationTotal = registerOrGet(reg, m.ContentStoreOperationTotal).(*prometheus.CounterVec)
	m.ContentStoreOperationDuration = registerOrGet(reg, m.ContentStoreOperationDuration).(*prometheus.HistogramVec)
	m.LedgerTransactionTotal = registerOrGet(reg, m.LedgerTransactionTotal).(*prometheus.CounterVec)
	m.MarketLookupTotal = registerOrGet(reg, m.MarketLookupTotal).(*prometheus.CounterVec)
	m.StorageOperationTotal = registerOrGet(reg, m.StorageOperationTotal).(*prometheus.CounterVec)
	m.StorageOperationDuration = registerOrGet(reg, m.StorageOperationDuration).(*prometheus.HistogramVec)
	m.EventPublishTotal = registerOrGet(reg, m.EventPublishTotal).(*prometheus.CounterVec)
	m.EventPublishDuration = registerOrGet(reg, m.EventPublishDuration).(*prometheus.HistogramVec)
	m.SchemaValidationTotal = registerOrGet(reg, m.SchemaValidationTotal).(*prometheus.CounterVec)

	return m
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	s := strconv.Itoa(status)
	m.HTTPRequestTotal.WithLabelValues(method, path, s).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, s).Observe(d.Seconds())
}

// ObserveUpload records a finished coordinator invocation.
func (m *Metrics) ObserveUpload(flow, outcome string) {
	if m == nil {
		return
	}
	m.UploadTotal.WithLabelValues(flow, outcome).Inc()
}

// ObserveStage records the duration of one coordinator stage.
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.UploadStageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// ObserveContentStore records one content store call.
func (m *Metrics) ObserveContentStore(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ContentStoreOperationTotal.WithLabelValues(operation, status).Inc()
	m.ContentStoreOperationDuration.WithLabelValues(operation, status).Observe(d.Seconds())
}

// ObserveLedgerTx records a ledger transaction outcome.
func (m *Metrics) ObserveLedgerTx(kind, status string) {
	if m == nil {
		return
	}
	m.LedgerTransactionTotal.WithLabelValues(kind, status).Inc()
}

// ObserveMarketLookup records a market lookup outcome ("ok", "cached", "unavailable").
func (m *Metrics) ObserveMarketLookup(outcome string) {
	if m == nil {
		return
	}
	m.MarketLookupTotal.WithLabelValues(outcome).Inc()
}

// ObserveStorage records one journal storage call.
func (m *Metrics) ObserveStorage(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, status).Observe(d.Seconds())
}

// ObserveEventPublish records one event publish attempt.
func (m *Metrics) ObserveEventPublish(eventType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.EventPublishTotal.WithLabelValues(eventType, status).Inc()
	m.EventPublishDuration.WithLabelValues(eventType, status).Observe(d.Seconds())
}

// ObserveSchemaValidation records a schema validation outcome.
func (m *Metrics) ObserveSchemaValidation(kind, status string) {
	if m == nil {
		return
	}
	m.SchemaValidationTotal.WithLabelValues(kind, status).Inc()
}

// Status maps an error to the "success"/"error" status label.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
