// Package metrics provides Prometheus metrics for the trade valuation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Analysis
	tradesAnalyzed   *prometheus.CounterVec
	analysisLatency  prometheus.Histogram
	analysisErrors   *prometheus.CounterVec
	predictionSource *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec

	// Outcomes and storage
	outcomesRecorded        *prometheus.CounterVec
	duplicateOffers         prometheus.Counter
	storedPredictions       prometheus.Gauge
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Learning
	learningRuns     *prometheus.CounterVec
	learningDuration prometheus.Histogram
	segmentWeights   *prometheus.GaugeVec

	// Drift
	driftRuns        *prometheus.CounterVec
	driftSeverity    *prometheus.GaugeVec
	calibrationGap   *prometheus.GaugeVec
	featurePSI       *prometheus.GaugeVec
	schedulerJobRuns *prometheus.CounterVec

	// Value feed
	feedRefreshes *prometheus.CounterVec
	valueBookSize prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// Runtime
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by the package-level helpers

// customRegistry keeps the default Go collectors out of /metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // shared registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tradevalue",
		subsystem:        "engine",
		histogramBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.tradesAnalyzed = auto.NewCounterVec(m.counterOpts("trades_analyzed_total", "Trade offers analyzed, by segment and tier"), []string{"segment", "tier"})
	m.analysisLatency = auto.NewHistogram(m.histogramOpts("analysis_latency_milliseconds", "End-to-end trade analysis latency", nil))
	m.analysisErrors = auto.NewCounterVec(m.counterOpts("analysis_errors_total", "Trade analyses that failed, by kind"), []string{"kind"})
	m.predictionSource = auto.NewCounterVec(m.counterOpts("prediction_source_total", "Acceptance predictions by weight source"), []string{"segment", "source"})
	m.cacheLookups = auto.NewCounterVec(m.counterOpts("analysis_cache_lookups_total", "Analysis cache lookups by result"), []string{"result"})

	m.outcomesRecorded = auto.NewCounterVec(m.counterOpts("outcomes_recorded_total", "Trade outcomes recorded"), []string{"accepted"})
	m.duplicateOffers = auto.NewCounter(m.counterOpts("duplicate_offers_total", "Offers or outcomes rejected as duplicates"))
	m.storedPredictions = auto.NewGauge(m.gaugeOpts("stored_predictions", "Prediction records held by the store"))
	m.repositoryUpdateLatency = auto.NewHistogram(m.histogramOpts("repository_update_latency_milliseconds", "Store write latency", nil))
	m.repositoryQueryLatency = auto.NewHistogram(m.histogramOpts("repository_query_latency_milliseconds", "Store read latency", nil))

	m.learningRuns = auto.NewCounterVec(m.counterOpts("learning_runs_total", "Weight learning runs by segment and status"), []string{"segment", "status"})
	m.learningDuration = auto.NewHistogram(m.histogramOpts("learning_duration_milliseconds", "Duration of a single segment learning run",
		[]float64{1, 10, 50, 100, 500, 1000, 5000, 30000, 120000}))
	m.segmentWeights = auto.NewGaugeVec(m.gaugeOpts("segment_weight", "Active coefficient per segment; feature b0 is the intercept"), []string{"segment", "feature"})

	m.driftRuns = auto.NewCounterVec(m.counterOpts("drift_runs_total", "Drift detection runs by overall severity"), []string{"severity"})
	m.driftSeverity = auto.NewGaugeVec(m.gaugeOpts("drift_severity", "Latest drift severity rank (0 ok, 1 warn, 2 critical)"), []string{"segment"})
	m.calibrationGap = auto.NewGaugeVec(m.gaugeOpts("calibration_gap", "Latest absolute calibration gap"), []string{"segment"})
	m.featurePSI = auto.NewGaugeVec(m.gaugeOpts("feature_psi", "Latest population stability index per feature"), []string{"feature"})
	m.schedulerJobRuns = auto.NewCounterVec(m.counterOpts("scheduler_job_runs_total", "Scheduled job executions"), []string{"job", "status"})

	m.feedRefreshes = auto.NewCounterVec(m.counterOpts("feed_refreshes_total", "Value feed refresh attempts"), []string{"status"})
	m.valueBookSize = auto.NewGauge(m.gaugeOpts("value_book_assets", "Assets in the active value book"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration", nil), []string{"endpoint", "method", "status_code"})

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Outcome events waiting in the queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Outcome queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_percent", "Outcome queue utilization"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total", "Outcome events enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeued_total", "Outcome events dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Outcome events rejected by the queue"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogramOpts("queue_processing_latency_milliseconds", "Queue operation latency", nil))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured outcome workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Workers currently processing"))
	m.workerIdleCount = auto.NewGauge(m.gaugeOpts("worker_idle_count", "Workers currently idle"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Per-event processing latency", nil))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Events a worker failed to process"))

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Errors by component and type"), []string{"component", "error_type"})
	m.errorsByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total", "HTTP errors by endpoint"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap memory in use"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Live goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_milliseconds", "GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100}))
}

// RecordTradeAnalyzed counts one completed analysis.
func RecordTradeAnalyzed(segment, tier string) {
	globalManager.tradesAnalyzed.WithLabelValues(segment, tier).Inc()
}

// RecordAnalysisLatency observes analysis latency in milliseconds.
func RecordAnalysisLatency(latencyMs float64) {
	globalManager.analysisLatency.Observe(latencyMs)
}

// RecordAnalysisError counts a failed analysis.
func RecordAnalysisError(kind string) {
	globalManager.analysisErrors.WithLabelValues(kind).Inc()
}

// RecordPredictionSource counts which weights served a prediction.
func RecordPredictionSource(segment, source string) {
	globalManager.predictionSource.WithLabelValues(segment, source).Inc()
}

// RecordCacheHit counts an analysis cache hit.
func RecordCacheHit() { globalManager.cacheLookups.WithLabelValues("hit").Inc() }

// RecordCacheMiss counts an analysis cache miss.
func RecordCacheMiss() { globalManager.cacheLookups.WithLabelValues("miss").Inc() }

// RecordCacheError counts a cache backend failure.
func RecordCacheError() { globalManager.cacheLookups.WithLabelValues("error").Inc() }

// RecordOutcomeRecorded counts a stored outcome.
func RecordOutcomeRecorded(accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	globalManager.outcomesRecorded.WithLabelValues(label).Inc()
}

// RecordDuplicate counts a rejected duplicate offer or outcome.
func RecordDuplicate() {
	globalManager.duplicateOffers.Inc()
}

// UpdateStoredPredictions sets the stored prediction count.
func UpdateStoredPredictions(count int) {
	globalManager.storedPredictions.Set(float64(count))
}

// RecordRepositoryUpdateLatency observes a store write.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency observes a store read.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordLearningRun counts a learning run.
func RecordLearningRun(segment, status string, durationMs float64) {
	globalManager.learningRuns.WithLabelValues(segment, status).Inc()
	globalManager.learningDuration.Observe(durationMs)
}

// UpdateSegmentWeight publishes one active coefficient.
func UpdateSegmentWeight(segment, feature string, value float64) {
	globalManager.segmentWeights.WithLabelValues(segment, feature).Set(value)
}

// RecordDriftRun counts a drift run by overall severity.
func RecordDriftRun(severity string) {
	globalManager.driftRuns.WithLabelValues(severity).Inc()
}

// UpdateDriftSeverity publishes the latest severity rank for a segment.
// The all-segment run uses segment "all".
func UpdateDriftSeverity(segment string, rank int) {
	globalManager.driftSeverity.WithLabelValues(segment).Set(float64(rank))
}

// UpdateCalibrationGap publishes the latest calibration gap.
func UpdateCalibrationGap(segment string, gap float64) {
	globalManager.calibrationGap.WithLabelValues(segment).Set(gap)
}

// UpdateFeaturePSI publishes the latest PSI of a feature.
func UpdateFeaturePSI(feature string, psi float64) {
	globalManager.featurePSI.WithLabelValues(feature).Set(psi)
}

// RecordSchedulerJob counts a scheduled job execution.
func RecordSchedulerJob(job, status string) {
	globalManager.schedulerJobRuns.WithLabelValues(job, status).Inc()
}

// RecordFeedRefresh counts a value feed refresh attempt.
func RecordFeedRefresh(status string) {
	globalManager.feedRefreshes.WithLabelValues(status).Inc()
}

// UpdateValueBookSize sets the number of priced assets.
func UpdateValueBookSize(count int) {
	globalManager.valueBookSize.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets queue utilization in percent.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue counts an enqueue.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue counts a dequeue.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordQueueProcessingLatency observes queue operation latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the busy worker count.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the idle worker count.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// RecordWorkerProcessingLatency observes per-event processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed event.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordErrorByComponent counts an error attributed to a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint counts an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap bytes in use.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime observes a GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry served on /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
