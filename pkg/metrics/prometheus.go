// Package metrics provides Prometheus metrics for the railflow service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by railflow.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Telemetry ingestion
	telemetryAccepted  prometheus.Counter
	telemetryDuplicate prometheus.Counter
	telemetryStored    prometheus.Counter
	telemetryRejected  *prometheus.CounterVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Traffic control
	conflictsDetected    *prometheus.CounterVec
	optimizationRuns     *prometheus.CounterVec
	optimizationDuration prometheus.Histogram
	plannedDelay         prometheus.Histogram
	recommendations      *prometheus.CounterVec
	predictions          *prometheus.CounterVec
	modelTrainings       *prometheus.CounterVec
	anomaliesDetected    prometheus.Counter
	trainsTracked        prometheus.Gauge
	speedRatio           prometheus.Histogram

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec
	storeRecords *prometheus.GaugeVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByComponent   *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "railflow",
		subsystem:        "control",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.telemetryAccepted = m.counter("telemetry_accepted_total", "Telemetry events accepted for ingestion")
	m.telemetryDuplicate = m.counter("telemetry_duplicate_total", "Telemetry events dropped as duplicates")
	m.telemetryStored = m.counter("telemetry_stored_total", "Telemetry events persisted by workers")
	m.telemetryRejected = m.counterVec("telemetry_rejected_total", "Telemetry events rejected by validation", "reason")

	m.queueSize = m.gauge("queue_size", "Current size of the telemetry queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum telemetry queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Total number of events enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Total number of events dequeued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Enqueue failures by reason", "reason")

	m.workerCount = m.gauge("worker_count", "Number of ingestion workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time spent by a worker on one telemetry event", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Telemetry events a worker failed to record")

	m.conflictsDetected = m.counterVec("conflicts_detected_total", "Conflicts detected by kind", "kind")
	m.optimizationRuns = m.counterVec("optimization_runs_total", "Schedule optimization runs by outcome", "outcome")
	m.optimizationDuration = m.histogram("optimization_duration_milliseconds",
		"Wall time of a schedule optimization run", []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000})
	m.plannedDelay = m.histogram("planned_delay_seconds", "Delay per train in optimized plans",
		[]float64{0, 60, 120, 300, 600, 900, 1800, 3600, 7200})
	m.recommendations = m.counterVec("recommendations_total", "Decision-support recommendations by action", "action")
	m.predictions = m.counterVec("predictions_total", "Model predictions served by model", "model")
	m.modelTrainings = m.counterVec("model_trainings_total", "Model fits by model and outcome", "model", "outcome")
	m.anomaliesDetected = m.counter("anomalies_detected_total", "Traffic windows flagged as anomalous")
	m.trainsTracked = m.gauge("trains_tracked", "Trains with a known live position")
	m.speedRatio = m.histogram("collected_speed_ratio", "Collected train speed over the section's line speed",
		[]float64{0.25, 0.5, 0.75, 0.9, 1})

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Store operation latency",
		m.histogramBuckets, "operation")
	m.storeErrors = m.counterVec("store_errors_total", "Store operation failures", "operation")
	m.storeRecords = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "store_records", Help: "Records held by the store by collection",
	}, []string{"collection"})

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request latency",
		m.histogramBuckets, "endpoint", "method", "status_code")
	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Telemetry.

func RecordTelemetryAccepted()  { globalManager.telemetryAccepted.Inc() }
func RecordTelemetryDuplicate() { globalManager.telemetryDuplicate.Inc() }
func RecordTelemetryStored()    { globalManager.telemetryStored.Inc() }
func RecordTelemetryRejected(reason string) {
	globalManager.telemetryRejected.WithLabelValues(reason).Inc()
}
func UpdateTrainsTracked(count int) { globalManager.trainsTracked.Set(float64(count)) }
func RecordQueueEnqueue()           { globalManager.queueEnqueued.Inc() }
func RecordQueueDequeue()           { globalManager.queueDequeued.Inc() }
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}
func UpdateQueueCapacity(capacity int)         { globalManager.queueCapacity.Set(float64(capacity)) }
func UpdateWorkerCount(count int)              { globalManager.workerCount.Set(float64(count)) }
func RecordWorkerError()                       { globalManager.workerErrors.Inc() }
func RecordWorkerProcessingLatency(ms float64) { globalManager.workerProcessingLatency.Observe(ms) }

// UpdateQueueSize sets the queue size and derives utilization from capacity.
func UpdateQueueSize(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// Traffic control.

// RecordConflict counts one detected conflict of the given kind.
func RecordConflict(kind string) { globalManager.conflictsDetected.WithLabelValues(kind).Inc() }

// RecordOptimization records an optimization run outcome and its wall time.
func RecordOptimization(outcome string, durationMs float64) {
	globalManager.optimizationRuns.WithLabelValues(outcome).Inc()
	globalManager.optimizationDuration.Observe(durationMs)
}

// RecordSpeedRatio records a collected speed as a share of the line speed.
func RecordSpeedRatio(ratio float64) { globalManager.speedRatio.Observe(ratio) }

// RecordPlannedDelay observes the delay one train carries in a plan.
func RecordPlannedDelay(seconds float64) { globalManager.plannedDelay.Observe(seconds) }

// RecordRecommendation counts a decision-support recommendation.
func RecordRecommendation(action string) { globalManager.recommendations.WithLabelValues(action).Inc() }

// RecordPrediction counts n predictions served by model.
func RecordPrediction(model string, n int) {
	globalManager.predictions.WithLabelValues(model).Add(float64(n))
}

// RecordModelTraining counts a model fit attempt.
func RecordModelTraining(model, outcome string) {
	globalManager.modelTrainings.WithLabelValues(model, outcome).Inc()
}

// RecordAnomalies counts anomalous traffic windows.
func RecordAnomalies(n int) { globalManager.anomaliesDetected.Add(float64(n)) }

// Store.

// RecordStoreOperation observes store latency and counts failures.
func RecordStoreOperation(operation string, latencyMs float64, err error) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
	if err != nil {
		globalManager.storeErrors.WithLabelValues(operation).Inc()
	}
}

// UpdateStoreRecords sets the number of records held in a store collection.
func UpdateStoreRecords(collection string, n int) {
	globalManager.storeRecords.WithLabelValues(collection).Set(float64(n))
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent increments the error counter for a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
