package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper processing service.
// Metrics are organized by subsystem: papers, transitions, tasks, retries,
// dead letters, events, and stage collaborators. All counters and histograms
// are registered via promauto for automatic registration with the default
// Prometheus registry.
type Metrics struct {
	// PapersIngested counts the total number of papers accepted into the pipeline.
	PapersIngested prometheus.Counter

	// PapersCompleted counts the total number of papers that reached implementation_ready.
	PapersCompleted prometheus.Counter

	// PapersFailed counts the total number of papers that ended in the error status.
	PapersFailed prometheus.Counter

	// PaperProcessingDuration observes end-to-end paper processing time in seconds.
	PaperProcessingDuration prometheus.Histogram

	// TransitionsTotal counts lifecycle transitions, labeled by from and to status.
	TransitionsTotal *prometheus.CounterVec

	// InvalidTransitionsTotal counts rejected lifecycle transitions, labeled by from and to status.
	InvalidTransitionsTotal *prometheus.CounterVec

	// TasksEnqueued counts tasks enqueued, labeled by queue and stage.
	TasksEnqueued *prometheus.CounterVec

	// TasksCompleted counts tasks acknowledged after success, labeled by queue and stage.
	TasksCompleted *prometheus.CounterVec

	// TasksRetried counts tasks re-enqueued after a transient failure, labeled by queue and stage.
	TasksRetried *prometheus.CounterVec

	// TasksDeadLettered counts tasks quarantined after exhausting retries, labeled by queue and stage.
	TasksDeadLettered *prometheus.CounterVec

	// TasksSkipped counts idempotent short-circuits, labeled by stage.
	TasksSkipped *prometheus.CounterVec

	// StageDuration observes stage execution duration in seconds, labeled by stage.
	StageDuration *prometheus.HistogramVec

	// QueueDepth tracks the number of pending tasks per queue.
	QueueDepth *prometheus.GaugeVec

	// DeadLettersReplayed counts dead-letter records replayed by an operator.
	DeadLettersReplayed prometheus.Counter

	// EventsPublished counts notification events published, labeled by event type.
	EventsPublished *prometheus.CounterVec

	// EventsDropped counts events dropped because a subscriber's buffer was full.
	EventsDropped prometheus.Counter

	// BusSubscribers tracks the number of active event bus subscribers.
	BusSubscribers prometheus.Gauge

	// StageServiceRequestsTotal counts HTTP requests to stage collaborators, labeled by service.
	StageServiceRequestsTotal *prometheus.CounterVec

	// StageServiceRequestsFailed counts failed HTTP requests to stage collaborators,
	// labeled by service and error type.
	StageServiceRequestsFailed *prometheus.CounterVec

	// StageServiceRequestDuration observes HTTP request duration to stage collaborators in seconds.
	StageServiceRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Papers
		PapersIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_ingested_total",
			Help:      "Total number of papers accepted into the pipeline",
		}),
		PapersCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_completed_total",
			Help:      "Total number of papers that reached implementation_ready",
		}),
		PapersFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_failed_total",
			Help:      "Total number of papers that ended in the error status",
		}),
		PaperProcessingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "paper_processing_duration_seconds",
			Help:      "End-to-end paper processing time in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),

		// Transitions
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of lifecycle transitions by from and to status",
		}, []string{"from", "to"}),
		InvalidTransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_transitions_total",
			Help:      "Total number of rejected lifecycle transitions by from and to status",
		}, []string{"from", "to"}),

		// Tasks
		TasksEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Total number of tasks enqueued by queue and stage",
		}, []string{"queue", "stage"}),
		TasksCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed by queue and stage",
		}, []string{"queue", "stage"}),
		TasksRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_retried_total",
			Help:      "Total number of tasks retried by queue and stage",
		}, []string{"queue", "stage"}),
		TasksDeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dead_lettered_total",
			Help:      "Total number of tasks quarantined by queue and stage",
		}, []string{"queue", "stage"}),
		TasksSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_skipped_total",
			Help:      "Total number of idempotent stage short-circuits by stage",
		}, []string{"stage"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of stage executions in seconds by stage",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of pending tasks per queue",
		}, []string{"queue"}),

		// Dead letters
		DeadLettersReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_replayed_total",
			Help:      "Total number of dead-letter records replayed",
		}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of notification events published by type",
		}, []string{"type"}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped due to full subscriber buffers",
		}),
		BusSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_subscribers",
			Help:      "Number of active event bus subscribers",
		}),

		// Stage collaborators
		StageServiceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_service_requests_total",
			Help:      "Total number of requests to stage collaborator services",
		}, []string{"service"}),
		StageServiceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_service_requests_failed_total",
			Help:      "Total number of failed requests to stage collaborator services",
		}, []string{"service", "error_type"}),
		StageServiceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_service_request_duration_seconds",
			Help:      "Duration of requests to stage collaborator services in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service"}),
	}
}

// RecordPaperIngested records a paper accepted into the pipeline.
func (m *Metrics) RecordPaperIngested() {
	m.PapersIngested.Inc()
}

// RecordPaperCompleted records a paper that reached implementation_ready.
func (m *Metrics) RecordPaperCompleted(durationSeconds float64) {
	m.PapersCompleted.Inc()
	m.PaperProcessingDuration.Observe(durationSeconds)
}

// RecordPaperFailed records a paper that ended in the error status.
func (m *Metrics) RecordPaperFailed(durationSeconds float64) {
	m.PapersFailed.Inc()
	m.PaperProcessingDuration.Observe(durationSeconds)
}

// RecordTransition records an accepted lifecycle transition.
func (m *Metrics) RecordTransition(from, to string) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordInvalidTransition records a rejected lifecycle transition.
func (m *Metrics) RecordInvalidTransition(from, to string) {
	m.InvalidTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordTaskEnqueued records a task enqueued to a queue.
func (m *Metrics) RecordTaskEnqueued(queue, stage string) {
	m.TasksEnqueued.WithLabelValues(queue, stage).Inc()
}

// RecordTaskCompleted records a task acknowledged after success.
func (m *Metrics) RecordTaskCompleted(queue, stage string, durationSeconds float64) {
	m.TasksCompleted.WithLabelValues(queue, stage).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordTaskRetried records a task re-enqueued after a transient failure.
func (m *Metrics) RecordTaskRetried(queue, stage string) {
	m.TasksRetried.WithLabelValues(queue, stage).Inc()
}

// RecordTaskDeadLettered records a task quarantined after exhausting retries.
func (m *Metrics) RecordTaskDeadLettered(queue, stage string) {
	m.TasksDeadLettered.WithLabelValues(queue, stage).Inc()
}

// RecordTaskSkipped records an idempotent stage short-circuit.
func (m *Metrics) RecordTaskSkipped(stage string) {
	m.TasksSkipped.WithLabelValues(stage).Inc()
}

// SetQueueDepth sets the pending task count for a queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordDeadLetterReplayed records a dead-letter record replayed by an operator.
func (m *Metrics) RecordDeadLetterReplayed() {
	m.DeadLettersReplayed.Inc()
}

// RecordEventPublished records a notification event published to the bus.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event dropped due to a full subscriber buffer.
func (m *Metrics) RecordEventDropped() {
	m.EventsDropped.Inc()
}

// AddBusSubscriber records a new event bus subscriber.
func (m *Metrics) AddBusSubscriber() {
	m.BusSubscribers.Inc()
}

// RemoveBusSubscriber records an event bus subscriber going away.
func (m *Metrics) RemoveBusSubscriber() {
	m.BusSubscribers.Dec()
}

// RecordStageServiceRequest records a request to a stage collaborator service.
func (m *Metrics) RecordStageServiceRequest(service string, durationSeconds float64) {
	m.StageServiceRequestsTotal.WithLabelValues(service).Inc()
	m.StageServiceRequestDuration.WithLabelValues(service).Observe(durationSeconds)
}

// RecordStageServiceRequestFailed records a failed request to a stage collaborator service.
func (m *Metrics) RecordStageServiceRequestFailed(service, errorType string) {
	m.StageServiceRequestsFailed.WithLabelValues(service, errorType).Inc()
}
