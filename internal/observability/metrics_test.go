package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	// Use unique namespace to avoid conflicts with other tests
	m := NewMetrics("test_paper_processing_new")

	assert.NotNil(t, m.PapersIngested)
	assert.NotNil(t, m.PapersCompleted)
	assert.NotNil(t, m.PapersFailed)
	assert.NotNil(t, m.PaperProcessingDuration)
	assert.NotNil(t, m.TransitionsTotal)
	assert.NotNil(t, m.InvalidTransitionsTotal)
	assert.NotNil(t, m.TasksEnqueued)
	assert.NotNil(t, m.TasksCompleted)
	assert.NotNil(t, m.TasksRetried)
	assert.NotNil(t, m.TasksDeadLettered)
	assert.NotNil(t, m.TasksSkipped)
	assert.NotNil(t, m.StageDuration)
	assert.NotNil(t, m.QueueDepth)
	assert.NotNil(t, m.DeadLettersReplayed)
	assert.NotNil(t, m.EventsPublished)
	assert.NotNil(t, m.EventsDropped)
	assert.NotNil(t, m.BusSubscribers)
	assert.NotNil(t, m.StageServiceRequestsTotal)
}

func TestRecordPaperIngested(t *testing.T) {
	m := NewMetrics("test_paper_ingested")

	initial := testutil.ToFloat64(m.PapersIngested)
	m.RecordPaperIngested()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.PapersIngested))
}

func TestRecordPaperCompleted(t *testing.T) {
	m := NewMetrics("test_paper_completed")

	initial := testutil.ToFloat64(m.PapersCompleted)
	m.RecordPaperCompleted(5.5)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.PapersCompleted))

	// Check histogram
	histCount, err := getHistogramSampleCount(m.PaperProcessingDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordPaperFailed(t *testing.T) {
	m := NewMetrics("test_paper_failed")

	initial := testutil.ToFloat64(m.PapersFailed)
	m.RecordPaperFailed(3.0)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.PapersFailed))
}

func TestRecordTransition(t *testing.T) {
	m := NewMetrics("test_transition")

	m.RecordTransition("queued", "processing")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("queued", "processing")))
}

func TestRecordInvalidTransition(t *testing.T) {
	m := NewMetrics("test_invalid_transition")

	m.RecordInvalidTransition("analyzed", "queued")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvalidTransitionsTotal.WithLabelValues("analyzed", "queued")))
}

func TestRecordTaskEnqueued(t *testing.T) {
	m := NewMetrics("test_task_enqueued")

	m.RecordTaskEnqueued("extraction", "extract_entities")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksEnqueued.WithLabelValues("extraction", "extract_entities")))
}

func TestRecordTaskCompleted(t *testing.T) {
	m := NewMetrics("test_task_completed")

	m.RecordTaskCompleted("graph", "build_graph", 1.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksCompleted.WithLabelValues("graph", "build_graph")))
}

func TestRecordTaskRetried(t *testing.T) {
	m := NewMetrics("test_task_retried")

	m.RecordTaskRetried("content", "process")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksRetried.WithLabelValues("content", "process")))
}

func TestRecordTaskDeadLettered(t *testing.T) {
	m := NewMetrics("test_task_dead_lettered")

	m.RecordTaskDeadLettered("graph", "analyze")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksDeadLettered.WithLabelValues("graph", "analyze")))
}

func TestRecordTaskSkipped(t *testing.T) {
	m := NewMetrics("test_task_skipped")

	m.RecordTaskSkipped("process")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksSkipped.WithLabelValues("process")))
}

func TestSetQueueDepth(t *testing.T) {
	m := NewMetrics("test_queue_depth")

	m.SetQueueDepth("extraction", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.QueueDepth.WithLabelValues("extraction")))

	m.SetQueueDepth("extraction", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.QueueDepth.WithLabelValues("extraction")))
}

func TestRecordDeadLetterReplayed(t *testing.T) {
	m := NewMetrics("test_dead_letter_replayed")

	initial := testutil.ToFloat64(m.DeadLettersReplayed)
	m.RecordDeadLetterReplayed()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.DeadLettersReplayed))
}

func TestRecordEventPublished(t *testing.T) {
	m := NewMetrics("test_event_published")

	m.RecordEventPublished("paper_status")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsPublished.WithLabelValues("paper_status")))
}

func TestRecordEventDropped(t *testing.T) {
	m := NewMetrics("test_event_dropped")

	initial := testutil.ToFloat64(m.EventsDropped)
	m.RecordEventDropped()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.EventsDropped))
}

func TestBusSubscriberGauge(t *testing.T) {
	m := NewMetrics("test_bus_subscribers")

	m.AddBusSubscriber()
	m.AddBusSubscriber()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.BusSubscribers))

	m.RemoveBusSubscriber()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BusSubscribers))
}

func TestRecordStageServiceRequest(t *testing.T) {
	m := NewMetrics("test_stage_service_request")

	m.RecordStageServiceRequest("content_extractor", 0.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageServiceRequestsTotal.WithLabelValues("content_extractor")))
}

func TestRecordStageServiceRequestFailed(t *testing.T) {
	m := NewMetrics("test_stage_service_request_failed")

	m.RecordStageServiceRequestFailed("analyzer", "timeout")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageServiceRequestsFailed.WithLabelValues("analyzer", "timeout")))
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
