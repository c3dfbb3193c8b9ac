package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-processing-service/internal/bus"
	"github.com/helixir/paper-processing-service/internal/config"
	"github.com/helixir/paper-processing-service/internal/domain"
	"github.com/helixir/paper-processing-service/internal/lifecycle"
	"github.com/helixir/paper-processing-service/internal/pipeline"
	"github.com/helixir/paper-processing-service/internal/repository"
	"github.com/helixir/paper-processing-service/internal/retry"
)

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type serverFixture struct {
	server  *Server
	machine *lifecycle.Machine
	manager *retry.Manager
	events  *bus.Bus
	history *repository.MemoryStateHistoryRepository
}

// newServerFixture wires a full in-memory stack behind the HTTP server. Stage
// handlers all succeed, so submitted papers run the pipeline to completion.
func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	history := repository.NewMemoryStateHistoryRepository()
	deadLetters := repository.NewMemoryDeadLetterRepository()
	events := bus.New(16, nil, zerolog.Nop())
	t.Cleanup(events.Close)

	machine := lifecycle.NewMachine(history, events, nil, zerolog.Nop())

	retryCfg := config.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}
	manager := retry.NewManager(deadLetters, machine, retryCfg, nil, zerolog.Nop())

	pipelineCfg := testServerPipelineConfig()
	registry := pipeline.NewRegistry(pipelineCfg)
	for _, stage := range domain.Stages() {
		require.NoError(t, registry.Register(stage, pipeline.StageHandlerFunc(
			func(_ context.Context, _ *domain.Task) error { return nil },
		)))
	}

	engine := pipeline.NewEngine(pipelineCfg, registry, machine, manager, nil, zerolog.Nop())
	manager.SetEnqueuer(engine)

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	t.Cleanup(func() {
		cancel()
		engine.Stop()
	})

	eventsCfg := config.EventsConfig{
		BufferSize:        16,
		HeartbeatInterval: 50 * time.Millisecond,
		MaxStreamDuration: 5 * time.Second,
	}
	server := NewServer(Config{Address: "127.0.0.1:0"}, eventsCfg, engine, machine, manager, events, history, nil, zerolog.Nop())

	return &serverFixture{
		server:  server,
		machine: machine,
		manager: manager,
		events:  events,
		history: history,
	}
}

func testServerPipelineConfig() config.PipelineConfig {
	queue := config.QueueConfig{Workers: 2, Capacity: 32}
	stage := config.StageConfig{Timeout: time.Second, Idempotent: true}
	return config.PipelineConfig{
		Content:    queue,
		Extraction: queue,
		Graph:      queue,
		Stages: config.StagesConfig{
			Process:               stage,
			ExtractEntities:       stage,
			ExtractRelationships:  stage,
			BuildGraph:            stage,
			Analyze:               stage,
			PrepareImplementation: stage,
		},
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func (f *serverFixture) waitForStatus(t *testing.T, paperID uuid.UUID, want domain.ProcessingStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, err := f.machine.CurrentStatus(context.Background(), paperID)
		return err == nil && status == want
	}, 5*time.Second, 5*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Paper endpoints
// ---------------------------------------------------------------------------

func TestSubmitPaper(t *testing.T) {
	f := newServerFixture(t)

	paperID := uuid.New()
	rec := f.do(t, http.MethodPost, "/api/v1/papers", submitPaperRequest{
		PaperID:    paperID.String(),
		SourceFile: "papers/attention.pdf",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitPaperResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, paperID.String(), resp.PaperID)
	assert.Equal(t, string(domain.StatusQueued), resp.Status)

	f.waitForStatus(t, paperID, domain.StatusImplementationReady)
}

func TestSubmitPaper_GeneratesID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/papers", submitPaperRequest{SourceFile: "papers/bert.pdf"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitPaperResponse
	decodeBody(t, rec, &resp)
	paperID, err := uuid.Parse(resp.PaperID)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, paperID)
}

func TestSubmitPaper_Validation(t *testing.T) {
	f := newServerFixture(t)

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/papers", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing source_file", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/papers", submitPaperRequest{PaperID: uuid.NewString()})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed paper_id", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/papers", submitPaperRequest{
			PaperID:    "not-a-uuid",
			SourceFile: "papers/x.pdf",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSubmitPaper_Duplicate(t *testing.T) {
	f := newServerFixture(t)

	paperID := uuid.New()
	rec := f.do(t, http.MethodPost, "/api/v1/papers", submitPaperRequest{
		PaperID:    paperID.String(),
		SourceFile: "papers/a.pdf",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.waitForStatus(t, paperID, domain.StatusImplementationReady)

	rec = f.do(t, http.MethodPost, "/api/v1/papers", submitPaperRequest{
		PaperID:    paperID.String(),
		SourceFile: "papers/a.pdf",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetPaperStatus(t *testing.T) {
	f := newServerFixture(t)

	paperID := uuid.New()
	rec := f.do(t, http.MethodPost, "/api/v1/papers", submitPaperRequest{
		PaperID:    paperID.String(),
		SourceFile: "papers/a.pdf",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.waitForStatus(t, paperID, domain.StatusImplementationReady)

	rec = f.do(t, http.MethodGet, "/api/v1/papers/"+paperID.String()+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp paperStatusResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, paperID.String(), resp.PaperID)
	assert.Equal(t, string(domain.StatusImplementationReady), resp.Status)
	assert.True(t, resp.Terminal)
	assert.Equal(t, 8, resp.TransitionsLen)
	assert.Len(t, resp.History, 8)
	assert.GreaterOrEqual(t, resp.ProcessingTime, 0.0)
	assert.NotNil(t, resp.UpdatedAt)
}

func TestGetPaperStatus_NotFound(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/papers/"+uuid.NewString()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/papers/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPaperHistory(t *testing.T) {
	f := newServerFixture(t)

	paperID := uuid.New()
	rec := f.do(t, http.MethodPost, "/api/v1/papers", submitPaperRequest{
		PaperID:    paperID.String(),
		SourceFile: "papers/a.pdf",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.waitForStatus(t, paperID, domain.StatusImplementationReady)

	rec = f.do(t, http.MethodGet, "/api/v1/papers/"+paperID.String()+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp paperHistoryResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Transitions, 8)
	assert.Empty(t, resp.Transitions[0].FromStatus)
	assert.Equal(t, string(domain.StatusUploaded), resp.Transitions[0].ToStatus)
	assert.Equal(t, string(domain.StatusImplementationReady), resp.Transitions[7].ToStatus)
	assert.Equal(t, string(domain.StatusImplementationReady), resp.Status)
}

func TestListPapers(t *testing.T) {
	f := newServerFixture(t)

	first := uuid.New()
	second := uuid.New()
	for _, id := range []uuid.UUID{first, second} {
		rec := f.do(t, http.MethodPost, "/api/v1/papers", submitPaperRequest{
			PaperID:    id.String(),
			SourceFile: "papers/a.pdf",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		f.waitForStatus(t, id, domain.StatusImplementationReady)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/papers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listPapersResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)
	assert.ElementsMatch(t, []string{first.String(), second.String()}, resp.PaperIDs)

	rec = f.do(t, http.MethodGet, "/api/v1/papers?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
}

// ---------------------------------------------------------------------------
// Dead letter endpoints
// ---------------------------------------------------------------------------

// quarantineTask puts a paper into the error status with a dead letter record
// and returns the task ID.
func (f *serverFixture) quarantineTask(t *testing.T) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	paperID := uuid.New()
	require.NoError(t, f.machine.Transition(ctx, paperID, domain.StatusUploaded, nil))
	require.NoError(t, f.machine.Transition(ctx, paperID, domain.StatusQueued, nil))

	task := domain.NewTask(pipeline.QueueContent, paperID, domain.StageProcess, nil, 0)
	task.AttemptCount = 3
	require.NoError(t, f.manager.Quarantine(ctx, task, fmt.Errorf("extraction backend unreachable")))
	return task.ID, paperID
}

func TestDeadLetterEndpoints(t *testing.T) {
	f := newServerFixture(t)
	taskID, paperID := f.quarantineTask(t)

	t.Run("list", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/dead-letters", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp listDeadLettersResponse
		decodeBody(t, rec, &resp)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, taskID.String(), resp.DeadLetters[0].TaskID)
		assert.Equal(t, paperID.String(), resp.DeadLetters[0].PaperID)
		assert.Equal(t, 3, resp.DeadLetters[0].AttemptCount)
	})

	t.Run("get", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/dead-letters/"+taskID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp deadLetterResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, string(domain.StageProcess), resp.Stage)
		assert.Contains(t, resp.LastError, "unreachable")
	})

	t.Run("get unknown", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/dead-letters/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("replay", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/dead-letters/"+taskID.String()+"/replay", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		// The replayed task runs the remaining pipeline to completion.
		f.waitForStatus(t, paperID, domain.StatusImplementationReady)

		rec = f.do(t, http.MethodGet, "/api/v1/dead-letters/"+taskID.String(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDeleteDeadLetter(t *testing.T) {
	f := newServerFixture(t)
	taskID, _ := f.quarantineTask(t)

	rec := f.do(t, http.MethodDelete, "/api/v1/dead-letters/"+taskID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/dead-letters/"+taskID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ---------------------------------------------------------------------------
// Health and middleware
// ---------------------------------------------------------------------------

func TestHealthEndpoints_NoDatabase(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]string
	decodeBody(t, rec, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "disabled", health["database"])

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ready struct {
		Status string         `json:"status"`
		Queues map[string]int `json:"queues"`
	}
	decodeBody(t, rec, &ready)
	assert.Equal(t, "ready", ready.Status)
	assert.Len(t, ready.Queues, 3)
}

func TestCorrelationIDMiddleware(t *testing.T) {
	f := newServerFixture(t)

	t.Run("propagates caller header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Correlation-ID", "corr-123")
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "corr-123", rec.Header().Get("X-Correlation-ID"))
	})

	t.Run("generates when absent", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/healthz", nil)
		assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	})
}

// ---------------------------------------------------------------------------
// SSE streams
// ---------------------------------------------------------------------------

func TestStreamGlobalEvents_ConnectionEvent(t *testing.T) {
	f := newServerFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: connection")
	assert.Contains(t, body, "event stream started")
	// At least one heartbeat fits inside the request window.
	assert.Contains(t, body, ": heartbeat")
}

func TestStreamPaperEvents(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	paperID := uuid.New()
	require.NoError(t, f.machine.Transition(ctx, paperID, domain.StatusUploaded, nil))

	t.Run("unknown paper", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/papers/"+uuid.NewString()+"/events", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("closes after terminal event", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		publisherDone := make(chan struct{})
		stopPublisher := make(chan struct{})
		go func() {
			defer close(publisherDone)
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stopPublisher:
					return
				case <-ticker.C:
					f.events.Publish(domain.NewPaperStatusEvent(paperID, domain.StatusImplementationReady, nil))
				}
			}
		}()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/papers/"+paperID.String()+"/events", nil).WithContext(reqCtx)
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)

		close(stopPublisher)
		<-publisherDone

		require.NoError(t, reqCtx.Err(), "stream should close on terminal event, not timeout")
		body := rec.Body.String()
		assert.Contains(t, body, "event: connection")
		assert.Contains(t, body, "event: paper_status")
		assert.Contains(t, body, string(domain.StatusImplementationReady))
	})
}
