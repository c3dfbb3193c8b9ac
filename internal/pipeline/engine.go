package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/helixir/paper-processing-service/internal/config"
	"github.com/helixir/paper-processing-service/internal/domain"
	"github.com/helixir/paper-processing-service/internal/observability"
	"github.com/helixir/paper-processing-service/internal/retry"
)

// Lifecycle is the slice of the state machine the engine drives. Implemented
// by lifecycle.Machine.
type Lifecycle interface {
	Transition(ctx context.Context, paperID uuid.UUID, to domain.ProcessingStatus, metadata map[string]interface{}) error
	CurrentStatus(ctx context.Context, paperID uuid.UUID) (domain.ProcessingStatus, error)
}

// taskPayload is the JSON body carried by every stage task for a paper.
type taskPayload struct {
	PaperID    string `json:"paper_id"`
	SourceFile string `json:"source_file,omitempty"`
}

// Engine owns the task queues and worker pools and drives each paper through
// the stage chain: every successful stage commits a status transition and
// enqueues the next stage's task.
type Engine struct {
	cfg      config.PipelineConfig
	queues   map[string]*Queue
	limiters map[string]*rate.Limiter
	registry *Registry
	machine  Lifecycle
	retries  *retry.Manager
	metrics  *observability.Metrics
	logger   zerolog.Logger

	workers sync.WaitGroup
	timers  sync.WaitGroup
	stopCh  chan struct{}
	stopped sync.Once
}

// Compile-time interface verification.
var _ retry.Enqueuer = (*Engine)(nil)

// NewEngine creates the orchestration engine. Call Start to launch workers
// and Stop for a graceful drain.
func NewEngine(cfg config.PipelineConfig, registry *Registry, machine Lifecycle, retries *retry.Manager, metrics *observability.Metrics, logger zerolog.Logger) *Engine {
	queues := make(map[string]*Queue, 3)
	limiters := make(map[string]*rate.Limiter, 3)
	for _, name := range QueueNames() {
		queueCfg, _ := cfg.QueueFor(name)
		queues[name] = NewQueue(name, queueCfg.Capacity)
		if queueCfg.RateLimit > 0 {
			burst := queueCfg.RateBurst
			if burst < 1 {
				burst = 1
			}
			limiters[name] = rate.NewLimiter(rate.Limit(queueCfg.RateLimit), burst)
		}
	}

	return &Engine{
		cfg:      cfg,
		queues:   queues,
		limiters: limiters,
		registry: registry,
		machine:  machine,
		retries:  retries,
		metrics:  metrics,
		logger:   logger.With().Str("component", "pipeline_engine").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the per-queue worker pools. Workers run until the context is
// cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	for _, name := range QueueNames() {
		queueCfg, _ := e.cfg.QueueFor(name)
		workers := queueCfg.Workers
		if workers < 1 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			e.workers.Add(1)
			go e.worker(ctx, e.queues[name], e.limiters[name])
		}
		e.logger.Info().
			Str("queue", name).
			Int("workers", workers).
			Msg("started queue workers")
	}
}

// Stop closes the queues, waits for in-flight work and pending retry timers,
// and returns once everything has drained.
func (e *Engine) Stop() {
	e.stopped.Do(func() {
		close(e.stopCh)
		for _, q := range e.queues {
			q.Close()
		}
	})
	e.timers.Wait()
	e.workers.Wait()
}

// SubmitPaper admits a paper into the pipeline: it is recorded as uploaded,
// moved to queued, and its first stage task is enqueued on the content queue.
func (e *Engine) SubmitPaper(ctx context.Context, paperID uuid.UUID, sourceFile string) error {
	if paperID == uuid.Nil {
		return domain.NewValidationError("paper_id", "paper ID is required")
	}

	metadata := map[string]interface{}{}
	if sourceFile != "" {
		metadata["source_file"] = sourceFile
	}
	if err := e.machine.Transition(ctx, paperID, domain.StatusUploaded, metadata); err != nil {
		return err
	}
	if err := e.machine.Transition(ctx, paperID, domain.StatusQueued, nil); err != nil {
		return err
	}

	payload, err := json.Marshal(taskPayload{PaperID: paperID.String(), SourceFile: sourceFile})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := domain.NewTask(QueueContent, paperID, domain.StageProcess, payload, 0)
	return e.Enqueue(ctx, task)
}

// Enqueue places a task on its queue. Also used by the retry manager to
// re-enqueue replayed dead letters.
func (e *Engine) Enqueue(_ context.Context, task *domain.Task) error {
	if task == nil {
		return domain.NewValidationError("task", "task cannot be nil")
	}
	if !task.Stage.IsValid() {
		return domain.NewValidationError("stage", "unknown stage")
	}
	if task.Queue == "" {
		queue, _ := QueueForStage(task.Stage)
		task.Queue = queue
	}

	q, ok := e.queues[task.Queue]
	if !ok {
		return domain.NewValidationError("queue", "unknown queue")
	}

	if err := q.Enqueue(task); err != nil {
		return fmt.Errorf("failed to enqueue task for stage %s: %w", task.Stage, err)
	}

	if e.metrics != nil {
		e.metrics.RecordTaskEnqueued(task.Queue, string(task.Stage))
	}
	e.updateDepth(task.Queue)

	e.logger.Debug().
		Str("task_id", task.ID.String()).
		Str("paper_id", task.PaperID.String()).
		Str("queue", task.Queue).
		Str("stage", string(task.Stage)).
		Msg("task enqueued")
	return nil
}

// QueueDepths returns the current depth of each queue.
func (e *Engine) QueueDepths() map[string]int {
	depths := make(map[string]int, len(e.queues))
	for name, q := range e.queues {
		depths[name] = q.Depth()
	}
	return depths
}

// worker consumes one queue until shutdown.
func (e *Engine) worker(ctx context.Context, q *Queue, limiter *rate.Limiter) {
	defer e.workers.Done()

	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		delivery, err := q.Dequeue(ctx)
		if err != nil {
			return
		}

		e.execute(ctx, delivery)
		e.updateDepth(q.Name())
	}
}

// execute runs one delivery through its stage handler and records the outcome.
func (e *Engine) execute(ctx context.Context, delivery *Delivery) {
	task := delivery.Task
	task.AttemptCount++

	opts := e.registry.Options(task.Stage)
	logger := e.logger.With().
		Str("task_id", task.ID.String()).
		Str("paper_id", task.PaperID.String()).
		Str("stage", string(task.Stage)).
		Int("attempt", task.AttemptCount).
		Logger()

	target, ok := task.Stage.TargetStatus()
	if !ok {
		e.quarantine(ctx, delivery, domain.NewPermanentStageError(task.Stage, errors.New("stage has no target status")))
		return
	}

	// Redeliveries of work the paper already absorbed are skipped instead of
	// re-executed.
	if opts.Idempotent && e.alreadyApplied(ctx, task.PaperID, target) {
		if e.metrics != nil {
			e.metrics.RecordTaskSkipped(string(task.Stage))
		}
		logger.Info().Msg("paper already past stage target, skipping task")
		delivery.Ack()
		return
	}

	handler, ok := e.registry.Handler(task.Stage)
	if !ok {
		e.quarantine(ctx, delivery, domain.NewPermanentStageError(task.Stage, errors.New("no handler registered")))
		return
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	err := handler.Execute(execCtx, task)
	cancel()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: stage %s exceeded %s", domain.ErrStageTimeout, task.Stage, opts.Timeout)
		}
		e.handleFailure(ctx, delivery, err, opts, logger)
		return
	}

	advanced, err := e.commitStageResult(ctx, task, target)
	if err != nil {
		// A concurrent duplicate may have committed the transition first.
		if errors.Is(err, domain.ErrInvalidTransition) && e.alreadyApplied(ctx, task.PaperID, target) {
			if e.metrics != nil {
				e.metrics.RecordTaskSkipped(string(task.Stage))
			}
			logger.Info().Msg("stage result already committed by another delivery")
			delivery.Ack()
			return
		}
		e.handleFailure(ctx, delivery, err, opts, logger)
		return
	}

	if e.metrics != nil {
		e.metrics.RecordTaskCompleted(task.Queue, string(task.Stage), time.Since(start).Seconds())
	}
	logger.Info().Dur("duration", time.Since(start)).Msg("stage completed")

	// Only a commit that actually moved the paper forward chains the next
	// stage. A redelivered task whose target was already reached must not
	// duplicate the downstream enqueue.
	if advanced {
		e.enqueueNext(ctx, task, logger)
	} else {
		logger.Info().Msg("stage target already reached, not chaining")
	}
	delivery.Ack()
}

// commitStageResult walks the paper's status forward to the stage target and
// reports whether it advanced the paper at all. In normal operation this is a
// single transition. A replayed task finds its paper back at queued and
// catches up through the intermediate statuses its earlier attempts had
// already reached.
func (e *Engine) commitStageResult(ctx context.Context, task *domain.Task, target domain.ProcessingStatus) (bool, error) {
	current, err := e.machine.CurrentStatus(ctx, task.PaperID)
	if err != nil {
		return false, err
	}

	advanced := false
	for !current.AtOrPast(target) {
		next, ok := current.Next()
		if !ok {
			return advanced, domain.NewInvalidTransitionError(task.PaperID, current, target)
		}
		metadata := map[string]interface{}{
			"stage":   string(task.Stage),
			"task_id": task.ID.String(),
		}
		if next != target {
			metadata["caught_up"] = true
		}
		if err := e.machine.Transition(ctx, task.PaperID, next, metadata); err != nil {
			return advanced, err
		}
		advanced = true
		current = next
	}
	return advanced, nil
}

// alreadyApplied reports whether the paper's status is at or past target.
func (e *Engine) alreadyApplied(ctx context.Context, paperID uuid.UUID, target domain.ProcessingStatus) bool {
	current, err := e.machine.CurrentStatus(ctx, paperID)
	if err != nil {
		return false
	}
	return current.AtOrPast(target)
}

// enqueueNext chains the following stage's task, carrying the payload forward.
func (e *Engine) enqueueNext(ctx context.Context, task *domain.Task, logger zerolog.Logger) {
	next, ok := task.Stage.Next()
	if !ok {
		logger.Info().Msg("paper finished the stage chain")
		return
	}

	queue, _ := QueueForStage(next)
	nextTask := domain.NewTask(queue, task.PaperID, next, task.Payload, task.Priority)
	if err := e.Enqueue(ctx, nextTask); err != nil {
		// The paper stalls at its current status; an operator can resume it
		// by replaying the stage once the queue recovers.
		logger.Error().Err(err).
			Str("next_stage", string(next)).
			Msg("failed to enqueue next stage")
	}
}

// handleFailure consults the retry manager and either schedules a delayed
// re-enqueue or quarantines the task.
func (e *Engine) handleFailure(ctx context.Context, delivery *Delivery, taskErr error, opts StageOptions, logger zerolog.Logger) {
	task := delivery.Task
	decision := e.retries.Decide(task, taskErr, opts.MaxAttempts)

	if !decision.Retry {
		logger.Error().Err(taskErr).
			Str("category", decision.Category.String()).
			Msg("task failed, quarantining")
		e.quarantine(ctx, delivery, taskErr)
		return
	}

	if e.metrics != nil {
		e.metrics.RecordTaskRetried(task.Queue, string(task.Stage))
	}
	logger.Warn().Err(taskErr).
		Dur("retry_delay", decision.Delay).
		Msg("task failed, scheduling retry")

	delivery.Nack()
	e.scheduleRetry(task, decision.Delay)
}

// quarantine hands the task to the retry manager's dead-letter path and
// settles the delivery.
func (e *Engine) quarantine(ctx context.Context, delivery *Delivery, cause error) {
	if err := e.retries.Quarantine(ctx, delivery.Task, cause); err != nil {
		e.logger.Error().Err(err).
			Str("task_id", delivery.Task.ID.String()).
			Msg("failed to quarantine task")
	}
	delivery.Ack()
}

// scheduleRetry re-enqueues the task after the backoff delay, unless the
// engine stops first.
func (e *Engine) scheduleRetry(task *domain.Task, delay time.Duration) {
	e.timers.Add(1)
	go func() {
		defer e.timers.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-e.stopCh:
			return
		case <-timer.C:
		}

		if err := e.Enqueue(context.Background(), task); err != nil {
			e.logger.Error().Err(err).
				Str("task_id", task.ID.String()).
				Msg("failed to re-enqueue task for retry")
		}
	}()
}

// updateDepth refreshes the queue depth gauge.
func (e *Engine) updateDepth(queue string) {
	if e.metrics == nil {
		return
	}
	if q, ok := e.queues[queue]; ok {
		e.metrics.SetQueueDepth(queue, q.Depth())
	}
}
