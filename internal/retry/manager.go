// Package retry decides the fate of failed stage tasks: retry with
// exponential backoff, or quarantine to the dead-letter store. It also
// implements operator-driven replay of quarantined tasks.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-processing-service/internal/config"
	"github.com/helixir/paper-processing-service/internal/domain"
	"github.com/helixir/paper-processing-service/internal/observability"
	"github.com/helixir/paper-processing-service/internal/repository"
)

// Enqueuer re-enqueues tasks into the pipeline. Implemented by the
// orchestration engine.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *domain.Task) error
}

// Transitioner applies lifecycle status changes. Implemented by the lifecycle
// machine.
type Transitioner interface {
	Transition(ctx context.Context, paperID uuid.UUID, to domain.ProcessingStatus, metadata map[string]interface{}) error
}

// Decision is the outcome of classifying one failed attempt.
type Decision struct {
	// Retry is true when the task should be re-executed after Delay.
	Retry bool
	// Delay is how long to wait before the next attempt. Zero when Retry is false.
	Delay time.Duration
	// Category is the failure classification that produced the decision.
	Category ErrorCategory
}

// Manager owns retry policy and the dead-letter store.
type Manager struct {
	deadLetters repository.DeadLetterRepository
	machine     Transitioner
	enqueuer    Enqueuer
	cfg         config.RetryConfig
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewManager creates a retry manager. The enqueuer used by Replay is bound
// separately via SetEnqueuer because the engine and the manager reference
// each other.
func NewManager(deadLetters repository.DeadLetterRepository, machine Transitioner, cfg config.RetryConfig, metrics *observability.Metrics, logger zerolog.Logger) *Manager {
	return &Manager{
		deadLetters: deadLetters,
		machine:     machine,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger.With().Str("component", "retry_manager").Logger(),
	}
}

// SetEnqueuer binds the pipeline engine used by Replay. Must be called before
// the first replay; not safe to call concurrently with Replay.
func (m *Manager) SetEnqueuer(enqueuer Enqueuer) {
	m.enqueuer = enqueuer
}

// Decide classifies a failed attempt and returns whether the task should be
// retried. maxAttempts overrides the configured default when positive;
// task.AttemptCount is the number of attempts already made, including the one
// that just failed.
func (m *Manager) Decide(task *domain.Task, taskErr error, maxAttempts int) Decision {
	if maxAttempts <= 0 {
		maxAttempts = m.cfg.MaxAttempts
	}

	category := Classify(taskErr)
	if category == Permanent {
		return Decision{Category: category}
	}
	if task.AttemptCount >= maxAttempts {
		return Decision{Category: category}
	}

	return Decision{
		Retry:    true,
		Delay:    m.Backoff(task.AttemptCount - 1),
		Category: category,
	}
}

// Backoff returns the delay before retry number attempt (zero-based),
// doubling from the configured base and capped at the configured maximum.
func (m *Manager) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := m.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.MaxDelay {
			return m.cfg.MaxDelay
		}
	}
	if delay > m.cfg.MaxDelay {
		return m.cfg.MaxDelay
	}
	return delay
}

// Quarantine moves a task into the dead-letter store and marks its paper as
// errored. The record survives until an operator replays or deletes it.
func (m *Manager) Quarantine(ctx context.Context, task *domain.Task, cause error) error {
	record := &domain.DeadLetterRecord{
		TaskID:        task.ID,
		PaperID:       task.PaperID,
		Stage:         task.Stage,
		Queue:         task.Queue,
		Payload:       task.Payload,
		Priority:      task.Priority,
		LastError:     cause.Error(),
		AttemptCount:  task.AttemptCount,
		QuarantinedAt: time.Now().UTC(),
	}

	if err := m.deadLetters.Save(ctx, record); err != nil {
		// A duplicate means a previous quarantine for this task already
		// succeeded; redelivery made us do it twice.
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("failed to save dead letter: %w", err)
		}
	}

	if m.metrics != nil {
		m.metrics.RecordTaskDeadLettered(task.Queue, string(task.Stage))
	}
	m.logger.Warn().
		Str("task_id", task.ID.String()).
		Str("paper_id", task.PaperID.String()).
		Str("stage", string(task.Stage)).
		Int("attempt_count", task.AttemptCount).
		Str("last_error", record.LastError).
		Msg("task quarantined to dead-letter store")

	err := m.machine.Transition(ctx, task.PaperID, domain.StatusError, map[string]interface{}{
		"stage": string(task.Stage),
		"error": cause.Error(),
	})
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		return fmt.Errorf("failed to mark paper as errored: %w", err)
	}

	return nil
}

// Replay re-enqueues a quarantined task. The paper returns to queued, the
// reconstructed task re-enters its original queue with a fresh attempt
// budget, and the dead-letter record is removed.
func (m *Manager) Replay(ctx context.Context, taskID uuid.UUID) error {
	record, err := m.deadLetters.Get(ctx, taskID)
	if err != nil {
		return err
	}

	err = m.machine.Transition(ctx, record.PaperID, domain.StatusQueued, map[string]interface{}{
		"replayed_task": taskID.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to requeue paper for replay: %w", err)
	}

	if err := m.enqueuer.Enqueue(ctx, record.Task()); err != nil {
		return fmt.Errorf("failed to re-enqueue replayed task: %w", err)
	}

	if err := m.deadLetters.Delete(ctx, taskID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to remove replayed dead letter: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RecordDeadLetterReplayed()
	}
	m.logger.Info().
		Str("task_id", taskID.String()).
		Str("paper_id", record.PaperID.String()).
		Str("stage", string(record.Stage)).
		Msg("dead letter replayed")

	return nil
}

// ListDeadLetters returns quarantined records, most recent first.
func (m *Manager) ListDeadLetters(ctx context.Context, limit, offset int) ([]*domain.DeadLetterRecord, error) {
	return m.deadLetters.List(ctx, limit, offset)
}

// GetDeadLetter returns the record for a task.
func (m *Manager) GetDeadLetter(ctx context.Context, taskID uuid.UUID) (*domain.DeadLetterRecord, error) {
	return m.deadLetters.Get(ctx, taskID)
}

// DeleteDeadLetter discards a quarantined task without replaying it.
func (m *Manager) DeleteDeadLetter(ctx context.Context, taskID uuid.UUID) error {
	return m.deadLetters.Delete(ctx, taskID)
}
