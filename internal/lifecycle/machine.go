// Package lifecycle implements the paper lifecycle state machine. All status
// changes flow through Machine.Transition, which validates the change against
// the transition table, appends it to the persistent history, and publishes a
// paper status event.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-processing-service/internal/domain"
	"github.com/helixir/paper-processing-service/internal/observability"
	"github.com/helixir/paper-processing-service/internal/repository"
)

// validStatusTransitions defines the allowed status transitions for papers.
// This is a package-level variable to avoid re-allocating on every call.
// An errored paper re-enters the pipeline only through an explicit replay,
// which moves it back to queued.
var validStatusTransitions = map[domain.ProcessingStatus][]domain.ProcessingStatus{
	domain.StatusUploaded: {
		domain.StatusQueued,
		domain.StatusError,
	},
	domain.StatusQueued: {
		domain.StatusProcessing,
		domain.StatusError,
	},
	domain.StatusProcessing: {
		domain.StatusExtractingEntities,
		domain.StatusError,
	},
	domain.StatusExtractingEntities: {
		domain.StatusExtractingRelationships,
		domain.StatusError,
	},
	domain.StatusExtractingRelationships: {
		domain.StatusBuildingGraph,
		domain.StatusError,
	},
	domain.StatusBuildingGraph: {
		domain.StatusAnalyzed,
		domain.StatusError,
	},
	domain.StatusAnalyzed: {
		domain.StatusImplementationReady,
		domain.StatusError,
	},
	domain.StatusImplementationReady: {
		domain.StatusError,
	},
	domain.StatusError: {
		domain.StatusQueued,
	},
}

// CanTransition reports whether moving from one status to another is allowed.
// An empty from status means the paper has no history yet; the only valid
// first transition is to uploaded.
func CanTransition(from, to domain.ProcessingStatus) bool {
	if from == "" {
		return to == domain.StatusUploaded
	}

	allowed, ok := validStatusTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// EventPublisher delivers lifecycle events to subscribers. Implemented by the
// event bus; Publish must not block.
type EventPublisher interface {
	Publish(event domain.Event)
}

// Machine serializes and validates all status changes for papers.
type Machine struct {
	history   repository.StateHistoryRepository
	publisher EventPublisher
	metrics   *observability.Metrics
	logger    zerolog.Logger

	locks paperLocks
}

// NewMachine creates a lifecycle machine backed by the given history
// repository. The publisher may be nil, in which case no events are emitted.
func NewMachine(history repository.StateHistoryRepository, publisher EventPublisher, metrics *observability.Metrics, logger zerolog.Logger) *Machine {
	return &Machine{
		history:   history,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Transition moves a paper to a new status. The change is validated against
// the transition table, appended to the history, and published as a
// paper_status event. Concurrent transitions for the same paper are
// serialized; the loser of a race revalidates against the winner's result and
// fails with an InvalidTransitionError if the move is no longer legal.
func (m *Machine) Transition(ctx context.Context, paperID uuid.UUID, to domain.ProcessingStatus, metadata map[string]interface{}) error {
	if paperID == uuid.Nil {
		return domain.NewValidationError("paper_id", "paper ID is required")
	}
	if !to.IsValid() {
		return domain.NewValidationError("to_status", "unknown status")
	}

	m.locks.lock(paperID)
	defer m.locks.unlock(paperID)

	from, err := m.currentStatusLocked(ctx, paperID)
	if err != nil {
		return err
	}

	if !CanTransition(from, to) {
		if m.metrics != nil {
			m.metrics.RecordInvalidTransition(string(from), string(to))
		}
		m.logger.Warn().
			Str("paper_id", paperID.String()).
			Str("from_status", string(from)).
			Str("to_status", string(to)).
			Msg("rejected invalid status transition")
		return domain.NewInvalidTransitionError(paperID, from, to)
	}

	transition := &domain.StateTransition{
		PaperID:    paperID,
		FromStatus: from,
		ToStatus:   to,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	}
	if err := m.history.Append(ctx, transition); err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	m.recordTransitionMetrics(ctx, paperID, from, to)

	m.logger.Info().
		Str("paper_id", paperID.String()).
		Str("from_status", string(from)).
		Str("to_status", string(to)).
		Msg("paper status changed")

	if m.publisher != nil {
		m.publisher.Publish(domain.NewPaperStatusEvent(paperID, to, metadata))
	}

	return nil
}

// CurrentStatus returns a paper's current status.
func (m *Machine) CurrentStatus(ctx context.Context, paperID uuid.UUID) (domain.ProcessingStatus, error) {
	return m.history.CurrentStatus(ctx, paperID)
}

// History returns a paper's full transition history in chronological order.
func (m *Machine) History(ctx context.Context, paperID uuid.UUID) (*domain.PaperStateHistory, error) {
	return m.history.Get(ctx, paperID)
}

// currentStatusLocked reads the paper's current status, mapping a missing
// history to the empty status.
func (m *Machine) currentStatusLocked(ctx context.Context, paperID uuid.UUID) (domain.ProcessingStatus, error) {
	status, err := m.history.CurrentStatus(ctx, paperID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read current status: %w", err)
	}
	return status, nil
}

// recordTransitionMetrics updates the transition counters and, on terminal
// transitions, the end-to-end processing duration.
func (m *Machine) recordTransitionMetrics(ctx context.Context, paperID uuid.UUID, from, to domain.ProcessingStatus) {
	if m.metrics == nil {
		return
	}

	m.metrics.RecordTransition(string(from), string(to))

	switch {
	case to == domain.StatusUploaded:
		m.metrics.RecordPaperIngested()
	case to == domain.StatusImplementationReady || to == domain.StatusError:
		history, err := m.history.Get(ctx, paperID)
		if err != nil {
			return
		}
		seconds := history.TotalProcessingTime().Seconds()
		if to == domain.StatusImplementationReady {
			m.metrics.RecordPaperCompleted(seconds)
		} else {
			m.metrics.RecordPaperFailed(seconds)
		}
	}
}

// paperLocks serializes transitions per paper. Entries are reference counted
// and removed once the last holder releases, so the map does not grow with
// the number of papers ever seen.
type paperLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*paperLock
}

type paperLock struct {
	mu   sync.Mutex
	refs int
}

func (p *paperLocks) lock(paperID uuid.UUID) {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[uuid.UUID]*paperLock)
	}
	l, ok := p.locks[paperID]
	if !ok {
		l = &paperLock{}
		p.locks[paperID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
}

func (p *paperLocks) unlock(paperID uuid.UUID) {
	p.mu.Lock()
	l := p.locks[paperID]
	l.refs--
	if l.refs == 0 {
		delete(p.locks, paperID)
	}
	p.mu.Unlock()

	l.mu.Unlock()
}
