package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/paper-processing-service/internal/domain"
)

// StateHistoryRepository manages paper lifecycle transition history.
//
// A paper's history is the append-only sequence of its state transitions.
// The current status of a paper is the target of its last transition.
type StateHistoryRepository interface {
	// Get returns the full transition history for a paper in chronological
	// order. Returns domain.ErrNotFound if the paper has no history.
	Get(ctx context.Context, paperID uuid.UUID) (*domain.PaperStateHistory, error)

	// Append records a single transition. The transition must already have
	// been validated against the lifecycle transition table.
	Append(ctx context.Context, transition *domain.StateTransition) error

	// Save replaces a paper's entire history atomically. Either every
	// transition is persisted or none is. Used for replay and import paths.
	Save(ctx context.Context, history *domain.PaperStateHistory) error

	// CurrentStatus returns the target status of the paper's last transition.
	// Returns domain.ErrNotFound if the paper has no history.
	CurrentStatus(ctx context.Context, paperID uuid.UUID) (domain.ProcessingStatus, error)

	// ListPapers returns the IDs of papers with recorded history, most
	// recently updated first.
	ListPapers(ctx context.Context, limit, offset int) ([]uuid.UUID, error)
}
