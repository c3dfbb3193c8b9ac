package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/paper-processing-service/internal/domain"
)

// DeadLetterRepository manages quarantined task records.
//
// Records are never removed automatically. An operator replays or deletes
// them explicitly.
type DeadLetterRepository interface {
	// Save persists a dead-letter record. Returns domain.ErrAlreadyExists
	// if a record for the same task is already quarantined.
	Save(ctx context.Context, record *domain.DeadLetterRecord) error

	// Get returns the record for a task. Returns domain.ErrNotFound if no
	// record exists.
	Get(ctx context.Context, taskID uuid.UUID) (*domain.DeadLetterRecord, error)

	// List returns quarantined records, most recently quarantined first.
	List(ctx context.Context, limit, offset int) ([]*domain.DeadLetterRecord, error)

	// Delete removes a record. Returns domain.ErrNotFound if no record
	// exists. Called after a successful replay or an operator discard.
	Delete(ctx context.Context, taskID uuid.UUID) error
}
