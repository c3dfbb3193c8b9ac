package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/helixir/paper-processing-service/internal/domain"
)

// Compile-time interface verification.
var (
	_ StateHistoryRepository = (*MemoryStateHistoryRepository)(nil)
	_ DeadLetterRepository   = (*MemoryDeadLetterRepository)(nil)
)

// MemoryStateHistoryRepository is an in-memory implementation of
// StateHistoryRepository. Used in tests and single-process deployments
// without PostgreSQL.
type MemoryStateHistoryRepository struct {
	mu        sync.RWMutex
	histories map[uuid.UUID][]domain.StateTransition
}

// NewMemoryStateHistoryRepository creates an empty in-memory state history repository.
func NewMemoryStateHistoryRepository() *MemoryStateHistoryRepository {
	return &MemoryStateHistoryRepository{
		histories: make(map[uuid.UUID][]domain.StateTransition),
	}
}

// Get returns the full transition history for a paper in chronological order.
func (r *MemoryStateHistoryRepository) Get(_ context.Context, paperID uuid.UUID) (*domain.PaperStateHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	transitions, ok := r.histories[paperID]
	if !ok || len(transitions) == 0 {
		return nil, domain.NewNotFoundError("paper", paperID.String())
	}

	history := &domain.PaperStateHistory{
		PaperID:     paperID,
		Transitions: make([]domain.StateTransition, len(transitions)),
	}
	copy(history.Transitions, transitions)
	return history, nil
}

// Append records a single transition.
func (r *MemoryStateHistoryRepository) Append(_ context.Context, transition *domain.StateTransition) error {
	if transition == nil {
		return domain.NewValidationError("transition", "transition cannot be nil")
	}
	if transition.PaperID == uuid.Nil {
		return domain.NewValidationError("paper_id", "paper ID is required")
	}
	if !transition.ToStatus.IsValid() {
		return domain.NewValidationError("to_status", "unknown status")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories[transition.PaperID] = append(r.histories[transition.PaperID], *transition)
	return nil
}

// Save replaces a paper's entire history atomically.
func (r *MemoryStateHistoryRepository) Save(_ context.Context, history *domain.PaperStateHistory) error {
	if history == nil {
		return domain.NewValidationError("history", "history cannot be nil")
	}
	if history.PaperID == uuid.Nil {
		return domain.NewValidationError("paper_id", "paper ID is required")
	}

	transitions := make([]domain.StateTransition, len(history.Transitions))
	copy(transitions, history.Transitions)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories[history.PaperID] = transitions
	return nil
}

// CurrentStatus returns the target status of the paper's last transition.
func (r *MemoryStateHistoryRepository) CurrentStatus(_ context.Context, paperID uuid.UUID) (domain.ProcessingStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	transitions, ok := r.histories[paperID]
	if !ok || len(transitions) == 0 {
		return "", domain.NewNotFoundError("paper", paperID.String())
	}
	return transitions[len(transitions)-1].ToStatus, nil
}

// ListPapers returns the IDs of papers with recorded history, most recently
// updated first.
func (r *MemoryStateHistoryRepository) ListPapers(_ context.Context, limit, offset int) ([]uuid.UUID, error) {
	applyPaginationDefaults(&limit, &offset)

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.histories))
	for id := range r.histories {
		if len(r.histories[id]) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		ti := r.histories[ids[i]]
		tj := r.histories[ids[j]]
		return ti[len(ti)-1].Timestamp.After(tj[len(tj)-1].Timestamp)
	})

	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// MemoryDeadLetterRepository is an in-memory implementation of DeadLetterRepository.
type MemoryDeadLetterRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]domain.DeadLetterRecord
}

// NewMemoryDeadLetterRepository creates an empty in-memory dead letter repository.
func NewMemoryDeadLetterRepository() *MemoryDeadLetterRepository {
	return &MemoryDeadLetterRepository{
		records: make(map[uuid.UUID]domain.DeadLetterRecord),
	}
}

// Save persists a dead-letter record.
func (r *MemoryDeadLetterRepository) Save(_ context.Context, record *domain.DeadLetterRecord) error {
	if record == nil {
		return domain.NewValidationError("record", "record cannot be nil")
	}
	if record.TaskID == uuid.Nil {
		return domain.NewValidationError("task_id", "task ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.TaskID]; exists {
		return domain.NewAlreadyExistsError("dead letter", record.TaskID.String())
	}
	r.records[record.TaskID] = *record
	return nil
}

// Get returns the record for a task.
func (r *MemoryDeadLetterRepository) Get(_ context.Context, taskID uuid.UUID) (*domain.DeadLetterRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[taskID]
	if !ok {
		return nil, domain.NewNotFoundError("dead letter", taskID.String())
	}
	return &record, nil
}

// List returns quarantined records, most recently quarantined first.
func (r *MemoryDeadLetterRepository) List(_ context.Context, limit, offset int) ([]*domain.DeadLetterRecord, error) {
	applyPaginationDefaults(&limit, &offset)

	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*domain.DeadLetterRecord, 0, len(r.records))
	for id := range r.records {
		record := r.records[id]
		records = append(records, &record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].QuarantinedAt.After(records[j].QuarantinedAt)
	})

	if offset >= len(records) {
		return nil, nil
	}
	records = records[offset:]
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Delete removes a record.
func (r *MemoryDeadLetterRepository) Delete(_ context.Context, taskID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[taskID]; !ok {
		return domain.NewNotFoundError("dead letter", taskID.String())
	}
	delete(r.records, taskID)
	return nil
}
