package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/paper-processing-service/internal/database"
	"github.com/helixir/paper-processing-service/internal/domain"
)

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// transactor matches *database.DB: managed transactions plus the
// transaction-scoped advisory lock that serializes whole-history rewrites of
// the same paper.
type transactor interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
	AcquireAdvisoryLockTx(ctx context.Context, tx pgx.Tx, key int64) error
}

// txBeginner matches a bare pool (e.g., *pgxpool.Pool). Used by Save to wrap
// the full-history rewrite in a transaction when the underlying DBTX is a
// pool rather than an existing transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Compile-time interface verification.
var _ StateHistoryRepository = (*PgStateHistoryRepository)(nil)

// PgStateHistoryRepository is a PostgreSQL implementation of StateHistoryRepository.
type PgStateHistoryRepository struct {
	db DBTX
}

// NewPgStateHistoryRepository creates a new PostgreSQL state history repository.
func NewPgStateHistoryRepository(db DBTX) *PgStateHistoryRepository {
	return &PgStateHistoryRepository{db: db}
}

// Append records a single transition.
func (r *PgStateHistoryRepository) Append(ctx context.Context, transition *domain.StateTransition) error {
	if transition == nil {
		return domain.NewValidationError("transition", "transition cannot be nil")
	}
	if transition.PaperID == uuid.Nil {
		return domain.NewValidationError("paper_id", "paper ID is required")
	}
	if !transition.ToStatus.IsValid() {
		return domain.NewValidationError("to_status", "unknown status")
	}

	metadataJSON, err := marshalMetadata(transition.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO paper_state_transitions (
			paper_id, from_status, to_status, metadata, occurred_at
		) VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.Exec(ctx, query,
		transition.PaperID,
		nullStatus(transition.FromStatus),
		transition.ToStatus,
		metadataJSON,
		transition.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}

	return nil
}

// Get returns the full transition history for a paper in chronological order.
func (r *PgStateHistoryRepository) Get(ctx context.Context, paperID uuid.UUID) (*domain.PaperStateHistory, error) {
	query := `
		SELECT paper_id, from_status, to_status, metadata, occurred_at
		FROM paper_state_transitions
		WHERE paper_id = $1
		ORDER BY occurred_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, paperID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	history := &domain.PaperStateHistory{PaperID: paperID}
	for rows.Next() {
		transition, err := scanTransitionFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		history.Transitions = append(history.Transitions, *transition)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transitions: %w", err)
	}

	if len(history.Transitions) == 0 {
		return nil, domain.NewNotFoundError("paper", paperID.String())
	}

	return history, nil
}

// Save replaces a paper's entire history atomically.
//
// The production *database.DB routes the delete and inserts through its
// managed transaction helper, holding a per-paper advisory lock so two
// concurrent rewrites of the same paper serialize. A bare pool gets an
// explicit Begin/Commit; a DBTX that is already a transaction runs inline.
// Either way a failure leaves the previous history intact.
func (r *PgStateHistoryRepository) Save(ctx context.Context, history *domain.PaperStateHistory) error {
	if history == nil {
		return domain.NewValidationError("history", "history cannot be nil")
	}
	if history.PaperID == uuid.Nil {
		return domain.NewValidationError("paper_id", "paper ID is required")
	}

	switch db := r.db.(type) {
	case transactor:
		return db.WithTransaction(ctx, func(tx pgx.Tx) error {
			if err := db.AcquireAdvisoryLockTx(ctx, tx, database.PaperAdvisoryKey(history.PaperID)); err != nil {
				return fmt.Errorf("failed to lock paper history: %w", err)
			}
			txRepo := &PgStateHistoryRepository{db: tx}
			return txRepo.saveInTx(ctx, history)
		})

	case txBeginner:
		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for save: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgStateHistoryRepository{db: tx}
		if err := txRepo.saveInTx(ctx, history); err != nil {
			return err
		}
		return tx.Commit(ctx)

	default:
		return r.saveInTx(ctx, history)
	}
}

// saveInTx performs the actual delete and insert within the current DBTX.
func (r *PgStateHistoryRepository) saveInTx(ctx context.Context, history *domain.PaperStateHistory) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM paper_state_transitions WHERE paper_id = $1`,
		history.PaperID,
	); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	for i := range history.Transitions {
		if err := r.Append(ctx, &history.Transitions[i]); err != nil {
			return err
		}
	}

	return nil
}

// CurrentStatus returns the target status of the paper's last transition.
func (r *PgStateHistoryRepository) CurrentStatus(ctx context.Context, paperID uuid.UUID) (domain.ProcessingStatus, error) {
	query := `
		SELECT to_status
		FROM paper_state_transitions
		WHERE paper_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT 1`

	var status domain.ProcessingStatus
	err := r.db.QueryRow(ctx, query, paperID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.NewNotFoundError("paper", paperID.String())
		}
		return "", fmt.Errorf("failed to get current status: %w", err)
	}

	return status, nil
}

// ListPapers returns the IDs of papers with recorded history, most recently updated first.
func (r *PgStateHistoryRepository) ListPapers(ctx context.Context, limit, offset int) ([]uuid.UUID, error) {
	applyPaginationDefaults(&limit, &offset)

	query := `
		SELECT paper_id
		FROM paper_state_transitions
		GROUP BY paper_id
		ORDER BY MAX(occurred_at) DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan paper ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read paper IDs: %w", err)
	}

	return ids, nil
}

// transitionScanDest holds the destination pointers for scanning a
// StateTransition row. This eliminates code duplication between pgx.Row and
// pgx.Rows scanning.
type transitionScanDest struct {
	transition   domain.StateTransition
	fromStatus   *string
	metadataJSON []byte
}

// destinations returns the slice of pointers for Scan operations.
func (d *transitionScanDest) destinations() []interface{} {
	return []interface{}{
		&d.transition.PaperID, &d.fromStatus, &d.transition.ToStatus,
		&d.metadataJSON, &d.transition.Timestamp,
	}
}

// finalize performs post-scan processing: sets nullable fields and unmarshals JSON.
func (d *transitionScanDest) finalize() (*domain.StateTransition, error) {
	if d.fromStatus != nil {
		d.transition.FromStatus = domain.ProcessingStatus(*d.fromStatus)
	}

	if len(d.metadataJSON) > 0 {
		if err := json.Unmarshal(d.metadataJSON, &d.transition.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &d.transition, nil
}

// scanTransitionFromRows scans the current row from pgx.Rows into a StateTransition.
func scanTransitionFromRows(rows pgx.Rows) (*domain.StateTransition, error) {
	var dest transitionScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// marshalMetadata serializes transition metadata, mapping nil to NULL.
func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// nullStatus returns a pointer to the status string if non-empty, otherwise nil.
func nullStatus(s domain.ProcessingStatus) *string {
	if s == "" {
		return nil
	}
	str := string(s)
	return &str
}
