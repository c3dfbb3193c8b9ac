package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-processing-service/internal/domain"
)

// Compile-time interface verification.
var _ DeadLetterRepository = (*PgDeadLetterRepository)(nil)

// PgDeadLetterRepository is a PostgreSQL implementation of DeadLetterRepository.
type PgDeadLetterRepository struct {
	db DBTX
}

// NewPgDeadLetterRepository creates a new PostgreSQL dead letter repository.
func NewPgDeadLetterRepository(db DBTX) *PgDeadLetterRepository {
	return &PgDeadLetterRepository{db: db}
}

// Save persists a dead-letter record.
func (r *PgDeadLetterRepository) Save(ctx context.Context, record *domain.DeadLetterRecord) error {
	if record == nil {
		return domain.NewValidationError("record", "record cannot be nil")
	}
	if record.TaskID == uuid.Nil {
		return domain.NewValidationError("task_id", "task ID is required")
	}
	if record.PaperID == uuid.Nil {
		return domain.NewValidationError("paper_id", "paper ID is required")
	}

	query := `
		INSERT INTO dead_letters (
			task_id, paper_id, stage, queue, payload, priority,
			last_error, attempt_count, quarantined_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		record.TaskID, record.PaperID, record.Stage, record.Queue,
		record.Payload, record.Priority,
		record.LastError, record.AttemptCount, record.QuarantinedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("dead letter", record.TaskID.String())
		}
		return fmt.Errorf("failed to save dead letter: %w", err)
	}

	return nil
}

// Get returns the record for a task.
func (r *PgDeadLetterRepository) Get(ctx context.Context, taskID uuid.UUID) (*domain.DeadLetterRecord, error) {
	query := `
		SELECT task_id, paper_id, stage, queue, payload, priority,
			last_error, attempt_count, quarantined_at
		FROM dead_letters
		WHERE task_id = $1`

	row := r.db.QueryRow(ctx, query, taskID)
	record, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("dead letter", taskID.String())
		}
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}

	return record, nil
}

// List returns quarantined records, most recently quarantined first.
func (r *PgDeadLetterRepository) List(ctx context.Context, limit, offset int) ([]*domain.DeadLetterRecord, error) {
	applyPaginationDefaults(&limit, &offset)

	query := `
		SELECT task_id, paper_id, stage, queue, payload, priority,
			last_error, attempt_count, quarantined_at
		FROM dead_letters
		ORDER BY quarantined_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var records []*domain.DeadLetterRecord
	for rows.Next() {
		record, err := scanDeadLetterFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	return records, nil
}

// Delete removes a record.
func (r *PgDeadLetterRepository) Delete(ctx context.Context, taskID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM dead_letters WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("dead letter", taskID.String())
	}

	return nil
}

// deadLetterScanDest holds the destination pointers for scanning a
// DeadLetterRecord row.
type deadLetterScanDest struct {
	record domain.DeadLetterRecord
}

// destinations returns the slice of pointers for Scan operations.
func (d *deadLetterScanDest) destinations() []interface{} {
	return []interface{}{
		&d.record.TaskID, &d.record.PaperID, &d.record.Stage, &d.record.Queue,
		&d.record.Payload, &d.record.Priority,
		&d.record.LastError, &d.record.AttemptCount, &d.record.QuarantinedAt,
	}
}

// scanDeadLetter scans a single row into a DeadLetterRecord.
func scanDeadLetter(row pgx.Row) (*domain.DeadLetterRecord, error) {
	var dest deadLetterScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return &dest.record, nil
}

// scanDeadLetterFromRows scans the current row from pgx.Rows into a DeadLetterRecord.
func scanDeadLetterFromRows(rows pgx.Rows) (*domain.DeadLetterRecord, error) {
	var dest deadLetterScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return &dest.record, nil
}
