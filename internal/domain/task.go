package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task is one unit of dispatchable stage work. Tasks are created by the
// orchestration engine when enqueuing, carry their attempt count across
// redeliveries, and are destroyed once acknowledged.
type Task struct {
	ID           uuid.UUID       `json:"task_id"`
	Queue        string          `json:"queue"`
	PaperID      uuid.UUID       `json:"paper_id"`
	Stage        Stage           `json:"stage"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	Priority     int             `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewTask creates a task for the given stage with a fresh ID and zero attempts.
func NewTask(queue string, paperID uuid.UUID, stage Stage, payload json.RawMessage, priority int) *Task {
	return &Task{
		ID:        uuid.New(),
		Queue:     queue,
		PaperID:   paperID,
		Stage:     stage,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// DeadLetterRecord holds a task removed from normal processing after
// exhausting its retries (or failing permanently). Records are never destroyed
// automatically; an operator must replay or delete them.
//
// Queue, Payload, and Priority are retained so the original task can be
// re-enqueued verbatim on replay.
type DeadLetterRecord struct {
	TaskID        uuid.UUID       `json:"task_id"`
	Stage         Stage           `json:"stage"`
	PaperID       uuid.UUID       `json:"paper_id"`
	Queue         string          `json:"queue"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      int             `json:"priority"`
	LastError     string          `json:"last_error"`
	AttemptCount  int             `json:"attempt_count"`
	QuarantinedAt time.Time       `json:"quarantined_at"`
}

// Task reconstructs the original task from the record with the attempt count
// reset to zero, ready for re-enqueue.
func (r *DeadLetterRecord) Task() *Task {
	return &Task{
		ID:        r.TaskID,
		Queue:     r.Queue,
		PaperID:   r.PaperID,
		Stage:     r.Stage,
		Payload:   r.Payload,
		Priority:  r.Priority,
		CreatedAt: time.Now().UTC(),
	}
}
