package domain

import (
	"time"

	"github.com/google/uuid"
)

// Paper references a document submitted for processing. The orchestration core
// only references papers by ID; ownership of paper content and metadata stays
// with the caller-facing layer.
type Paper struct {
	ID         uuid.UUID `json:"id"`
	SourceFile string    `json:"source_file"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// StateTransition is an immutable record of one status change for a paper.
type StateTransition struct {
	PaperID    uuid.UUID              `json:"paper_id"`
	FromStatus ProcessingStatus       `json:"from_status,omitempty"`
	ToStatus   ProcessingStatus       `json:"to_status"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// PaperStateHistory is the ordered, append-only sequence of transitions for
// one paper. The current status is the ToStatus of the last transition.
type PaperStateHistory struct {
	PaperID     uuid.UUID         `json:"paper_id"`
	Transitions []StateTransition `json:"transitions"`
}

// CurrentStatus returns the paper's current status, or false if the paper has
// no recorded history.
func (h *PaperStateHistory) CurrentStatus() (ProcessingStatus, bool) {
	if h == nil || len(h.Transitions) == 0 {
		return "", false
	}
	return h.Transitions[len(h.Transitions)-1].ToStatus, true
}

// TotalProcessingTime returns the elapsed time from the first recorded
// transition to the last one, or to now if the paper is still in flight.
func (h *PaperStateHistory) TotalProcessingTime() time.Duration {
	if h == nil || len(h.Transitions) == 0 {
		return 0
	}
	first := h.Transitions[0].Timestamp
	last := h.Transitions[len(h.Transitions)-1]
	if last.ToStatus.IsTerminal() {
		return last.Timestamp.Sub(first)
	}
	return time.Since(first)
}
