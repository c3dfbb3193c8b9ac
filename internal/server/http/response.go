package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paper-processing-service/internal/domain"
)

// Response types for JSON serialization.

type submitPaperResponse struct {
	PaperID   string    `json:"paper_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type paperStatusResponse struct {
	PaperID        string               `json:"paper_id"`
	Status         string               `json:"status"`
	Terminal       bool                 `json:"terminal"`
	TransitionsLen int                  `json:"transition_count"`
	History        []transitionResponse `json:"history"`
	UpdatedAt      *time.Time           `json:"updated_at,omitempty"`
	ProcessingTime float64              `json:"total_processing_time_seconds"`
}

type transitionResponse struct {
	FromStatus string                 `json:"from_status,omitempty"`
	ToStatus   string                 `json:"to_status"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type paperHistoryResponse struct {
	PaperID     string               `json:"paper_id"`
	Status      string               `json:"status"`
	Transitions []transitionResponse `json:"transitions"`
}

type listPapersResponse struct {
	PaperIDs []string `json:"paper_ids"`
	Count    int      `json:"count"`
}

type deadLetterResponse struct {
	TaskID        string    `json:"task_id"`
	PaperID       string    `json:"paper_id"`
	Stage         string    `json:"stage"`
	Queue         string    `json:"queue"`
	Priority      int       `json:"priority"`
	LastError     string    `json:"last_error"`
	AttemptCount  int       `json:"attempt_count"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

type listDeadLettersResponse struct {
	DeadLetters []deadLetterResponse `json:"dead_letters"`
	Count       int                  `json:"count"`
}

type replayResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// Converter functions

func historyToStatusResponse(history *domain.PaperStateHistory) paperStatusResponse {
	resp := paperStatusResponse{
		PaperID:        history.PaperID.String(),
		TransitionsLen: len(history.Transitions),
		History:        historyToTransitions(history),
	}
	if status, ok := history.CurrentStatus(); ok {
		resp.Status = string(status)
		resp.Terminal = status.IsTerminal()
	}
	if n := len(history.Transitions); n > 0 {
		last := history.Transitions[n-1].Timestamp
		resp.UpdatedAt = &last
		resp.ProcessingTime = history.TotalProcessingTime().Seconds()
	}
	return resp
}

func historyToTransitions(history *domain.PaperStateHistory) []transitionResponse {
	transitions := make([]transitionResponse, len(history.Transitions))
	for i, t := range history.Transitions {
		transitions[i] = transitionResponse{
			FromStatus: string(t.FromStatus),
			ToStatus:   string(t.ToStatus),
			Timestamp:  t.Timestamp,
			Metadata:   t.Metadata,
		}
	}
	return transitions
}

func historyToHistoryResponse(history *domain.PaperStateHistory) paperHistoryResponse {
	resp := paperHistoryResponse{
		PaperID:     history.PaperID.String(),
		Transitions: historyToTransitions(history),
	}
	if status, ok := history.CurrentStatus(); ok {
		resp.Status = string(status)
	}
	return resp
}

func deadLetterToResponse(record *domain.DeadLetterRecord) deadLetterResponse {
	return deadLetterResponse{
		TaskID:        record.TaskID.String(),
		PaperID:       record.PaperID.String(),
		Stage:         string(record.Stage),
		Queue:         record.Queue,
		Priority:      record.Priority,
		LastError:     record.LastError,
		AttemptCount:  record.AttemptCount,
		QuarantinedAt: record.QuarantinedAt,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a path parameter as a UUID, writing a 400 on failure.
func parseUUID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
