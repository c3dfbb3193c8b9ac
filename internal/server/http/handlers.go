package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/paper-processing-service/internal/domain"
)

var validate = validator.New()

// submitPaperRequest is the body for POST /api/v1/papers. PaperID is
// optional; one is generated when omitted so callers can fire-and-forget.
type submitPaperRequest struct {
	PaperID    string `json:"paper_id,omitempty" validate:"omitempty,uuid"`
	SourceFile string `json:"source_file" validate:"required,max=2048"`
}

// submitPaper handles POST /api/v1/papers. It registers the paper with the
// lifecycle machine and enqueues the first pipeline stage.
func (s *Server) submitPaper(w http.ResponseWriter, r *http.Request) {
	var req submitPaperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	paperID := uuid.New()
	if req.PaperID != "" {
		// Already shape-checked by the validator.
		paperID = uuid.MustParse(req.PaperID)
	}

	if err := s.engine.SubmitPaper(r.Context(), paperID, req.SourceFile); err != nil {
		s.logger.Error().Err(err).Str("paper_id", paperID.String()).Msg("paper submission failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitPaperResponse{
		PaperID:   paperID.String(),
		Status:    string(domain.StatusQueued),
		Message:   "paper accepted for processing",
		CreatedAt: time.Now().UTC(),
	})
}

// listPapers handles GET /api/v1/papers with limit and offset query params.
func (s *Server) listPapers(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 0)
	offset := parseIntQuery(r, "offset", 0)

	ids, err := s.historyRepo.ListPapers(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list papers")
		writeDomainError(w, err)
		return
	}

	resp := listPapersResponse{PaperIDs: make([]string, 0, len(ids)), Count: len(ids)}
	for _, id := range ids {
		resp.PaperIDs = append(resp.PaperIDs, id.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

// getPaperStatus handles GET /api/v1/papers/{paperID}/status.
func (s *Server) getPaperStatus(w http.ResponseWriter, r *http.Request) {
	paperID, ok := parseUUID(w, chi.URLParam(r, "paperID"), "paperID")
	if !ok {
		return
	}

	history, err := s.machine.History(r.Context(), paperID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, historyToStatusResponse(history))
}

// getPaperHistory handles GET /api/v1/papers/{paperID}/history.
func (s *Server) getPaperHistory(w http.ResponseWriter, r *http.Request) {
	paperID, ok := parseUUID(w, chi.URLParam(r, "paperID"), "paperID")
	if !ok {
		return
	}

	history, err := s.machine.History(r.Context(), paperID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, historyToHistoryResponse(history))
}

// listDeadLetters handles GET /api/v1/dead-letters.
func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 0)
	offset := parseIntQuery(r, "offset", 0)

	records, err := s.retries.ListDeadLetters(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list dead letters")
		writeDomainError(w, err)
		return
	}

	resp := listDeadLettersResponse{DeadLetters: make([]deadLetterResponse, 0, len(records)), Count: len(records)}
	for _, record := range records {
		resp.DeadLetters = append(resp.DeadLetters, deadLetterToResponse(record))
	}
	writeJSON(w, http.StatusOK, resp)
}

// getDeadLetter handles GET /api/v1/dead-letters/{taskID}.
func (s *Server) getDeadLetter(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseUUID(w, chi.URLParam(r, "taskID"), "taskID")
	if !ok {
		return
	}

	record, err := s.retries.GetDeadLetter(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deadLetterToResponse(record))
}

// replayDeadLetter handles POST /api/v1/dead-letters/{taskID}/replay. The
// quarantined task is re-enqueued with a fresh attempt budget and the paper
// returns to the queued status.
func (s *Server) replayDeadLetter(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseUUID(w, chi.URLParam(r, "taskID"), "taskID")
	if !ok {
		return
	}

	if err := s.retries.Replay(r.Context(), taskID); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID.String()).Msg("dead letter replay failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, replayResponse{
		TaskID:  taskID.String(),
		Message: "task re-enqueued",
	})
}

// deleteDeadLetter handles DELETE /api/v1/dead-letters/{taskID}.
func (s *Server) deleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseUUID(w, chi.URLParam(r, "taskID"), "taskID")
	if !ok {
		return
	}

	if err := s.retries.DeleteDeadLetter(r.Context(), taskID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseIntQuery reads an integer query parameter, returning fallback when
// absent or malformed. Repository pagination normalizes out-of-range values.
func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
