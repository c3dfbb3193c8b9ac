package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/paper-processing-service/internal/bus"
	"github.com/helixir/paper-processing-service/internal/domain"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultMaxStreamDuration = 4 * time.Hour
)

// streamGlobalEvents handles GET /api/v1/events (SSE). Every lifecycle event
// in the system is forwarded to the subscriber.
func (s *Server) streamGlobalEvents(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, bus.TopicGlobal, "event stream started", nil)
}

// streamPaperEvents handles GET /api/v1/papers/{paperID}/events (SSE). Only
// events for the named paper are forwarded. The stream closes after the
// paper's terminal event.
func (s *Server) streamPaperEvents(w http.ResponseWriter, r *http.Request) {
	paperID, ok := parseUUID(w, chi.URLParam(r, "paperID"), "paperID")
	if !ok {
		return
	}

	// Unknown papers get a 404 instead of a stream that never produces.
	if _, err := s.machine.CurrentStatus(r.Context(), paperID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeDomainError(w, err)
			return
		}
		// Lookup failures are not fatal for streaming; the paper may appear
		// while the stream is open.
		s.logger.Warn().Err(err).Str("paper_id", paperID.String()).Msg("paper lookup failed before stream")
	}

	// Bus delivery drops on a full subscriber buffer, so the heartbeat tick
	// also polls the authoritative status and resends it when it moved.
	poll := func(ctx context.Context) (domain.Event, bool) {
		status, err := s.machine.CurrentStatus(ctx, paperID)
		if err != nil {
			return domain.Event{}, false
		}
		return domain.NewPaperStatusEvent(paperID, status, nil), true
	}

	s.streamEvents(w, r, bus.PaperTopic(paperID), "paper event stream started", poll)
}

// streamEvents runs the SSE loop for a single subscription until the client
// disconnects, the stream deadline passes, or (for paper topics) a terminal
// event is delivered. pollStatus, when non-nil, supplies the authoritative
// paper status as a fallback for dropped bus events.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, topic, greeting string, pollStatus func(context.Context) (domain.Event, bool)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := s.events.Subscribe(topic)
	defer sub.Close()

	sendSSEEvent(w, flusher, domain.NewConnectionEvent(greeting))

	heartbeat := s.eventsCfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	maxDuration := s.eventsCfg.MaxStreamDuration
	if maxDuration <= 0 {
		maxDuration = defaultMaxStreamDuration
	}

	deadlineTimer := time.NewTimer(maxDuration)
	defer deadlineTimer.Stop()
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	var lastStatus domain.ProcessingStatus

	for {
		select {
		case <-r.Context().Done():
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, domain.NewSystemStatusEvent("stream max duration exceeded", nil))
			return

		case event, open := <-sub.C:
			if !open {
				// Bus shut down.
				return
			}
			sendSSEEvent(w, flusher, event)
			if event.Type == domain.EventTypePaperStatus && topic != bus.TopicGlobal {
				lastStatus = event.Status
				if event.Status.IsTerminal() {
					return
				}
			}

		case <-ticker.C:
			// Keepalive comment so proxies do not reap the connection.
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

			// Catch up on anything the bus dropped while the buffer was full.
			if pollStatus != nil {
				if event, ok := pollStatus(r.Context()); ok && event.Status != lastStatus {
					sendSSEEvent(w, flusher, event)
					lastStatus = event.Status
					if event.Status.IsTerminal() {
						return
					}
				}
			}
		}
	}
}

// sendSSEEvent writes a single SSE frame and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	flusher.Flush()
}
