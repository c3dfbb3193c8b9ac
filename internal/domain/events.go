package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies notification bus events.
type EventType string

// Event type constants for notification events.
const (
	EventTypeConnection   EventType = "connection"
	EventTypePaperStatus  EventType = "paper_status"
	EventTypeSystemStatus EventType = "system_status"
)

// IsValid reports whether the event type is one of the known constants.
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeConnection, EventTypePaperStatus, EventTypeSystemStatus:
		return true
	}
	return false
}

// Event is a notification published on the event bus. Connection events carry
// no paper information; paper_status events always name a paper and its new
// status.
type Event struct {
	Type      EventType              `json:"event_type"`
	PaperID   *uuid.UUID             `json:"paper_id,omitempty"`
	Status    ProcessingStatus       `json:"status,omitempty"`
	Stage     Stage                  `json:"stage,omitempty"`
	Progress  *float64               `json:"progress,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewConnectionEvent creates the greeting event sent to a new subscriber.
func NewConnectionEvent(message string) Event {
	return Event{
		Type:      EventTypeConnection,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewPaperStatusEvent creates a paper_status event for a status change. The
// pipeline progress fraction rides along for statuses that have one; an
// errored paper carries no progress.
func NewPaperStatusEvent(paperID uuid.UUID, status ProcessingStatus, metadata map[string]interface{}) Event {
	id := paperID
	event := Event{
		Type:      EventTypePaperStatus,
		PaperID:   &id,
		Status:    status,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
	if progress, ok := status.Progress(); ok {
		event.Progress = &progress
	}
	return event
}

// NewSystemStatusEvent creates a system_status event.
func NewSystemStatusEvent(message string, metadata map[string]interface{}) Event {
	return Event{
		Type:      EventTypeSystemStatus,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
}
