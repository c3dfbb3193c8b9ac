// Package domain provides domain models and business logic for the Paper Processing Service.
package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingStatus_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		status ProcessingStatus
		valid  bool
	}{
		{name: "uploaded", status: StatusUploaded, valid: true},
		{name: "queued", status: StatusQueued, valid: true},
		{name: "processing", status: StatusProcessing, valid: true},
		{name: "extracting entities", status: StatusExtractingEntities, valid: true},
		{name: "extracting relationships", status: StatusExtractingRelationships, valid: true},
		{name: "building graph", status: StatusBuildingGraph, valid: true},
		{name: "analyzed", status: StatusAnalyzed, valid: true},
		{name: "implementation ready", status: StatusImplementationReady, valid: true},
		{name: "error", status: StatusError, valid: true},
		{name: "empty", status: ProcessingStatus(""), valid: false},
		{name: "unknown", status: ProcessingStatus("done"), valid: false},
		{name: "case sensitive", status: ProcessingStatus("Uploaded"), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.IsValid())
		})
	}
}

func TestProcessingStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   ProcessingStatus
		terminal bool
	}{
		{StatusUploaded, false},
		{StatusQueued, false},
		{StatusProcessing, false},
		{StatusExtractingEntities, false},
		{StatusExtractingRelationships, false},
		{StatusBuildingGraph, false},
		{StatusAnalyzed, false},
		{StatusImplementationReady, true},
		{StatusError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestProcessingStatus_Next(t *testing.T) {
	tests := []struct {
		name   string
		status ProcessingStatus
		next   ProcessingStatus
		ok     bool
	}{
		{name: "uploaded to queued", status: StatusUploaded, next: StatusQueued, ok: true},
		{name: "queued to processing", status: StatusQueued, next: StatusProcessing, ok: true},
		{name: "analyzed to implementation ready", status: StatusAnalyzed, next: StatusImplementationReady, ok: true},
		{name: "implementation ready is last", status: StatusImplementationReady, ok: false},
		{name: "error has no successor", status: StatusError, ok: false},
		{name: "invalid status", status: ProcessingStatus("bogus"), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := tt.status.Next()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.next, next)
			}
		})
	}
}

func TestProcessingStatus_Progress(t *testing.T) {
	tests := []struct {
		name     string
		status   ProcessingStatus
		progress float64
		ok       bool
	}{
		{name: "uploaded starts at zero", status: StatusUploaded, progress: 0, ok: true},
		{name: "implementation ready is complete", status: StatusImplementationReady, progress: 1, ok: true},
		{name: "building graph is mid pipeline", status: StatusBuildingGraph, progress: 5.0 / 7.0, ok: true},
		{name: "error has no position", status: StatusError, ok: false},
		{name: "invalid status", status: ProcessingStatus("bogus"), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			progress, ok := tt.status.Progress()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.progress, progress, 1e-9)
			}
		})
	}
}

func TestNewPaperStatusEvent_Progress(t *testing.T) {
	paperID := uuid.New()

	event := NewPaperStatusEvent(paperID, StatusAnalyzed, nil)
	require.NotNil(t, event.Progress)
	assert.InDelta(t, 6.0/7.0, *event.Progress, 1e-9)

	errored := NewPaperStatusEvent(paperID, StatusError, nil)
	assert.Nil(t, errored.Progress)
}

func TestProcessingStatus_AtOrPast(t *testing.T) {
	tests := []struct {
		name     string
		status   ProcessingStatus
		target   ProcessingStatus
		expected bool
	}{
		{name: "same status", status: StatusProcessing, target: StatusProcessing, expected: true},
		{name: "later status", status: StatusBuildingGraph, target: StatusProcessing, expected: true},
		{name: "earlier status", status: StatusQueued, target: StatusAnalyzed, expected: false},
		{name: "implementation ready past everything", status: StatusImplementationReady, target: StatusUploaded, expected: true},
		{name: "error never at or past", status: StatusError, target: StatusUploaded, expected: false},
		{name: "target error never reached", status: StatusImplementationReady, target: StatusError, expected: false},
		{name: "invalid status", status: ProcessingStatus("bogus"), target: StatusQueued, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.AtOrPast(tt.target))
		})
	}
}

func TestStage_TargetStatus(t *testing.T) {
	tests := []struct {
		stage  Stage
		target ProcessingStatus
	}{
		{StageProcess, StatusProcessing},
		{StageExtractEntities, StatusExtractingEntities},
		{StageExtractRelationships, StatusExtractingRelationships},
		{StageBuildGraph, StatusBuildingGraph},
		{StageAnalyze, StatusAnalyzed},
		{StagePrepareImplementation, StatusImplementationReady},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			target, ok := tt.stage.TargetStatus()
			require.True(t, ok)
			assert.Equal(t, tt.target, target)
		})
	}

	t.Run("unknown stage", func(t *testing.T) {
		_, ok := Stage("compress").TargetStatus()
		assert.False(t, ok)
	})
}

func TestStage_Next(t *testing.T) {
	t.Run("chains through the full pipeline", func(t *testing.T) {
		order := []Stage{
			StageProcess,
			StageExtractEntities,
			StageExtractRelationships,
			StageBuildGraph,
			StageAnalyze,
			StagePrepareImplementation,
		}
		for i := 0; i < len(order)-1; i++ {
			next, ok := order[i].Next()
			require.True(t, ok, "stage %s should have a successor", order[i])
			assert.Equal(t, order[i+1], next)
		}
	})

	t.Run("final stage has no successor", func(t *testing.T) {
		_, ok := StagePrepareImplementation.Next()
		assert.False(t, ok)
	})

	t.Run("matches Stages order", func(t *testing.T) {
		assert.Equal(t, []Stage{
			StageProcess,
			StageExtractEntities,
			StageExtractRelationships,
			StageBuildGraph,
			StageAnalyze,
			StagePrepareImplementation,
		}, Stages())
	})
}

func TestPaperStateHistory_CurrentStatus(t *testing.T) {
	paperID := uuid.New()

	t.Run("empty history has no status", func(t *testing.T) {
		h := PaperStateHistory{PaperID: paperID}
		_, ok := h.CurrentStatus()
		assert.False(t, ok)
	})

	t.Run("returns last transition target", func(t *testing.T) {
		h := PaperStateHistory{
			PaperID: paperID,
			Transitions: []StateTransition{
				{PaperID: paperID, ToStatus: StatusUploaded},
				{PaperID: paperID, FromStatus: StatusUploaded, ToStatus: StatusQueued},
				{PaperID: paperID, FromStatus: StatusQueued, ToStatus: StatusProcessing},
			},
		}
		status, ok := h.CurrentStatus()
		require.True(t, ok)
		assert.Equal(t, StatusProcessing, status)
	})
}

func TestPaperStateHistory_TotalProcessingTime(t *testing.T) {
	paperID := uuid.New()
	start := time.Now().Add(-10 * time.Minute)

	t.Run("terminal history spans first to last transition", func(t *testing.T) {
		h := PaperStateHistory{
			PaperID: paperID,
			Transitions: []StateTransition{
				{PaperID: paperID, ToStatus: StatusUploaded, Timestamp: start},
				{PaperID: paperID, FromStatus: StatusUploaded, ToStatus: StatusQueued, Timestamp: start.Add(time.Minute)},
				{PaperID: paperID, FromStatus: StatusQueued, ToStatus: StatusError, Timestamp: start.Add(5 * time.Minute)},
			},
		}
		assert.Equal(t, 5*time.Minute, h.TotalProcessingTime())
	})

	t.Run("in-flight history measures from first transition to now", func(t *testing.T) {
		h := PaperStateHistory{
			PaperID: paperID,
			Transitions: []StateTransition{
				{PaperID: paperID, ToStatus: StatusUploaded, Timestamp: start},
			},
		}
		elapsed := h.TotalProcessingTime()
		assert.GreaterOrEqual(t, elapsed, 10*time.Minute)
	})

	t.Run("empty history has zero duration", func(t *testing.T) {
		h := PaperStateHistory{PaperID: paperID}
		assert.Equal(t, time.Duration(0), h.TotalProcessingTime())
	})
}

func TestInvalidTransitionError(t *testing.T) {
	paperID := uuid.New()

	t.Run("unwraps to sentinel", func(t *testing.T) {
		err := NewInvalidTransitionError(paperID, StatusAnalyzed, StatusQueued)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
		assert.Contains(t, err.Error(), "analyzed -> queued")
	})

	t.Run("initial transition message", func(t *testing.T) {
		err := NewInvalidTransitionError(paperID, "", StatusQueued)
		assert.Contains(t, err.Error(), "initial status must be uploaded")
	})
}

func TestStageError(t *testing.T) {
	cause := errors.New("connection refused")

	t.Run("transient", func(t *testing.T) {
		err := NewTransientStageError(StageProcess, cause)
		assert.False(t, err.Permanent)
		assert.True(t, errors.Is(err, cause))
		assert.Contains(t, err.Error(), "transient")
	})

	t.Run("permanent", func(t *testing.T) {
		err := NewPermanentStageError(StageAnalyze, cause)
		assert.True(t, err.Permanent)
		assert.Contains(t, err.Error(), "permanent")
	})
}

func TestDeadLetterRecord_Task(t *testing.T) {
	rec := &DeadLetterRecord{
		TaskID:        uuid.New(),
		Stage:         StageBuildGraph,
		PaperID:       uuid.New(),
		Queue:         "graph",
		Payload:       []byte(`{"depth":2}`),
		Priority:      1,
		LastError:     "timeout",
		AttemptCount:  3,
		QuarantinedAt: time.Now(),
	}

	task := rec.Task()
	assert.Equal(t, rec.TaskID, task.ID)
	assert.Equal(t, rec.Queue, task.Queue)
	assert.Equal(t, rec.PaperID, task.PaperID)
	assert.Equal(t, rec.Stage, task.Stage)
	assert.Equal(t, rec.Payload, task.Payload)
	assert.Equal(t, 0, task.AttemptCount)
}
