package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-processing-service/internal/domain"
	"github.com/helixir/paper-processing-service/internal/repository"
)

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturingPublisher) Publish(event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturingPublisher) captured() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Event, len(p.events))
	copy(out, p.events)
	return out
}

func newTestMachine() (*Machine, *capturingPublisher) {
	publisher := &capturingPublisher{}
	machine := NewMachine(repository.NewMemoryStateHistoryRepository(), publisher, nil, zerolog.Nop())
	return machine, publisher
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from domain.ProcessingStatus
		to   domain.ProcessingStatus
		want bool
	}{
		{"first transition to uploaded", "", domain.StatusUploaded, true},
		{"first transition skipping uploaded", "", domain.StatusQueued, false},
		{"uploaded to queued", domain.StatusUploaded, domain.StatusQueued, true},
		{"queued to processing", domain.StatusQueued, domain.StatusProcessing, true},
		{"skip a pipeline step", domain.StatusQueued, domain.StatusExtractingEntities, false},
		{"backwards move", domain.StatusAnalyzed, domain.StatusQueued, false},
		{"any status to error", domain.StatusBuildingGraph, domain.StatusError, true},
		{"error to queued", domain.StatusError, domain.StatusQueued, true},
		{"error to processing", domain.StatusError, domain.StatusProcessing, false},
		{"implementation ready to error", domain.StatusImplementationReady, domain.StatusError, true},
		{"implementation ready to queued", domain.StatusImplementationReady, domain.StatusQueued, false},
		{"unknown from status", domain.ProcessingStatus("bogus"), domain.StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestMachine_Transition_FullPipeline(t *testing.T) {
	machine, publisher := newTestMachine()
	ctx := context.Background()
	paperID := uuid.New()

	chain := []domain.ProcessingStatus{
		domain.StatusUploaded,
		domain.StatusQueued,
		domain.StatusProcessing,
		domain.StatusExtractingEntities,
		domain.StatusExtractingRelationships,
		domain.StatusBuildingGraph,
		domain.StatusAnalyzed,
		domain.StatusImplementationReady,
	}
	for _, status := range chain {
		require.NoError(t, machine.Transition(ctx, paperID, status, nil))
	}

	status, err := machine.CurrentStatus(ctx, paperID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusImplementationReady, status)

	history, err := machine.History(ctx, paperID)
	require.NoError(t, err)
	require.Len(t, history.Transitions, len(chain))
	assert.Equal(t, domain.ProcessingStatus(""), history.Transitions[0].FromStatus)
	assert.Equal(t, domain.StatusAnalyzed, history.Transitions[len(chain)-1].FromStatus)

	events := publisher.captured()
	require.Len(t, events, len(chain))
	for i, event := range events {
		assert.Equal(t, domain.EventTypePaperStatus, event.Type)
		require.NotNil(t, event.PaperID)
		assert.Equal(t, paperID, *event.PaperID)
		assert.Equal(t, chain[i], event.Status)
	}
}

func TestMachine_Transition_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("first transition must be uploaded", func(t *testing.T) {
		machine, publisher := newTestMachine()
		paperID := uuid.New()

		err := machine.Transition(ctx, paperID, domain.StatusQueued, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

		var invalidErr *domain.InvalidTransitionError
		require.True(t, errors.As(err, &invalidErr))
		assert.Equal(t, paperID, invalidErr.PaperID)
		assert.Empty(t, publisher.captured())
	})

	t.Run("rejected transition leaves history unchanged", func(t *testing.T) {
		machine, _ := newTestMachine()
		paperID := uuid.New()

		require.NoError(t, machine.Transition(ctx, paperID, domain.StatusUploaded, nil))
		err := machine.Transition(ctx, paperID, domain.StatusProcessing, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

		history, err := machine.History(ctx, paperID)
		require.NoError(t, err)
		assert.Len(t, history.Transitions, 1)
	})

	t.Run("analyzed cannot return to queued", func(t *testing.T) {
		machine, _ := newTestMachine()
		paperID := uuid.New()

		for _, status := range []domain.ProcessingStatus{
			domain.StatusUploaded, domain.StatusQueued, domain.StatusProcessing,
			domain.StatusExtractingEntities, domain.StatusExtractingRelationships,
			domain.StatusBuildingGraph, domain.StatusAnalyzed,
		} {
			require.NoError(t, machine.Transition(ctx, paperID, status, nil))
		}

		err := machine.Transition(ctx, paperID, domain.StatusQueued, nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

		status, err := machine.CurrentStatus(ctx, paperID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAnalyzed, status)
	})

	t.Run("nil paper ID", func(t *testing.T) {
		machine, _ := newTestMachine()
		err := machine.Transition(ctx, uuid.Nil, domain.StatusUploaded, nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("unknown status", func(t *testing.T) {
		machine, _ := newTestMachine()
		err := machine.Transition(ctx, uuid.New(), domain.ProcessingStatus("done"), nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestMachine_Transition_ErrorRecovery(t *testing.T) {
	machine, _ := newTestMachine()
	ctx := context.Background()
	paperID := uuid.New()

	require.NoError(t, machine.Transition(ctx, paperID, domain.StatusUploaded, nil))
	require.NoError(t, machine.Transition(ctx, paperID, domain.StatusQueued, nil))
	require.NoError(t, machine.Transition(ctx, paperID, domain.StatusProcessing, nil))
	require.NoError(t, machine.Transition(ctx, paperID, domain.StatusError, map[string]interface{}{
		"stage": "extract_entities",
		"error": "upstream timeout",
	}))

	// Replay: error goes back to queued, then the pipeline restarts.
	require.NoError(t, machine.Transition(ctx, paperID, domain.StatusQueued, nil))
	require.NoError(t, machine.Transition(ctx, paperID, domain.StatusProcessing, nil))

	status, err := machine.CurrentStatus(ctx, paperID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, status)
}

func TestMachine_Transition_Metadata(t *testing.T) {
	machine, publisher := newTestMachine()
	ctx := context.Background()
	paperID := uuid.New()

	metadata := map[string]interface{}{"source_file": "paper.pdf"}
	require.NoError(t, machine.Transition(ctx, paperID, domain.StatusUploaded, metadata))

	history, err := machine.History(ctx, paperID)
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", history.Transitions[0].Metadata["source_file"])

	events := publisher.captured()
	require.Len(t, events, 1)
	assert.Equal(t, "paper.pdf", events[0].Metadata["source_file"])
}

func TestMachine_Transition_ConcurrentSameTarget(t *testing.T) {
	machine, _ := newTestMachine()
	ctx := context.Background()
	paperID := uuid.New()

	require.NoError(t, machine.Transition(ctx, paperID, domain.StatusUploaded, nil))

	const attempts = 16
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- machine.Transition(ctx, paperID, domain.StatusQueued, nil)
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
		rejected++
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)

	history, err := machine.History(ctx, paperID)
	require.NoError(t, err)
	assert.Len(t, history.Transitions, 2)
}

func TestMachine_CurrentStatus_UnknownPaper(t *testing.T) {
	machine, _ := newTestMachine()
	_, err := machine.CurrentStatus(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
