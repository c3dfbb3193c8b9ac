package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/helixir/paper-processing-service/internal/config"
	"github.com/helixir/paper-processing-service/internal/domain"
)

// StageHandler executes one pipeline stage for a task. Handlers report
// failures through domain.StageError when they can classify them; anything
// else is classified by the retry manager.
type StageHandler interface {
	Execute(ctx context.Context, task *domain.Task) error
}

// StageHandlerFunc adapts a function to the StageHandler interface.
type StageHandlerFunc func(ctx context.Context, task *domain.Task) error

// Execute calls f.
func (f StageHandlerFunc) Execute(ctx context.Context, task *domain.Task) error {
	return f(ctx, task)
}

// defaultStageTimeout bounds a single attempt when no timeout is configured.
const defaultStageTimeout = 5 * time.Minute

// StageOptions holds the resolved execution settings for one stage.
type StageOptions struct {
	// MaxAttempts overrides the retry budget (0 = retry manager default).
	MaxAttempts int
	// Timeout is the deadline for a single attempt.
	Timeout time.Duration
	// Idempotent allows short-circuiting tasks whose paper already reached
	// the stage's target status.
	Idempotent bool
}

// Registry maps stages to their handlers and execution options.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.Stage]StageHandler
	options  map[domain.Stage]StageOptions
}

// NewRegistry creates a registry with per-stage options resolved from the
// pipeline configuration.
func NewRegistry(cfg config.PipelineConfig) *Registry {
	options := make(map[domain.Stage]StageOptions, len(domain.Stages()))
	for _, stage := range domain.Stages() {
		stageCfg, _ := cfg.StageFor(string(stage))
		opts := StageOptions{
			MaxAttempts: stageCfg.MaxAttempts,
			Timeout:     stageCfg.Timeout,
			Idempotent:  stageCfg.Idempotent,
		}
		if opts.Timeout <= 0 {
			opts.Timeout = defaultStageTimeout
		}
		options[stage] = opts
	}

	return &Registry{
		handlers: make(map[domain.Stage]StageHandler),
		options:  options,
	}
}

// Register installs the handler for a stage, replacing any previous one.
func (r *Registry) Register(stage domain.Stage, handler StageHandler) error {
	if !stage.IsValid() {
		return domain.NewValidationError("stage", "unknown stage")
	}
	if handler == nil {
		return domain.NewValidationError("handler", "handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stage] = handler
	return nil
}

// Handler returns the handler registered for a stage.
func (r *Registry) Handler(stage domain.Stage) (StageHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[stage]
	return handler, ok
}

// Options returns the execution options for a stage.
func (r *Registry) Options(stage domain.Stage) StageOptions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	opts, ok := r.options[stage]
	if !ok {
		return StageOptions{Timeout: defaultStageTimeout}
	}
	return opts
}
