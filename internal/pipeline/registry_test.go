package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-processing-service/internal/config"
	"github.com/helixir/paper-processing-service/internal/domain"
)

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry(testPipelineConfig())
	handler := StageHandlerFunc(func(context.Context, *domain.Task) error { return nil })

	require.NoError(t, registry.Register(domain.StageProcess, handler))
	got, ok := registry.Handler(domain.StageProcess)
	require.True(t, ok)
	assert.NoError(t, got.Execute(context.Background(), nil))

	_, ok = registry.Handler(domain.StageAnalyze)
	assert.False(t, ok)

	assert.Error(t, registry.Register(domain.Stage("bogus"), handler))
	assert.Error(t, registry.Register(domain.StageProcess, nil))
}

func TestRegistry_Options(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Stages.BuildGraph = config.StageConfig{MaxAttempts: 7, Timeout: 30 * time.Second}
	cfg.Stages.Analyze = config.StageConfig{} // no timeout configured

	registry := NewRegistry(cfg)

	opts := registry.Options(domain.StageBuildGraph)
	assert.Equal(t, 7, opts.MaxAttempts)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.False(t, opts.Idempotent)

	// Unconfigured timeouts fall back to the default deadline.
	opts = registry.Options(domain.StageAnalyze)
	assert.Equal(t, defaultStageTimeout, opts.Timeout)

	opts = registry.Options(domain.Stage("bogus"))
	assert.Equal(t, defaultStageTimeout, opts.Timeout)
}
