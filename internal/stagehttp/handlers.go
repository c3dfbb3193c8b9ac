package stagehttp

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-processing-service/internal/config"
	"github.com/helixir/paper-processing-service/internal/domain"
	"github.com/helixir/paper-processing-service/internal/observability"
	"github.com/helixir/paper-processing-service/internal/pipeline"
)

// Collaborator service names used in configuration and metrics labels.
const (
	ServiceContentExtractor   = "content_extractor"
	ServiceKnowledgeExtractor = "knowledge_extractor"
	ServiceGraphBuilder       = "graph_builder"
	ServiceAnalyzer           = "analyzer"
)

// stageServices routes each stage to the collaborator that serves it.
var stageServices = map[domain.Stage]string{
	domain.StageProcess:               ServiceContentExtractor,
	domain.StageExtractEntities:       ServiceKnowledgeExtractor,
	domain.StageExtractRelationships:  ServiceKnowledgeExtractor,
	domain.StageBuildGraph:            ServiceGraphBuilder,
	domain.StageAnalyze:               ServiceAnalyzer,
	domain.StagePrepareImplementation: ServiceAnalyzer,
}

// RegisterHandlers installs a handler for every pipeline stage. Stages whose
// collaborator is enabled call it over HTTP; the rest get a no-op handler
// that immediately succeeds, which keeps the lifecycle moving in deployments
// where a stage has no external worker yet.
func RegisterHandlers(registry *pipeline.Registry, cfg config.StageServicesConfig, metrics *observability.Metrics, logger zerolog.Logger) error {
	clients := make(map[string]*Client)
	for name, serviceCfg := range map[string]config.StageServiceConfig{
		ServiceContentExtractor:   cfg.ContentExtractor,
		ServiceKnowledgeExtractor: cfg.KnowledgeExtractor,
		ServiceGraphBuilder:       cfg.GraphBuilder,
		ServiceAnalyzer:           cfg.Analyzer,
	} {
		if serviceCfg.Enabled {
			clients[name] = NewClient(name, serviceCfg, metrics, logger)
		}
	}

	for _, stage := range domain.Stages() {
		service := stageServices[stage]
		client, ok := clients[service]

		var handler pipeline.StageHandler
		if ok {
			handler = &remoteStageHandler{client: client}
		} else {
			handler = noopHandler{}
			logger.Debug().
				Str("stage", string(stage)).
				Str("service", service).
				Msg("stage collaborator disabled, using no-op handler")
		}

		if err := registry.Register(stage, handler); err != nil {
			return err
		}
	}
	return nil
}

// remoteStageHandler delegates stage execution to an HTTP collaborator.
type remoteStageHandler struct {
	client *Client
}

func (h *remoteStageHandler) Execute(ctx context.Context, task *domain.Task) error {
	return h.client.ExecuteStage(ctx, task)
}

// noopHandler succeeds without doing any work.
type noopHandler struct{}

func (noopHandler) Execute(context.Context, *domain.Task) error { return nil }
