// Package observability provides logging and metrics support for the paper
// processing service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for papers, transitions, tasks, and events
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("paper_id", paperID).Msg("paper ingested")
//
// Add paper context to logger:
//
//	logger = observability.WithPaperContext(logger, paperID)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("paper_processing")
//
// Record metrics:
//
//	metrics.RecordPaperIngested()
//	metrics.RecordTaskEnqueued("extraction", "extract_entities")
//	metrics.RecordTransition("queued", "processing")
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithPaperID(ctx, paperID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	paperID := observability.PaperIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - paper_id: Paper identifier
//   - task_id: Task identifier
//   - stage: Pipeline stage name
//   - queue: Task queue name
//   - attempt: Execution attempt number
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
