package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	paperIDKey   contextKey = "paper_id"
	taskIDKey    contextKey = "task_id"
	stageKey     contextKey = "stage"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithPaperID adds a paper ID to the context.
func WithPaperID(ctx context.Context, paperID string) context.Context {
	return context.WithValue(ctx, paperIDKey, paperID)
}

// PaperIDFromContext retrieves the paper ID from context.
// Returns empty string if not present.
func PaperIDFromContext(ctx context.Context) string {
	if v := ctx.Value(paperIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithTask adds task ID and stage to the context.
func WithTask(ctx context.Context, taskID, stage string) context.Context {
	ctx = context.WithValue(ctx, taskIDKey, taskID)
	ctx = context.WithValue(ctx, stageKey, stage)
	return ctx
}

// TaskFromContext retrieves task ID and stage from context.
// Returns empty strings if not present.
func TaskFromContext(ctx context.Context) (taskID, stage string) {
	if v := ctx.Value(taskIDKey); v != nil {
		if id, ok := v.(string); ok {
			taskID = id
		}
	}
	if v := ctx.Value(stageKey); v != nil {
		if s, ok := v.(string); ok {
			stage = s
		}
	}
	return taskID, stage
}

// TaskContext contains all the context data for a task execution.
type TaskContext struct {
	RequestID string
	PaperID   string
	TaskID    string
	Stage     string
}

// WithTaskContextFull adds all task context to the context.
func WithTaskContextFull(ctx context.Context, tc TaskContext) context.Context {
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.PaperID != "" {
		ctx = WithPaperID(ctx, tc.PaperID)
	}
	if tc.TaskID != "" || tc.Stage != "" {
		ctx = WithTask(ctx, tc.TaskID, tc.Stage)
	}
	return ctx
}

// TaskContextFromContext extracts all task context from the context.
func TaskContextFromContext(ctx context.Context) TaskContext {
	taskID, stage := TaskFromContext(ctx)

	return TaskContext{
		RequestID: RequestIDFromContext(ctx),
		PaperID:   PaperIDFromContext(ctx),
		TaskID:    taskID,
		Stage:     stage,
	}
}
