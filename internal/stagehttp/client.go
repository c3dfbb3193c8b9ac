// Package stagehttp provides pipeline stage handlers backed by external HTTP
// collaborator services. Each enabled collaborator receives a POST per task;
// its response status decides whether a failure is retried or quarantined.
package stagehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-processing-service/internal/config"
	"github.com/helixir/paper-processing-service/internal/domain"
	"github.com/helixir/paper-processing-service/internal/observability"
)

const (
	defaultTimeout = 60 * time.Second
	userAgent      = "Helixir-PaperProcessing/1.0"

	// maxErrorBodyBytes bounds how much of an error response is read for the
	// error message.
	maxErrorBodyBytes = 4 * 1024
)

// stageRequest is the JSON body POSTed to a collaborator for one task.
type stageRequest struct {
	TaskID   string          `json:"task_id"`
	PaperID  string          `json:"paper_id"`
	Stage    string          `json:"stage"`
	Attempt  int             `json:"attempt"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority int             `json:"priority"`
}

// Client calls one stage collaborator service.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewClient creates a collaborator client from its configuration.
func NewClient(name string, cfg config.StageServiceConfig, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
		logger:  logger.With().Str("component", "stage_client").Str("service", name).Logger(),
	}
}

// ExecuteStage asks the collaborator to run one stage for a task. A 2xx
// response means the stage completed; 4xx responses are permanent failures,
// 5xx and transport errors are transient.
func (c *Client) ExecuteStage(ctx context.Context, task *domain.Task) error {
	body, err := json.Marshal(stageRequest{
		TaskID:   task.ID.String(),
		PaperID:  task.PaperID.String(),
		Stage:    string(task.Stage),
		Attempt:  task.AttemptCount,
		Payload:  task.Payload,
		Priority: task.Priority,
	})
	if err != nil {
		return domain.NewPermanentStageError(task.Stage, fmt.Errorf("marshal stage request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/stages/%s", c.baseURL, task.Stage)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.NewPermanentStageError(task.Stage, fmt.Errorf("build stage request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure("network")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.NewTransientStageError(task.Stage, fmt.Errorf("call %s: %w", c.name, err))
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordStageServiceRequest(c.name, time.Since(start).Seconds())
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.recordFailure(fmt.Sprintf("http_%d", resp.StatusCode))
		return domain.NewPermanentStageError(task.Stage,
			fmt.Errorf("%s rejected stage: status %d: %s", c.name, resp.StatusCode, readErrorBody(resp.Body)))
	default:
		c.recordFailure(fmt.Sprintf("http_%d", resp.StatusCode))
		return domain.NewTransientStageError(task.Stage,
			fmt.Errorf("%s failed stage: status %d: %s", c.name, resp.StatusCode, readErrorBody(resp.Body)))
	}
}

func (c *Client) recordFailure(errorType string) {
	if c.metrics != nil {
		c.metrics.RecordStageServiceRequestFailed(c.name, errorType)
	}
}

// readErrorBody returns a bounded excerpt of an error response body.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil || len(data) == 0 {
		return "<no body>"
	}
	return strings.TrimSpace(string(data))
}
