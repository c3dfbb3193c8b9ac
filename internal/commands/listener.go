// Package commands provides a Kafka listener for operator commands, letting
// dead letters be replayed from other services without going through the
// HTTP API.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-processing-service/internal/domain"
	"github.com/helixir/paper-processing-service/internal/retry"
)

// Command types accepted by the listener.
const (
	CommandReplayDeadLetter = "dead_letter.replay"
	CommandDeleteDeadLetter = "dead_letter.delete"
)

// Command is the envelope consumed from the commands topic.
type Command struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
}

// Config holds configuration for the command listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for operator commands.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// Listener consumes operator commands from Kafka and applies them through the
// retry manager.
type Listener struct {
	reader  *kafka.Reader
	retries *retry.Manager
	logger  zerolog.Logger
}

// NewListener creates a new command listener.
func NewListener(cfg Config, retries *retry.Manager, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})

	return &Listener{
		reader:  reader,
		retries: retries,
		logger:  logger.With().Str("component", "command_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting command listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("command listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received command")

		var command Command
		if err := json.Unmarshal(msg.Value, &command); err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to unmarshal command")
			continue
		}

		if err := l.Handle(ctx, command); err != nil {
			l.logger.Error().Err(err).
				Str("type", command.Type).
				Str("task_id", command.TaskID).
				Msg("failed to handle command")
		}
	}
}

// Handle applies one command.
func (l *Listener) Handle(ctx context.Context, command Command) error {
	taskID, err := uuid.Parse(command.TaskID)
	if err != nil {
		return domain.NewValidationError("task_id", "task ID must be a UUID")
	}

	switch command.Type {
	case CommandReplayDeadLetter:
		if err := l.retries.Replay(ctx, taskID); err != nil {
			// The record may already have been replayed via the HTTP API.
			if errors.Is(err, domain.ErrNotFound) {
				l.logger.Warn().
					Str("task_id", command.TaskID).
					Msg("replay command for unknown dead letter, ignoring")
				return nil
			}
			return err
		}
		l.logger.Info().Str("task_id", command.TaskID).Msg("dead letter replayed via command")
		return nil

	case CommandDeleteDeadLetter:
		if err := l.retries.DeleteDeadLetter(ctx, taskID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		l.logger.Info().Str("task_id", command.TaskID).Msg("dead letter deleted via command")
		return nil

	default:
		return domain.NewValidationError("type", "unknown command type")
	}
}

// Close closes the underlying Kafka reader.
func (l *Listener) Close() error {
	return l.reader.Close()
}
