package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-processing-service/internal/domain"
)

// RelayConfig holds configuration for the Kafka event relay.
type RelayConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic lifecycle events are written to.
	Topic string
	// BatchSize is the number of messages buffered before a write. Defaults to 100.
	BatchSize int
	// BatchTimeout is the longest a batch waits before being flushed. Defaults to 1s.
	BatchTimeout time.Duration
}

// Relay forwards every event published on the bus to a Kafka topic so other
// services can follow paper lifecycle changes without holding an HTTP stream
// open.
type Relay struct {
	bus    *Bus
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewRelay creates a Kafka relay for the given bus.
func NewRelay(cfg RelayConfig, b *Bus, logger zerolog.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}

	return &Relay{
		bus:    b,
		writer: writer,
		logger: logger.With().Str("component", "kafka_relay").Logger(),
	}
}

// Run subscribes to the global topic and forwards events until the context is
// cancelled or the bus closes. Blocks; run in its own goroutine.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.bus.Subscribe(TopicGlobal)
	defer sub.Close()

	r.logger.Info().Msg("starting kafka event relay")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("kafka relay stopped via context cancellation")
			return ctx.Err()
		case event, ok := <-sub.C:
			if !ok {
				r.logger.Info().Msg("kafka relay stopped, bus closed")
				return nil
			}
			if err := r.forward(ctx, event); err != nil {
				r.logger.Error().Err(err).
					Str("event_type", string(event.Type)).
					Msg("failed to forward event to kafka")
			}
		}
	}
}

// forward writes one event as a JSON message. Paper events are keyed by paper
// ID so per-paper ordering survives partitioning.
func (r *Relay) forward(ctx context.Context, event domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{Value: value}
	if event.PaperID != nil {
		msg.Key = []byte(event.PaperID.String())
	}

	return r.writer.WriteMessages(ctx, msg)
}

// Close flushes and closes the underlying Kafka writer.
func (r *Relay) Close() error {
	return r.writer.Close()
}
