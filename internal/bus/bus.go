// Package bus provides the in-process event notification bus. Publishers push
// lifecycle events; subscribers receive them on buffered channels, scoped
// either to all papers or to a single paper.
package bus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-processing-service/internal/domain"
	"github.com/helixir/paper-processing-service/internal/observability"
)

// TopicGlobal receives every published event.
const TopicGlobal = "global"

// PaperTopic returns the topic that receives events for a single paper.
func PaperTopic(paperID uuid.UUID) string {
	return "paper:" + paperID.String()
}

// defaultBufferSize is used when the configured subscriber buffer is not positive.
const defaultBufferSize = 64

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event. Slow consumers degrade only their
// own stream.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
	closed      bool

	bufferSize int
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// New creates an event bus whose subscriptions buffer up to bufferSize events.
func New(bufferSize int, metrics *observability.Metrics, logger zerolog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus{
		subscribers: make(map[string]map[*Subscription]struct{}),
		bufferSize:  bufferSize,
		metrics:     metrics,
		logger:      logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscription is one subscriber's view of a topic. Events arrive on C until
// Close is called or the bus shuts down, after which C is closed.
type Subscription struct {
	C <-chan domain.Event

	ch        chan domain.Event
	topic     string
	bus       *Bus
	closeOnce sync.Once
}

// Close cancels the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

// Subscribe registers a new subscriber on a topic. Use TopicGlobal for all
// events or PaperTopic for a single paper's events. Subscribing to a paper
// that does not exist yet is allowed; events arrive once the paper does.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		ch:    make(chan domain.Event, b.bufferSize),
		topic: topic,
		bus:   b,
	}
	sub.C = sub.ch

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub
	}
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[*Subscription]struct{})
	}
	b.subscribers[topic][sub] = struct{}{}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.AddBusSubscriber()
	}
	return sub
}

// Publish delivers an event to the global topic and, when the event names a
// paper, to that paper's topic. Never blocks.
func (b *Bus) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	if b.metrics != nil {
		b.metrics.RecordEventPublished(string(event.Type))
	}

	b.deliverLocked(TopicGlobal, event)
	if event.PaperID != nil {
		b.deliverLocked(PaperTopic(*event.PaperID), event)
	}
}

// deliverLocked sends the event to each subscriber on a topic, dropping it
// for subscribers whose buffer is full. Caller holds at least a read lock.
func (b *Bus) deliverLocked(topic string, event domain.Event) {
	for sub := range b.subscribers[topic] {
		select {
		case sub.ch <- event:
		default:
			if b.metrics != nil {
				b.metrics.RecordEventDropped()
			}
			b.logger.Warn().
				Str("topic", topic).
				Str("event_type", string(event.Type)).
				Msg("dropped event for slow subscriber")
		}
	}
}

// Close shuts the bus down and closes every subscription channel. Publishes
// after Close are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subscribers := b.subscribers
	b.subscribers = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, subs := range subscribers {
		for sub := range subs {
			sub.closeOnce.Do(func() {
				close(sub.ch)
			})
			if b.metrics != nil {
				b.metrics.RemoveBusSubscriber()
			}
		}
	}
}

// remove detaches a subscription from the bus without closing its channel.
func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	var removed bool
	if subs, ok := b.subscribers[sub.topic]; ok {
		if _, present := subs[sub]; present {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.subscribers, sub.topic)
			}
			removed = true
		}
	}
	b.mu.Unlock()

	if removed && b.metrics != nil {
		b.metrics.RemoveBusSubscriber()
	}
}
