package eventbus

import (
	"context"
	"sync"

	"SelamBot/internal/core/ports"

	"github.com/rs/zerolog"
)

// queueDepth bounds how far a subscriber may fall behind before
// publishers start blocking on it.
const queueDepth = 256

// subscription owns a FIFO queue and the single worker draining it.
// One worker per handler means each subscriber sees events in exactly
// the order they were published; two back-to-back messages from the
// same user can never swap places on their way to the router.
type subscription struct {
	handler ports.EventHandler
	queue   chan ports.Event
}

// inMemoryEventBus is a process-local pub/sub bus with ordered,
// serialized delivery per subscriber.
type inMemoryEventBus struct {
	log  zerolog.Logger
	mu   sync.RWMutex
	subs map[string][]*subscription
}

// NewInMemoryEventBus creates a new, empty event bus.
func NewInMemoryEventBus(baseLogger *zerolog.Logger) ports.EventBus {
	return &inMemoryEventBus{
		log:  baseLogger.With().Str("component", "in_memory_bus").Logger(),
		subs: make(map[string][]*subscription),
	}
}

// Publish enqueues the event for every subscriber of the topic, in the
// caller's goroutine. A full queue blocks the publisher rather than
// dropping or reordering; a cancelled publisher context aborts the
// enqueue.
func (b *inMemoryEventBus) Publish(ctx context.Context, topic string, data interface{}) error {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.log.Warn().Str("topic", topic).Msg("Published event with no subscribers")
		return nil
	}

	event := ports.Event{
		Topic: topic,
		Data:  data,
	}

	for _, sub := range subs {
		select {
		case sub.queue <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.log.Debug().Str("topic", topic).Int("subscribers", len(subs)).Msg("Event queued")
	return nil
}

// Subscribe registers a handler for a topic and starts its worker. The
// worker lives for the life of the process, like the bus itself.
func (b *inMemoryEventBus) Subscribe(topic string, handler ports.EventHandler) {
	sub := &subscription{
		handler: handler,
		queue:   make(chan ports.Event, queueDepth),
	}
	go b.drain(topic, sub)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	b.log.Info().Str("topic", topic).Msg("New handler subscribed to topic")
}

// drain runs one subscriber's events one at a time, in queue order.
// Handlers get a fresh background context so work already accepted
// isn't abandoned when the publisher's context ends.
func (b *inMemoryEventBus) drain(topic string, sub *subscription) {
	for event := range sub.queue {
		if err := sub.handler(context.Background(), event); err != nil {
			b.log.Error().Err(err).Str("topic", topic).Msg("Event handler failed")
		}
	}
}
