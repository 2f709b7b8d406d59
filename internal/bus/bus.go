// Package bus provides the in-process publish/subscribe hub that decouples
// the protocol bridge from the decision pipeline.
package bus

import (
	"log/slog"
	"sync"
)

// Handler receives the payload published on a topic.
type Handler func(topic string, payload any)

// Well-known topics.
const (
	TopicMessageReceived = "message.received"
	TopicNoticeReceived  = "notice.received"
	TopicRequestReceived = "request.received"
	TopicBridgeConnected = "bridge.connected"
	TopicBridgeLost      = "bridge.disconnected"
	TopicReplySent       = "reply.sent"
)

type subscription struct {
	id      int64
	handler Handler
}

// EventBus dispatches payloads to topic subscribers. The handler set is
// snapshotted before dispatch, so subscribing or unsubscribing mid-dispatch
// can never corrupt an in-flight publish.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   int64
	logger   *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic and returns an id usable with
// Unsubscribe. Multiple handlers per topic are allowed; invocation order is
// not significant.
func (b *EventBus) Subscribe(topic string, handler Handler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// Unsubscribe removes a previously registered handler. Unknown ids are a
// no-op.
func (b *EventBus) Unsubscribe(topic string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[topic]
	for i, s := range subs {
		if s.id == id {
			b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[topic]) == 0 {
		delete(b.handlers, topic)
	}
}

// Publish dispatches the payload to every subscriber of the topic. Each
// handler runs in its own goroutine so one slow handler cannot block another.
// A panicking handler is logged, never propagated.
func (b *EventBus) Publish(topic string, payload any) {
	for _, s := range b.snapshot(topic) {
		go b.invoke(topic, s, payload)
	}
}

// PublishSync dispatches the payload inline and returns once every handler
// has run. Used where the caller cannot wait on asynchronous delivery.
func (b *EventBus) PublishSync(topic string, payload any) {
	for _, s := range b.snapshot(topic) {
		b.invoke(topic, s, payload)
	}
}

// HasSubscribers reports whether any handler is registered for the topic.
func (b *EventBus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic]) > 0
}

func (b *EventBus) snapshot(topic string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.handlers[topic]
	if len(subs) == 0 {
		return nil
	}
	out := make([]subscription, len(subs))
	copy(out, subs)
	return out
}

func (b *EventBus) invoke(topic string, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "topic", topic, "handler", s.id, "panic", r)
		}
	}()
	s.handler(topic, payload)
}
