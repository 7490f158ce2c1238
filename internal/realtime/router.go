package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TopicRouter is one EventSubscriber that demultiplexes bus events to
// per-topic handlers, for collaborators (recovery.Engine.StartMonitoring)
// that want "subscribe to this one topic" semantics on top of a bus whose
// subscribers always receive every event.
type TopicRouter struct {
	baseSubscriber

	mu       sync.RWMutex
	handlers map[string][]func(Event)
}

// NewTopicRouter builds an unsubscribed router; call Bus.Subscribe(router)
// to start receiving events.
func NewTopicRouter() *TopicRouter {
	return &TopicRouter{
		baseSubscriber: baseSubscriber{id: uuid.New().String(), ctx: context.Background()},
		handlers:       make(map[string][]func(Event)),
	}
}

// On registers handler for every event whose Type equals topic.
func (r *TopicRouter) On(topic string, handler func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = append(r.handlers[topic], handler)
}

// Send implements EventSubscriber by dispatching to every handler
// registered for event.Type.
func (r *TopicRouter) Send(event Event) error {
	r.mu.RLock()
	handlers := append([]func(Event){}, r.handlers[event.Type]...)
	r.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
	return nil
}

// Close is a no-op; a TopicRouter holds no resources of its own.
func (r *TopicRouter) Close() error { return nil }
