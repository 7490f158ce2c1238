// Package realtime broadcasts storage-substrate lifecycle events.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventBus fans transaction/quota/lock/recovery/security events out to
// every active subscriber (an in-process listener or a websocket watcher).
type EventBus interface {
	Subscribe(subscriber EventSubscriber) error
	Unsubscribe(subscriber EventSubscriber) error

	// Publish queues event for broadcast; it never blocks on delivery.
	Publish(event Event) error

	GetActiveSubscribers() int

	// Start launches the broadcast worker; Stop ends it.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DefaultEventBus is the substrate's EventBus: one buffered channel feeding
// a single broadcast worker that fans each event out to every subscriber
// concurrently.
type DefaultEventBus struct {
	subscribers map[EventSubscriber]bool
	mu          sync.RWMutex

	eventChan chan Event
	sequence  int64

	logger  *slog.Logger
	metrics *RealtimeMetrics

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewEventBus builds a bus with a 1000-event broadcast buffer; events
// published faster than subscribers can drain it are dropped, not queued
// unboundedly.
func NewEventBus(logger *slog.Logger, metrics *RealtimeMetrics) *DefaultEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultEventBus{
		subscribers: make(map[EventSubscriber]bool),
		eventChan:   make(chan Event, 1000),
		logger:      logger.With("component", "event_bus"),
		metrics:     metrics,
		stopChan:    make(chan struct{}),
	}
}

// Subscribe registers subscriber to receive every future broadcast event.
func (b *DefaultEventBus) Subscribe(subscriber EventSubscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers == nil {
		b.subscribers = make(map[EventSubscriber]bool)
	}
	b.subscribers[subscriber] = true

	b.logger.Info("event subscriber registered", "subscriber_id", subscriber.ID(), "total_subscribers", len(b.subscribers))

	if b.metrics != nil {
		b.metrics.ConnectionsActive.Set(float64(len(b.subscribers)))
	}
	return nil
}

// Unsubscribe removes subscriber and closes it. Unsubscribing an unknown
// subscriber is a no-op.
func (b *DefaultEventBus) Unsubscribe(subscriber EventSubscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[subscriber]; ok {
		delete(b.subscribers, subscriber)
		subscriber.Close()

		b.logger.Info("event subscriber removed", "subscriber_id", subscriber.ID(), "total_subscribers", len(b.subscribers))

		if b.metrics != nil {
			b.metrics.ConnectionsActive.Set(float64(len(b.subscribers)))
		}
	}
	return nil
}

// Publish stamps event with the next sequence number and queues it for
// broadcast. Returns ErrEventChannelFull if the buffer is saturated.
func (b *DefaultEventBus) Publish(event Event) error {
	event.Sequence = atomic.AddInt64(&b.sequence, 1)

	select {
	case b.eventChan <- event:
		b.logger.Debug("event queued for broadcast", "event_type", event.Type, "event_id", event.ID, "sequence", event.Sequence)
		return nil
	default:
		b.logger.Warn("event channel full, dropping event", "event_type", event.Type, "event_id", event.ID)
		if b.metrics != nil {
			b.metrics.ErrorsTotal.WithLabelValues("channel_full").Inc()
		}
		return ErrEventChannelFull
	}
}

// GetActiveSubscribers reports the current subscriber count.
func (b *DefaultEventBus) GetActiveSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Start launches the broadcast worker in its own goroutine.
func (b *DefaultEventBus) Start(ctx context.Context) error {
	b.wg.Add(1)
	go b.broadcastWorker(ctx)
	b.logger.Info("event bus started")
	return nil
}

// Stop signals the broadcast worker to exit, waiting up to ctx's
// deadline. Events still queued when the worker exits are not delivered.
func (b *DefaultEventBus) Stop(ctx context.Context) error {
	b.logger.Info("stopping event bus")
	close(b.stopChan)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus stop timed out")
		return ctx.Err()
	}
}

func (b *DefaultEventBus) broadcastWorker(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("broadcast worker stopping, context cancelled")
			return
		case <-b.stopChan:
			b.logger.Info("broadcast worker stopping, stop requested")
			return
		case event := <-b.eventChan:
			b.broadcastEvent(event)
		}
	}
}

// broadcastEvent fans event out to a snapshot of subscribers concurrently,
// unsubscribing any that have disconnected or whose Send fails.
func (b *DefaultEventBus) broadcastEvent(event Event) {
	start := time.Now()

	b.mu.RLock()
	subscribers := make([]EventSubscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.RUnlock()

	if len(subscribers) == 0 {
		b.logger.Debug("no subscribers to broadcast event", "event_type", event.Type, "event_id", event.ID)
		return
	}

	b.logger.Debug("broadcasting event", "event_type", event.Type, "event_id", event.ID, "subscribers", len(subscribers))

	var wg sync.WaitGroup
	var successCount, errorCount int64

	for _, subscriber := range subscribers {
		wg.Add(1)
		go func(sub EventSubscriber) {
			defer wg.Done()

			select {
			case <-sub.Context().Done():
				b.Unsubscribe(sub)
				return
			default:
			}

			if err := sub.Send(event); err != nil {
				atomic.AddInt64(&errorCount, 1)
				b.logger.Warn("failed to send event to subscriber", "subscriber_id", sub.ID(), "event_type", event.Type, "err", err)
				b.Unsubscribe(sub)
			} else {
				atomic.AddInt64(&successCount, 1)
			}
		}(subscriber)
	}

	wg.Wait()
	duration := time.Since(start)

	if b.metrics != nil {
		b.metrics.EventsTotal.WithLabelValues(event.Type, event.Source).Inc()
		b.metrics.EventLatencySeconds.Observe(duration.Seconds())
		b.metrics.BroadcastDuration.Observe(duration.Seconds())
	}

	b.logger.Debug("event broadcast complete", "event_type", event.Type, "event_id", event.ID, "success", successCount, "errors", errorCount, "duration_ms", duration.Milliseconds())
}
