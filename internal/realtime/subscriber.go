// Package realtime broadcasts storage-substrate lifecycle events.
package realtime

import (
	"context"
)

// EventSubscriber is anything that wants storage-substrate events pushed
// to it: an in-process watcher (storagectl's stdout printer) or a remote
// one (a WebSocketSubscriber).
type EventSubscriber interface {
	ID() string

	// Send delivers event. An error means the subscriber is gone and
	// should be unsubscribed.
	Send(event Event) error

	Close() error

	// Context cancels when the subscriber's own connection/lifetime ends,
	// independent of any Send failure.
	Context() context.Context
}

// baseSubscriber carries the ID/Context plumbing every concrete
// EventSubscriber needs, leaving Send/Close to the embedder.
type baseSubscriber struct {
	id  string
	ctx context.Context
}

func (s *baseSubscriber) ID() string { return s.id }

func (s *baseSubscriber) Context() context.Context { return s.ctx }
