package realtime

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPublisher_PublishQuotaWarning(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, eventBus.Start(ctx))
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	err := publisher.PublishQuotaWarning(800_000, 1_000_000, 0.8)
	assert.NoError(t, err)
}

func TestEventPublisher_PublishTransactionCommitted(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, eventBus.Start(ctx))
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	err := publisher.PublishTransactionCommitted("txn-1", []string{"a", "b"})
	assert.NoError(t, err)
}

func TestEventPublisher_PublishTransactionFatalState(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, eventBus.Start(ctx))
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	err := publisher.PublishTransactionFatalState("txn-2", "commit phase irrecoverable")
	assert.NoError(t, err)
}

func TestEventPublisher_PublishRecoveryContextChanged(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, eventBus.Start(ctx))
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	err := publisher.PublishRecoveryContextChanged("poor")
	assert.NoError(t, err)
}

func TestEventPublisher_NilEventBus(t *testing.T) {
	publisher := NewEventPublisher(nil, slog.Default(), nil)

	err := publisher.PublishQuotaWarning(1, 2, 0.5)
	assert.NoError(t, err) // Returns nil when EventBus is nil
}
