// Package recovery implements ContextAwareRecovery (C9): error
// classification, strategy selection, and lock-guarded adaptive retry.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
	"github.com/vitaliisemenov/storagecore/internal/lock"
	"github.com/vitaliisemenov/storagecore/internal/realtime"
)

// Operation is the caller-provided closure a retrying strategy invokes on
// each attempt.
type Operation func(ctx context.Context, attempt int) error

// Handler implements the actual recovery action for one Action. Only
// adaptive_retry / immediate_retry / wait_and_retry / retry_operation invoke
// the caller's Operation; the others (cleanup_storage, restart_worker,
// refresh_token, log_and_continue) are dispatched to a registered Handler
// instead. A missing handler fails with RecoveryHandlerMissing.
type Handler func(ctx context.Context, strategy Strategy, cause error) error

// Result is what Execute returns: the action taken, attempts made, and the
// terminal error if every attempt failed.
type Result struct {
	Action   Action
	Attempts int
	Err      error
}

// Engine is C9's ContextAwareRecovery, built over a PriorityLockManager for
// required_lock acquisition and an EventPublisher for recovery:* events.
type Engine struct {
	locks     *lock.PriorityLockManager
	state     *StateMonitor
	publisher *realtime.EventPublisher
	metrics   *Metrics
	logger    *slog.Logger

	handlers map[Action]Handler
}

// New creates a recovery engine. locks and publisher may be nil in tests
// that only exercise retry strategies.
func New(locks *lock.PriorityLockManager, publisher *realtime.EventPublisher, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		locks:     locks,
		state:     NewStateMonitor(),
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With("component", "context_aware_recovery"),
		handlers:  make(map[Action]Handler),
	}
}

// RegisterHandler wires a non-retry action (cleanup_storage, restart_worker,
// refresh_token, log_and_continue) to its implementation. Retry actions
// never need registration: Execute runs them itself against Operation.
func (e *Engine) RegisterHandler(action Action, handler Handler) {
	e.handlers[action] = handler
}

// State exposes the process-wide app-state snapshot so callers can read it
// without taking a dependency on the monitor's internals.
func (e *Engine) State() *StateMonitor {
	return e.state
}

// SelectStrategy classifies err and returns the deterministic Strategy,
// scaling its adaptive delay by the current network quality unless an
// explicit Context is supplied.
func (e *Engine) SelectStrategy(err error, recoveryCtx Context) Strategy {
	if recoveryCtx.NetworkQuality == "" {
		recoveryCtx.NetworkQuality = e.state.Snapshot().NetworkQuality
	}
	return SelectStrategy(err, recoveryCtx)
}

// Execute acquires strategy.RequiredLock (if any) at strategy.Priority,
// updates the app-state snapshot, dispatches on strategy.Action, and
// guarantees lock release on every exit path, per spec.md §4.9.
func (e *Engine) Execute(ctx context.Context, strategy Strategy, cause error, op Operation) Result {
	e.state.Update(func(s *AppStateSnapshot) {
		s.OperationInProgress = true
		s.LastError = cause
	})
	defer e.state.Update(func(s *AppStateSnapshot) {
		s.OperationInProgress = false
	})

	if strategy.RequiredLock != "" && e.locks != nil {
		guard, err := e.locks.Guard(ctx, strategy.RequiredLock, strategy.Priority, 30*time.Second)
		if err != nil {
			return Result{Action: strategy.Action, Err: err}
		}
		defer guard.Release(context.Background())
	}

	switch strategy.Action {
	case ActionImmediateRetry, ActionAdaptiveRetry, ActionWaitAndRetry, ActionRetryOperation:
		return e.executeRetry(ctx, strategy, cause, op)
	default:
		return e.executeHandler(ctx, strategy, cause)
	}
}

func (e *Engine) executeRetry(ctx context.Context, strategy Strategy, cause error, op Operation) Result {
	if op == nil {
		return Result{Action: strategy.Action, Err: coreerrors.New(coreerrors.KindRecoveryHandlerMissing, "no operation supplied for retry action")}
	}

	maxAttempts := strategy.RetryCount
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	delay := strategy.AdaptiveDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			e.recordAttempt(strategy, cause, "success")
			return Result{Action: strategy.Action, Attempts: attempt}
		}
		lastErr = err
		e.recordAttempt(strategy, cause, "failure")

		if attempt == maxAttempts {
			break
		}

		switch strategy.Action {
		case ActionImmediateRetry:
			// no delay
		default:
			if delay > 0 {
				if e.metrics != nil {
					e.metrics.BackoffSeconds.Observe(delay.Seconds())
				}
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return Result{Action: strategy.Action, Attempts: attempt, Err: ctx.Err()}
				}
			}
		}
	}

	e.recordFinal(strategy, "failure")
	return Result{Action: strategy.Action, Attempts: maxAttempts, Err: fmt.Errorf("recovery action %s failed after %d attempts: %w", strategy.Action, maxAttempts, lastErr)}
}

func (e *Engine) executeHandler(ctx context.Context, strategy Strategy, cause error) Result {
	handler, ok := e.handlers[strategy.Action]
	if !ok {
		err := coreerrors.New(coreerrors.KindRecoveryHandlerMissing, "no handler registered for action").WithContext("action", string(strategy.Action))
		e.logger.Error("recovery handler missing", "action", strategy.Action)
		return Result{Action: strategy.Action, Err: err}
	}

	err := handler(ctx, strategy, cause)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	e.recordAttempt(strategy, cause, outcome)
	e.recordFinal(strategy, outcome)

	if strategy.Action == ActionCleanupStorage && err == nil && e.publisher != nil {
		_ = e.publisher.PublishRecoveryStorageCleanup(string(kindOf(cause)))
	}

	return Result{Action: strategy.Action, Attempts: 1, Err: err}
}

func (e *Engine) recordAttempt(strategy Strategy, cause error, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.AttemptsTotal.WithLabelValues(string(strategy.Action), classifyTransient(cause), outcome).Inc()
}

func (e *Engine) recordFinal(strategy Strategy, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.FinalOutcome.WithLabelValues(string(strategy.Action), outcome).Inc()
}

// StartMonitoring wires the incoming topics of §6 (ui:view_changed,
// data:state_changed, user:intent_detected, storage:connection_failed,
// storage:connection_blocked) to AppStateSnapshot updates. Subscribe is the
// caller's event-bus subscription function, kept generic so this package
// does not depend on a concrete bus implementation beyond realtime.Event.
func (e *Engine) StartMonitoring(subscribe func(topic string, handler func(realtime.Event))) {
	subscribe("ui:view_changed", func(ev realtime.Event) {
		if mode, ok := ev.Data["view_mode"].(string); ok {
			e.state.Update(func(s *AppStateSnapshot) { s.ViewMode = mode })
		}
	})
	subscribe("data:state_changed", func(ev realtime.Event) {
		if dataState, ok := ev.Data["data_state"].(string); ok {
			e.state.Update(func(s *AppStateSnapshot) { s.DataState = dataState })
		}
	})
	subscribe("user:intent_detected", func(ev realtime.Event) {
		if intent, ok := ev.Data["intent"].(string); ok {
			e.state.Update(func(s *AppStateSnapshot) { s.UserIntent = intent })
		}
	})
	subscribe("storage:connection_failed", func(ev realtime.Event) {
		e.state.Update(func(s *AppStateSnapshot) { s.NetworkQuality = NetworkPoor })
		if e.publisher != nil {
			_ = e.publisher.PublishRecoveryContextChanged(string(NetworkPoor))
		}
	})
	subscribe("storage:connection_blocked", func(ev realtime.Event) {
		e.state.Update(func(s *AppStateSnapshot) { s.NetworkQuality = NetworkFair })
		if e.publisher != nil {
			_ = e.publisher.PublishRecoveryContextChanged(string(NetworkFair))
		}
	})
}
