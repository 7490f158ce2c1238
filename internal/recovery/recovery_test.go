package recovery

import (
	"context"
	"testing"
	"time"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
)

func TestSelectStrategy_QuotaExceeded(t *testing.T) {
	err := coreerrors.New(coreerrors.KindQuotaExceeded, "over limit")
	strategy := SelectStrategy(err, Context{NetworkQuality: NetworkGood})

	if strategy.Action != ActionCleanupStorage {
		t.Fatalf("expected cleanup_storage, got %s", strategy.Action)
	}
}

func TestSelectStrategy_UnknownErrorFallsBackToAdaptiveRetry(t *testing.T) {
	strategy := SelectStrategy(context.DeadlineExceeded, Context{NetworkQuality: NetworkGood})

	if strategy.Action != ActionAdaptiveRetry {
		t.Fatalf("expected adaptive_retry fallback, got %s", strategy.Action)
	}
}

func TestSelectStrategy_NetworkQualityScalesDelay(t *testing.T) {
	err := coreerrors.New(coreerrors.KindJournalWriteFailure, "write failed")

	good := SelectStrategy(err, Context{NetworkQuality: NetworkGood})
	poor := SelectStrategy(err, Context{NetworkQuality: NetworkPoor})

	if poor.AdaptiveDelay != good.AdaptiveDelay*3 {
		t.Fatalf("expected poor delay to be 3x good delay, got good=%v poor=%v", good.AdaptiveDelay, poor.AdaptiveDelay)
	}
}

func TestEngine_ExecuteRetrySucceedsAfterFailures(t *testing.T) {
	engine := New(nil, nil, nil, nil)
	strategy := Strategy{Action: ActionAdaptiveRetry, RetryCount: 3, AdaptiveDelay: time.Millisecond}

	attempts := 0
	result := engine.Execute(context.Background(), strategy, nil, func(ctx context.Context, attempt int) error {
		attempts++
		if attempt < 2 {
			return coreerrors.New(coreerrors.KindJournalWriteFailure, "transient")
		}
		return nil
	})

	if result.Err != nil {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestEngine_ExecuteRetryExhausted(t *testing.T) {
	engine := New(nil, nil, nil, nil)
	strategy := Strategy{Action: ActionImmediateRetry, RetryCount: 2}

	result := engine.Execute(context.Background(), strategy, nil, func(ctx context.Context, attempt int) error {
		return coreerrors.New(coreerrors.KindLockAcquisition, "still busy")
	})

	if result.Err == nil {
		t.Fatal("expected exhausted retries to return an error")
	}
	if result.Attempts != 2 {
		t.Fatalf("expected 2 attempts recorded, got %d", result.Attempts)
	}
}

func TestEngine_ExecuteMissingHandler(t *testing.T) {
	engine := New(nil, nil, nil, nil)
	strategy := Strategy{Action: ActionRestartWorker}

	result := engine.Execute(context.Background(), strategy, coreerrors.New(coreerrors.KindArchiveIntegrity, "corrupt"), nil)

	if !coreerrors.Is(result.Err, coreerrors.KindRecoveryHandlerMissing) {
		t.Fatalf("expected RecoveryHandlerMissing, got %v", result.Err)
	}
}

func TestEngine_ExecuteDispatchesRegisteredHandler(t *testing.T) {
	engine := New(nil, nil, nil, nil)
	called := false
	engine.RegisterHandler(ActionLogAndContinue, func(ctx context.Context, strategy Strategy, cause error) error {
		called = true
		return nil
	})

	strategy := Strategy{Action: ActionLogAndContinue}
	result := engine.Execute(context.Background(), strategy, coreerrors.New(coreerrors.KindCleanupFailure, "minor"), nil)

	if result.Err != nil {
		t.Fatalf("expected nil error, got %v", result.Err)
	}
	if !called {
		t.Fatal("expected handler to be invoked")
	}
}

func TestStateMonitor_UpdateIsVisibleToSnapshot(t *testing.T) {
	monitor := NewStateMonitor()
	monitor.Update(func(s *AppStateSnapshot) {
		s.NetworkQuality = NetworkPoor
	})

	if monitor.Snapshot().NetworkQuality != NetworkPoor {
		t.Fatalf("expected NetworkPoor, got %s", monitor.Snapshot().NetworkQuality)
	}
}
