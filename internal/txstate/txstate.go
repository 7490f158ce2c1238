// Package txstate implements TransactionStateManager and
// NestedTransactionGuard (C5), plus the CoreContext value spec.md §9
// calls for in place of process-wide singletons: fatal state, nesting
// depth, app-state snapshot, and key-manager session are all threaded
// explicitly through a context value instead of package-level globals.
package txstate

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vitaliisemenov/storagecore/internal/realtime"
)

// FatalState is the process-wide single-writer fault flag: once set, no
// new transaction may begin until an operator clears it.
type FatalState struct {
	publisher *realtime.EventPublisher
	logger    *slog.Logger

	mu     sync.RWMutex
	active bool
	reason string
	txID   string
	compCount int
}

// NewFatalState creates an unset FatalState.
func NewFatalState(publisher *realtime.EventPublisher, logger *slog.Logger) *FatalState {
	if logger == nil {
		logger = slog.Default()
	}
	return &FatalState{publisher: publisher, logger: logger.With("component", "fatal_state")}
}

// IsFatalState reports whether the fatal flag is set. Queried before
// every transaction begin.
func (f *FatalState) IsFatalState() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

// EnterFatalState sets the flag if not already set; a second call while
// already fatal is a no-op (single writer — the first cause wins).
func (f *FatalState) EnterFatalState(reason, txID string, compCount int) {
	f.mu.Lock()
	alreadyFatal := f.active
	if !alreadyFatal {
		f.active = true
		f.reason = reason
		f.txID = txID
		f.compCount = compCount
	}
	f.mu.Unlock()

	if alreadyFatal {
		return
	}

	f.logger.Error("entering fatal state", "reason", reason, "transaction_id", txID, "compensation_count", compCount)
	if f.publisher != nil {
		if err := f.publisher.PublishTransactionFatalState(txID, reason); err != nil {
			f.logger.Warn("failed to publish fatal state event", "err", err)
		}
	}
}

// ClearFatalState is idempotent: clearing an already-clear state is a
// harmless no-op.
func (f *FatalState) ClearFatalState(reason string) {
	f.mu.Lock()
	wasActive := f.active
	f.active = false
	f.reason = ""
	f.txID = ""
	f.compCount = 0
	f.mu.Unlock()

	if !wasActive {
		return
	}

	f.logger.Info("fatal state cleared", "reason", reason)
	if f.publisher != nil {
		if err := f.publisher.PublishTransactionFatalCleared(); err != nil {
			f.logger.Warn("failed to publish fatal cleared event", "err", err)
		}
	}
}

// Snapshot reports the currently recorded fatal-state detail, for
// cmd/storagectl status.
type Snapshot struct {
	Active        bool
	Reason        string
	TransactionID string
	CompensationCount int
}

// Snapshot returns the current fatal state detail.
func (f *FatalState) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Snapshot{Active: f.active, Reason: f.reason, TransactionID: f.txID, CompensationCount: f.compCount}
}

// NestedTransactionGuard enforces single-owner, non-reentrant transaction
// scopes: a process-wide depth counter that rejects entry while already
// above zero.
type NestedTransactionGuard struct {
	depth   atomic.Int64
	ownerID atomic.Value // string
	logger  *slog.Logger
}

// NewNestedTransactionGuard creates a guard at depth zero.
func NewNestedTransactionGuard(logger *slog.Logger) *NestedTransactionGuard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &NestedTransactionGuard{logger: logger.With("component", "nested_transaction_guard")}
	g.ownerID.Store("")
	return g
}

// Enter increments the depth counter, rejecting if a transaction is
// already in progress.
func (g *NestedTransactionGuard) Enter(id string) bool {
	if !g.depth.CompareAndSwap(0, 1) {
		return false
	}
	g.ownerID.Store(id)
	return true
}

// Exit decrements the depth counter. If the exiting id doesn't match the
// entering id, a diagnostic is logged, but depth still decrements to
// preserve liveness.
func (g *NestedTransactionGuard) Exit(id string) {
	owner, _ := g.ownerID.Load().(string)
	if owner != id {
		g.logger.Warn("nested transaction guard exit id mismatch", "entered_as", owner, "exited_as", id)
	}
	g.depth.Add(-1)
	g.ownerID.Store("")
}

// Depth reports the current nesting depth, used by tests to drain state
// during setup/teardown.
func (g *NestedTransactionGuard) Depth() int64 {
	return g.depth.Load()
}

// Reset forces the guard back to depth zero; only test setup/teardown
// should call this.
func (g *NestedTransactionGuard) Reset() {
	g.depth.Store(0)
	g.ownerID.Store("")
}
