package txstate

import (
	"github.com/vitaliisemenov/storagecore/internal/keymanager"
	"github.com/vitaliisemenov/storagecore/internal/recovery"
)

// CoreContext is the explicit substitute for the process-wide
// singletons called out in spec.md §9: fatal state, nested-transaction
// depth, the app-state snapshot, and the key-manager session are all
// reached through one value instead of package-level mutable globals.
// Every C6 transaction takes a *CoreContext rather than reaching for
// global state.
type CoreContext struct {
	FatalState *FatalState
	Nesting    *NestedTransactionGuard
	State      *recovery.StateMonitor
	Keys       *keymanager.Manager
}

// New creates a CoreContext from the given fatal state, nesting guard,
// state monitor and key manager.
func New(fatal *FatalState, nesting *NestedTransactionGuard, state *recovery.StateMonitor, keys *keymanager.Manager) *CoreContext {
	return &CoreContext{FatalState: fatal, Nesting: nesting, State: state, Keys: keys}
}
