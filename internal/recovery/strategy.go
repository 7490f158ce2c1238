package recovery

import (
	"time"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
	"github.com/vitaliisemenov/storagecore/internal/lock"
)

// Action is one of the eight fixed recovery actions spec.md §4.9 names.
type Action string

const (
	ActionRefreshToken    Action = "refresh_token"
	ActionCleanupStorage  Action = "cleanup_storage"
	ActionAdaptiveRetry   Action = "adaptive_retry"
	ActionImmediateRetry  Action = "immediate_retry"
	ActionWaitAndRetry    Action = "wait_and_retry"
	ActionRestartWorker   Action = "restart_worker"
	ActionRetryOperation  Action = "retry_operation"
	ActionLogAndContinue  Action = "log_and_continue"
)

// NetworkQuality scales the adaptive retry delay per spec.md §4.9.
type NetworkQuality string

const (
	NetworkGood NetworkQuality = "good"
	NetworkFair NetworkQuality = "fair"
	NetworkPoor NetworkQuality = "poor"
)

func (q NetworkQuality) delayMultiplier() float64 {
	switch q {
	case NetworkFair:
		return 1.5
	case NetworkPoor:
		return 3
	default:
		return 1
	}
}

// Context carries the signals that modify timing parameters and lock
// selection during strategy selection (network quality, user intent,
// background state, device class per spec.md §4.9).
type Context struct {
	NetworkQuality NetworkQuality
	UserIntent     string
	Background     bool
	DeviceClass    string
}

// Strategy is the tagged result of select_strategy: an action plus the
// parameters execute needs to carry it out.
type Strategy struct {
	Action        Action
	Priority      lock.Priority
	RequiredLock  string // empty means no lock is acquired
	RetryCount    int
	AdaptiveDelay time.Duration
}

// strategyRule is one entry of the deterministic kind->strategy table.
// Order matters: ties in Strategy.Priority are broken by table order,
// per spec.md §4.9 ("ties on priority are broken by insertion order").
type strategyRule struct {
	kind     coreerrors.Kind
	strategy Strategy
}

var strategyTable = []strategyRule{
	{coreerrors.KindQuotaExceeded, Strategy{Action: ActionCleanupStorage, Priority: lock.PriorityHigh, RequiredLock: "quota_cleanup", RetryCount: 1}},
	{coreerrors.KindWriteBlocked, Strategy{Action: ActionWaitAndRetry, Priority: lock.PriorityNormal, RequiredLock: "quota_poll", RetryCount: 3}},
	{coreerrors.KindLockBusy, Strategy{Action: ActionWaitAndRetry, Priority: lock.PriorityNormal, RetryCount: 3}},
	{coreerrors.KindLockTimeout, Strategy{Action: ActionAdaptiveRetry, Priority: lock.PriorityNormal, RetryCount: 3, AdaptiveDelay: 200 * time.Millisecond}},
	{coreerrors.KindLockAcquisition, Strategy{Action: ActionImmediateRetry, Priority: lock.PriorityNormal, RetryCount: 5}},
	{coreerrors.KindDecryptionFailed, Strategy{Action: ActionLogAndContinue, Priority: lock.PriorityLow}},
	{coreerrors.KindKdfFailure, Strategy{Action: ActionRestartWorker, Priority: lock.PriorityHigh, RequiredLock: "key_session", RetryCount: 1}},
	{coreerrors.KindInsecureContext, Strategy{Action: ActionLogAndContinue, Priority: lock.PriorityCritical}},
	{coreerrors.KindWeakPassword, Strategy{Action: ActionLogAndContinue, Priority: lock.PriorityLow}},
	{coreerrors.KindEncryptionUnavailable, Strategy{Action: ActionRefreshToken, Priority: lock.PriorityHigh, RequiredLock: "key_session", RetryCount: 1}},
	{coreerrors.KindPrepareFailure, Strategy{Action: ActionRetryOperation, Priority: lock.PriorityNormal, RetryCount: 2, AdaptiveDelay: 150 * time.Millisecond}},
	{coreerrors.KindCommitFailure, Strategy{Action: ActionRetryOperation, Priority: lock.PriorityHigh, RetryCount: 2, AdaptiveDelay: 150 * time.Millisecond}},
	{coreerrors.KindRollbackFailure, Strategy{Action: ActionLogAndContinue, Priority: lock.PriorityCritical}},
	{coreerrors.KindJournalWriteFailure, Strategy{Action: ActionAdaptiveRetry, Priority: lock.PriorityHigh, RetryCount: 3, AdaptiveDelay: 100 * time.Millisecond}},
	{coreerrors.KindCleanupFailure, Strategy{Action: ActionLogAndContinue, Priority: lock.PriorityLow}},
	{coreerrors.KindArchiveIntegrity, Strategy{Action: ActionRestartWorker, Priority: lock.PriorityNormal, RetryCount: 1}},
	{coreerrors.KindNestedTransaction, Strategy{Action: ActionLogAndContinue, Priority: lock.PriorityLow}},
	{coreerrors.KindFatalState, Strategy{Action: ActionLogAndContinue, Priority: lock.PriorityCritical}},
}

// SelectStrategy implements select_strategy(error, context?): a deterministic
// lookup by error kind, falling back to adaptive_retry for untagged errors.
func SelectStrategy(err error, recoveryCtx Context) Strategy {
	kind := kindOf(err)

	strategy := Strategy{Action: ActionAdaptiveRetry, Priority: lock.PriorityNormal, RetryCount: 3, AdaptiveDelay: 200 * time.Millisecond}
	for _, rule := range strategyTable {
		if rule.kind == kind {
			strategy = rule.strategy
			break
		}
	}

	strategy.AdaptiveDelay = time.Duration(float64(strategy.AdaptiveDelay) * recoveryCtx.NetworkQuality.delayMultiplier())
	return strategy
}
