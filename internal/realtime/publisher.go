package realtime

import (
	"log/slog"
)

// EventPublisher publishes domain events to an EventBus from the quota,
// transaction, and recovery subsystems.
type EventPublisher struct {
	eventBus *DefaultEventBus
	logger   *slog.Logger
	metrics  *RealtimeMetrics
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(eventBus *DefaultEventBus, logger *slog.Logger, metrics *RealtimeMetrics) *EventPublisher {
	return &EventPublisher{
		eventBus: eventBus,
		logger:   logger.With("component", "event_publisher"),
		metrics:  metrics,
	}
}

func (p *EventPublisher) publish(eventType string, data map[string]interface{}, source string) error {
	if p.eventBus == nil {
		return nil
	}
	event := NewEvent(eventType, data, source)
	return p.eventBus.Publish(*event)
}

// PublishQuotaWarning is raised when usage crosses into the warning tier (§4.3).
func (p *EventPublisher) PublishQuotaWarning(usedBytes, limitBytes int64, ratio float64) error {
	return p.publish(EventTypeQuotaWarning, map[string]interface{}{
		"used_bytes":  usedBytes,
		"limit_bytes": limitBytes,
		"ratio":       ratio,
	}, EventSourceQuota)
}

// PublishQuotaCritical is raised when usage crosses into the critical tier.
func (p *EventPublisher) PublishQuotaCritical(usedBytes, limitBytes int64, ratio float64) error {
	return p.publish(EventTypeQuotaCritical, map[string]interface{}{
		"used_bytes":  usedBytes,
		"limit_bytes": limitBytes,
		"ratio":       ratio,
	}, EventSourceQuota)
}

// PublishQuotaNormal is raised when usage drops back under the warning threshold.
func (p *EventPublisher) PublishQuotaNormal(usedBytes, limitBytes int64) error {
	return p.publish(EventTypeQuotaNormal, map[string]interface{}{
		"used_bytes":  usedBytes,
		"limit_bytes": limitBytes,
	}, EventSourceQuota)
}

// PublishThresholdExceeded is raised by QuotaManager, at most once per check, when
// effective usage reaches 90% of the quota; requestedBytes carries the effective usage.
func (p *EventPublisher) PublishThresholdExceeded(requestedBytes, availableBytes int64) error {
	return p.publish(EventTypeThresholdExceeded, map[string]interface{}{
		"requested_bytes": requestedBytes,
		"available_bytes": availableBytes,
	}, EventSourceQuota)
}

// PublishQuotaCleaned is raised after ArchiveService moves old entries out
// of a live store, reporting the bytes saved and the entries archived.
func (p *EventPublisher) PublishQuotaCleaned(reclaimedBytes int64, keysRemoved int) error {
	return p.publish(EventTypeQuotaCleaned, map[string]interface{}{
		"reclaimed_bytes": reclaimedBytes,
		"keys_removed":    keysRemoved,
	}, EventSourceQuota)
}

// PublishArchiveRestored is raised once per C7 restore call, reporting how
// many entries moved back live, how many remain archived, how many were
// filtered out for failing integrity validation, and the bytes restored.
func (p *EventPublisher) PublishArchiveRestored(restored, remaining, filteredCount int, bytesRestored int64) error {
	return p.publish(EventTypeArchiveRestored, map[string]interface{}{
		"restored":       restored,
		"remaining":      remaining,
		"filtered_count": filteredCount,
		"bytes_restored": bytesRestored,
	}, EventSourceQuota)
}

// PublishReadOnlyMode announces that read-only mode was switched on or off,
// with the reason.
func (p *EventPublisher) PublishReadOnlyMode(enabled bool, reason string) error {
	return p.publish(EventTypeReadOnlyMode, map[string]interface{}{
		"enabled": enabled,
		"reason":  reason,
	}, EventSourceSecurity)
}

// PublishTransactionFatalState is raised when the transaction state manager
// enters the process-wide fatal state (§4.5).
func (p *EventPublisher) PublishTransactionFatalState(transactionID, reason string) error {
	return p.publish(EventTypeTransactionFatalState, map[string]interface{}{
		"transaction_id": transactionID,
		"reason":         reason,
	}, EventSourceTransaction)
}

// PublishTransactionFatalCleared is raised when an operator clears the fatal state.
func (p *EventPublisher) PublishTransactionFatalCleared() error {
	return p.publish(EventTypeTransactionFatalCleared, map[string]interface{}{}, EventSourceTransaction)
}

// PublishTransactionCommitted is raised after a 2PC transaction commits.
func (p *EventPublisher) PublishTransactionCommitted(transactionID string, keys []string) error {
	return p.publish(EventTypeTransactionCommitted, map[string]interface{}{
		"transaction_id": transactionID,
		"keys":           keys,
	}, EventSourceTransaction)
}

// PublishTransactionRolledBack is raised after a 2PC transaction rolls back.
func (p *EventPublisher) PublishTransactionRolledBack(transactionID, reason string) error {
	return p.publish(EventTypeTransactionRolledBack, map[string]interface{}{
		"transaction_id": transactionID,
		"reason":         reason,
	}, EventSourceTransaction)
}

// PublishRecoveryStorageCleanup is raised when C9 executes its storage-cleanup strategy.
func (p *EventPublisher) PublishRecoveryStorageCleanup(errorKind string) error {
	return p.publish(EventTypeRecoveryStorageCleanup, map[string]interface{}{
		"error_kind": errorKind,
	}, EventSourceRecovery)
}

// PublishRecoveryContextChanged is raised when the network-quality snapshot
// used by the recovery engine's backoff multiplier changes (§4.9).
func (p *EventPublisher) PublishRecoveryContextChanged(quality string) error {
	return p.publish(EventTypeRecoveryContextChanged, map[string]interface{}{
		"network_quality": quality,
	}, EventSourceRecovery)
}

// PublishSecurityReady is raised when the security coordinator's
// initialization sequence completes with every module healthy.
func (p *EventPublisher) PublishSecurityReady() error {
	return p.publish(EventTypeSecurityReady, map[string]interface{}{}, EventSourceSecurity)
}

// PublishSecurityDegraded is raised when initialization completes but one
// or more non-fatal modules reported a failure.
func (p *EventPublisher) PublishSecurityDegraded(warnings []string) error {
	return p.publish(EventTypeSecurityDegraded, map[string]interface{}{
		"warnings": warnings,
	}, EventSourceSecurity)
}

// PublishSecurityFailed is raised when the secure-context check fails and
// require_secure_context is enabled.
func (p *EventPublisher) PublishSecurityFailed(reason string) error {
	return p.publish(EventTypeSecurityFailed, map[string]interface{}{
		"reason": reason,
	}, EventSourceSecurity)
}
