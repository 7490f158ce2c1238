// Package realtime broadcasts storage-substrate lifecycle events (quota,
// transaction, recovery) to in-process subscribers.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a real-time event broadcast to subscribers.
type Event struct {
	// Type is the event topic, e.g. "storage:quota_warning", "transaction:committed".
	Type string `json:"type"`

	// ID is a unique event ID (UUID)
	ID string `json:"id"`

	// Data is the event payload (varies by event type)
	Data map[string]interface{} `json:"data"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Source is the subsystem that raised the event.
	Source string `json:"source"`

	// Sequence is a sequence number for event ordering (monotonically increasing)
	Sequence int64 `json:"sequence"`
}

// EventType constants, one per §6 topic.
const (
	EventTypeQuotaWarning      = "storage:quota_warning"
	EventTypeQuotaCritical     = "storage:quota_critical"
	EventTypeQuotaNormal       = "storage:quota_normal"
	EventTypeThresholdExceeded = "storage:threshold_exceeded"
	EventTypeQuotaCleaned      = "storage:quota_cleaned"
	EventTypeArchiveRestored   = "storage:archive_restored"
	EventTypeReadOnlyMode      = "storage:read_only_mode"

	EventTypeTransactionFatalState  = "transaction:fatal_state"
	EventTypeTransactionFatalCleared = "transaction:fatal_cleared"
	EventTypeTransactionCommitted   = "transaction:committed"
	EventTypeTransactionRolledBack  = "transaction:rolled_back"

	EventTypeRecoveryStorageCleanup = "recovery:storage_cleanup"
	EventTypeRecoveryContextChanged = "recovery:context_changed"

	EventTypeSecurityReady    = "security:ready"
	EventTypeSecurityDegraded = "security:degraded"
	EventTypeSecurityFailed   = "security:failed"
)

// EventSource constants.
const (
	EventSourceQuota       = "quota_manager"
	EventSourceTransaction = "transaction_coordinator"
	EventSourceRecovery    = "context_aware_recovery"
	EventSourceLock        = "priority_lock_manager"
	EventSourceSecurity    = "security_coordinator"
)

// NewEvent creates a new Event with the given type, data, and source.
func NewEvent(eventType string, data map[string]interface{}, source string) *Event {
	return &Event{
		Type:      eventType,
		ID:        generateEventID(),
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
		Sequence:  0, // Will be set by EventBus
	}
}

// generateEventID generates a unique event ID (UUID).
func generateEventID() string {
	return uuid.New().String()
}
