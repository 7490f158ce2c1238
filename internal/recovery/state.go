package recovery

import "sync/atomic"

// MemoryPressure is a coarse host memory signal, cheaper to report than a
// byte count and good enough to gate recovery strategy timing.
type MemoryPressure string

const (
	MemoryPressureNormal   MemoryPressure = "normal"
	MemoryPressureElevated MemoryPressure = "elevated"
	MemoryPressureCritical MemoryPressure = "critical"
)

// AppStateSnapshot is the process-wide state execute() consults when
// choosing timing and the strategy.Context it builds, per spec.md §4.9.
// It used to be a module-level singleton in the source; here it is owned by
// an explicit StateMonitor and threaded through CoreContext instead.
type AppStateSnapshot struct {
	ViewMode           string
	DataState          string
	UserIntent         string
	OperationInProgress bool
	LastError          error
	NetworkQuality     NetworkQuality
	DeviceType         string
	Background         bool
	MemoryPressure     MemoryPressure
}

// StateMonitor holds the current AppStateSnapshot behind an atomic pointer
// so readers never race with the observer callbacks start_monitoring wires
// up (ui:view_changed, data:state_changed, user:intent_detected, and the
// connection-health incoming topics from §6).
type StateMonitor struct {
	current atomic.Pointer[AppStateSnapshot]
}

// NewStateMonitor seeds the monitor with a neutral snapshot.
func NewStateMonitor() *StateMonitor {
	m := &StateMonitor{}
	m.current.Store(&AppStateSnapshot{
		NetworkQuality: NetworkGood,
		MemoryPressure: MemoryPressureNormal,
	})
	return m
}

// Snapshot returns the current app state.
func (m *StateMonitor) Snapshot() AppStateSnapshot {
	return *m.current.Load()
}

// Update applies fn to a copy of the current snapshot and stores the result.
// Observer callbacks registered by StartMonitoring call this on each event.
func (m *StateMonitor) Update(fn func(*AppStateSnapshot)) {
	next := m.Snapshot()
	fn(&next)
	m.current.Store(&next)
}
