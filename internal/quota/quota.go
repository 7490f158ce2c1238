// Package quota implements QuotaManager (C3): effective-usage tiering
// against a host storage estimate, time-boxed write reservations, and
// threshold events published over the realtime event bus.
package quota

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/storagecore/internal/realtime"
)

// Tier classifies effective usage percent.
type Tier string

const (
	TierNormal   Tier = "normal"
	TierWarning  Tier = "warning"
	TierCritical Tier = "critical"
)

const (
	defaultWarningThreshold  = 0.80
	defaultCriticalThreshold = 0.95
	thresholdExceededPercent = 0.90
	reservationTTL           = 30 * time.Second
	defaultFallbackQuota     = 50 * 1024 * 1024 // 50 MB
	defaultPollInterval      = 60 * time.Second
)

// Estimator supplies the raw host usage/quota estimate. Swappable so
// tests don't need a real bbolt file.
type Estimator interface {
	Estimate(ctx context.Context) (usedBytes, quotaBytes int64, err error)
}

// QuotaStatus is an immutable snapshot returned to callers; Manager
// always hands out a copy, never an internal pointer.
type QuotaStatus struct {
	UsedBytes      int64
	QuotaBytes     int64
	ReservedBytes  int64
	EffectiveBytes int64
	AvailableBytes int64
	EffectivePct   float64
	Tier           Tier
	IsBlocked      bool
}

type reservation struct {
	id        int64
	size      int64
	createdAt time.Time
}

// Manager is C3's QuotaManager.
type Manager struct {
	estimator Estimator
	publisher *realtime.EventPublisher
	logger    *slog.Logger

	warningThreshold  atomic.Uint64 // bits of a float64
	criticalThreshold atomic.Uint64

	fallbackQuota int64
	pollInterval  time.Duration

	metrics *Metrics

	mu                  sync.Mutex
	reservations        map[int64]*reservation
	nextReservationID   int64
	lastTier            Tier
	thresholdFiredCycle int64
	cycle               int64

	stopPoll chan struct{}
}

// AttachMetrics wires Prometheus observation into subsequent CheckNow
// calls. Optional — a Manager with no metrics attached behaves identically.
func (m *Manager) AttachMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// Config controls Manager construction.
type Config struct {
	WarningThreshold  float64
	CriticalThreshold float64
	FallbackQuota     int64
	PollInterval      time.Duration
}

// DefaultConfig returns spec-default thresholds and intervals.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:  defaultWarningThreshold,
		CriticalThreshold: defaultCriticalThreshold,
		FallbackQuota:     defaultFallbackQuota,
		PollInterval:      defaultPollInterval,
	}
}

// New creates a QuotaManager. cfg zero-values fall back to DefaultConfig.
func New(estimator Estimator, publisher *realtime.EventPublisher, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WarningThreshold == 0 {
		cfg.WarningThreshold = defaultWarningThreshold
	}
	if cfg.CriticalThreshold == 0 {
		cfg.CriticalThreshold = defaultCriticalThreshold
	}
	if cfg.FallbackQuota == 0 {
		cfg.FallbackQuota = defaultFallbackQuota
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}

	m := &Manager{
		estimator:     estimator,
		publisher:     publisher,
		logger:        logger.With("component", "quota_manager"),
		fallbackQuota: cfg.FallbackQuota,
		pollInterval:  cfg.PollInterval,
		reservations:  make(map[int64]*reservation),
		lastTier:      TierNormal,
	}
	m.warningThreshold.Store(floatBits(cfg.WarningThreshold))
	m.criticalThreshold.Store(floatBits(cfg.CriticalThreshold))
	return m
}

func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }

// SetWarningThreshold updates the warning cutoff; rejected if it would
// violate warning < critical.
func (m *Manager) SetWarningThreshold(f float64) bool {
	if f >= floatFromBits(m.criticalThreshold.Load()) {
		return false
	}
	m.warningThreshold.Store(floatBits(f))
	return true
}

// SetCriticalThreshold updates the critical cutoff; rejected if it would
// violate warning < critical.
func (m *Manager) SetCriticalThreshold(f float64) bool {
	if f <= floatFromBits(m.warningThreshold.Load()) {
		return false
	}
	m.criticalThreshold.Store(floatBits(f))
	return true
}

// CheckNow recomputes the effective QuotaStatus. Raw-estimate errors
// never propagate: on failure the fallback quota is assumed, at zero
// used bytes, so callers always get a usable status.
func (m *Manager) CheckNow(ctx context.Context, pendingBytes int64) QuotaStatus {
	used, quota, err := m.estimator.Estimate(ctx)
	if err != nil {
		m.logger.Warn("host quota estimate unavailable, using fallback", "err", err)
		used, quota = 0, m.fallbackQuota
	}
	if quota <= 0 {
		quota = m.fallbackQuota
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycle++
	m.gcExpiredReservationsLocked()

	reserved := int64(0)
	for _, r := range m.reservations {
		reserved += r.size
	}

	effective := used + reserved + pendingBytes
	status := m.buildStatusLocked(used, quota, reserved, effective)
	m.publishTransitionsLocked(status)
	m.metrics.observe(status, len(m.reservations))
	return status
}

func (m *Manager) buildStatusLocked(used, quota, reserved, effective int64) QuotaStatus {
	pct := 0.0
	if quota > 0 {
		pct = float64(effective) / float64(quota)
	}

	tier := TierNormal
	switch {
	case pct >= floatFromBits(m.criticalThreshold.Load()):
		tier = TierCritical
	case pct >= floatFromBits(m.warningThreshold.Load()):
		tier = TierWarning
	}

	available := quota - effective
	if available < 0 {
		available = 0
	}

	return QuotaStatus{
		UsedBytes:      used,
		QuotaBytes:     quota,
		ReservedBytes:  reserved,
		EffectiveBytes: effective,
		AvailableBytes: available,
		EffectivePct:   pct,
		Tier:           tier,
		IsBlocked:      tier == TierCritical,
	}
}

func (m *Manager) publishTransitionsLocked(status QuotaStatus) {
	enteringWarning := status.Tier == TierWarning && m.lastTier != TierWarning
	changed := status.Tier != m.lastTier

	if changed || enteringWarning {
		switch status.Tier {
		case TierWarning:
			m.publishQuotaWarning(status)
		case TierCritical:
			m.publishQuotaCritical(status)
		case TierNormal:
			m.publishQuotaNormal(status)
		}
	}
	m.lastTier = status.Tier

	if status.EffectivePct >= thresholdExceededPercent && m.thresholdFiredCycle != m.cycle {
		m.thresholdFiredCycle = m.cycle
		m.publishThresholdExceeded(status)
	}
}

func (m *Manager) publishQuotaWarning(s QuotaStatus) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishQuotaWarning(s.EffectiveBytes, s.QuotaBytes, s.EffectivePct); err != nil {
		m.logger.Warn("failed to publish quota warning event", "err", err)
	}
}

func (m *Manager) publishQuotaCritical(s QuotaStatus) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishQuotaCritical(s.EffectiveBytes, s.QuotaBytes, s.EffectivePct); err != nil {
		m.logger.Warn("failed to publish quota critical event", "err", err)
	}
}

func (m *Manager) publishQuotaNormal(s QuotaStatus) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishQuotaNormal(s.EffectiveBytes, s.QuotaBytes); err != nil {
		m.logger.Warn("failed to publish quota normal event", "err", err)
	}
}

func (m *Manager) publishThresholdExceeded(s QuotaStatus) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishThresholdExceeded(s.EffectiveBytes, s.AvailableBytes); err != nil {
		m.logger.Warn("failed to publish threshold exceeded event", "err", err)
	}
}

// gcExpiredReservationsLocked drops reservations older than 30s, logging
// a warning for each reclaimed id. Caller must hold m.mu.
func (m *Manager) gcExpiredReservationsLocked() {
	now := time.Now()
	for id, r := range m.reservations {
		if now.Sub(r.createdAt) > reservationTTL {
			m.logger.Warn("reclaiming expired quota reservation", "reservation_id", id, "size", r.size)
			delete(m.reservations, id)
		}
	}
}

// CheckWriteFits reports whether size fits under the current effective
// status, atomically creating a reservation on success.
func (m *Manager) CheckWriteFits(ctx context.Context, size int64) (fits bool, status QuotaStatus, reservationID int64, ok bool) {
	status = m.CheckNow(ctx, 0)
	if size > status.AvailableBytes || status.Tier == TierCritical {
		return false, status, 0, false
	}

	m.mu.Lock()
	reserved := int64(0)
	for _, r := range m.reservations {
		reserved += r.size
	}
	if size > status.QuotaBytes-(status.UsedBytes+reserved) {
		m.mu.Unlock()
		return false, status, 0, false
	}
	m.nextReservationID++
	id := m.nextReservationID
	m.reservations[id] = &reservation{id: id, size: size, createdAt: time.Now()}
	m.mu.Unlock()

	return true, status, id, true
}

// CreateReservation reserves size bytes without a fits check, returning
// a monotonically increasing id.
func (m *Manager) CreateReservation(size int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextReservationID++
	id := m.nextReservationID
	m.reservations[id] = &reservation{id: id, size: size, createdAt: time.Now()}
	return id
}

// ReleaseReservation removes a reservation by id; releasing an absent or
// already-expired id is a no-op.
func (m *Manager) ReleaseReservation(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, id)
}

// StartPolling runs CheckNow on the configured interval until ctx is
// canceled or Stop is called.
func (m *Manager) StartPolling(ctx context.Context) {
	m.stopPoll = make(chan struct{})
	ticker := time.NewTicker(m.pollInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopPoll:
				return
			case <-ticker.C:
				m.CheckNow(ctx, 0)
			}
		}
	}()
}

// Stop halts the polling goroutine started by StartPolling.
func (m *Manager) Stop() {
	if m.stopPoll != nil {
		close(m.stopPoll)
	}
}
