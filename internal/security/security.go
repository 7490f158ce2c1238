// Package security implements SecurityCoordinator (C10): a sequential
// initialization pipeline over the key-management, encryption,
// token-binding, and anomaly-detection modules that reduces their
// individual outcomes to a single readiness state machine, modeled on the
// teacher's ReloadCoordinator phase pipeline and the pack's key-rotation
// reconciler's idempotent, status-reporting init.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
	"github.com/vitaliisemenov/storagecore/internal/encryption"
	"github.com/vitaliisemenov/storagecore/internal/keymanager"
	"github.com/vitaliisemenov/storagecore/internal/realtime"
)

// State is one node of the NotStarted -> InProgress -> {Ready, Degraded,
// Failed} machine.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateReady      State = "ready"
	StateDegraded   State = "degraded"
	StateFailed     State = "failed"
)

// TokenBindingChecker verifies that whatever session token the process
// holds is still bound to the expected device. The default is a no-op
// success; a deployment with an actual token surface injects its own.
type TokenBindingChecker interface {
	CheckBinding(ctx context.Context) error
}

type noopTokenBinding struct{}

func (noopTokenBinding) CheckBinding(ctx context.Context) error { return nil }

// AnomalyDetector reports whether the anomaly-detection subsystem is ready
// to observe traffic. The default is always ready.
type AnomalyDetector interface {
	Ready(ctx context.Context) bool
}

type alwaysReadyAnomalyDetector struct{}

func (alwaysReadyAnomalyDetector) Ready(ctx context.Context) bool { return true }

// Hardener runs an optional last-step hardening pass. A nil Hardener
// skips the step entirely rather than counting as a failure.
type Hardener interface {
	Harden(ctx context.Context) error
}

// Options configures one Init call.
type Options struct {
	Password             string
	Fingerprint          keymanager.Fingerprint
	RequireSecureContext bool
}

// Report is Init's return value, and what every later call against an
// already-started coordinator replays.
type Report struct {
	State     State
	Warnings  []string
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Coordinator is C10's SecurityCoordinator.
type Coordinator struct {
	mu     sync.Mutex
	state  State
	report Report

	keys     *keymanager.Manager
	enc      *encryption.Service
	secure   keymanager.SecureContextChecker
	binding  TokenBindingChecker
	anomaly  AnomalyDetector
	hardener Hardener

	encryptionAvailable bool

	publisher *realtime.EventPublisher
	logger    *slog.Logger

	doneCh    chan struct{}
	closeOnce sync.Once

	onReady   []func(Report)
	onFailure []func(Report)
}

// New builds a Coordinator over keys (required) and enc (nil means
// encryption is unavailable and every init degrades). binding, anomaly,
// and secure fall back to permissive defaults when nil; hardener is
// optional and skipped entirely when nil.
func New(keys *keymanager.Manager, enc *encryption.Service, secure keymanager.SecureContextChecker, binding TokenBindingChecker, anomaly AnomalyDetector, hardener Hardener, publisher *realtime.EventPublisher, logger *slog.Logger) *Coordinator {
	if secure == nil {
		secure = keymanager.StaticSecureContext(true)
	}
	if binding == nil {
		binding = noopTokenBinding{}
	}
	if anomaly == nil {
		anomaly = alwaysReadyAnomalyDetector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		state:     StateNotStarted,
		keys:      keys,
		enc:       enc,
		secure:    secure,
		binding:   binding,
		anomaly:   anomaly,
		hardener:  hardener,
		publisher: publisher,
		logger:    logger.With("component", "security_coordinator"),
		doneCh:    make(chan struct{}),
	}
}

// Init runs the ordered initialization sequence exactly once. A second
// call against an already-started coordinator returns the existing
// report without re-running anything.
func (c *Coordinator) Init(ctx context.Context, opts Options) Report {
	c.mu.Lock()
	if c.state != StateNotStarted {
		report := c.report
		c.mu.Unlock()
		return report
	}
	c.state = StateInProgress
	c.mu.Unlock()

	report := c.run(ctx, opts)

	c.mu.Lock()
	c.state = report.State
	c.report = report
	c.mu.Unlock()

	c.dispatch(report)
	return report
}

// run executes the six ordered steps and folds their outcomes into a
// single Report. Only the secure-context check can end the sequence
// early; every later step records a warning and continues so the report
// reflects every module's condition, not just the first to fail.
func (c *Coordinator) run(ctx context.Context, opts Options) Report {
	report := Report{StartedAt: time.Now()}

	if opts.RequireSecureContext && !c.secure.IsSecureContext() {
		report.State = StateFailed
		report.Reason = "insecure context"
		report.EndedAt = time.Now()
		c.logger.Error("initialization failed", "phase", "secure_context", "reason", report.Reason)
		return report
	}

	degraded := false

	cfg := keymanager.Config{RequireSecureContext: opts.RequireSecureContext, Fingerprint: opts.Fingerprint}
	if err := c.keys.InitializeSession(ctx, opts.Password, cfg); err != nil {
		degraded = true
		report.Warnings = append(report.Warnings, fmt.Sprintf("key_manager: %v", err))
		c.logger.Warn("initialization step degraded", "phase", "key_manager", "err", err)
	}

	if c.enc == nil {
		degraded = true
		report.Warnings = append(report.Warnings, "encryption: service unavailable")
		c.logger.Warn("initialization step degraded", "phase", "encryption")
	}

	if err := c.binding.CheckBinding(ctx); err != nil {
		degraded = true
		report.Warnings = append(report.Warnings, fmt.Sprintf("token_binding: %v", err))
		c.logger.Warn("initialization step degraded", "phase", "token_binding", "err", err)
	}

	if !c.anomaly.Ready(ctx) {
		degraded = true
		report.Warnings = append(report.Warnings, "anomaly_detection: not ready")
		c.logger.Warn("initialization step degraded", "phase", "anomaly_detection")
	}

	if c.hardener != nil {
		if err := c.hardener.Harden(ctx); err != nil {
			degraded = true
			report.Warnings = append(report.Warnings, fmt.Sprintf("hardening: %v", err))
			c.logger.Warn("initialization step degraded", "phase", "hardening", "err", err)
		}
	}

	c.mu.Lock()
	c.encryptionAvailable = c.keys.IsSessionActive() && c.enc != nil
	c.mu.Unlock()

	if degraded {
		report.State = StateDegraded
	} else {
		report.State = StateReady
	}
	report.EndedAt = time.Now()
	return report
}

func (c *Coordinator) dispatch(report Report) {
	c.closeOnce.Do(func() { close(c.doneCh) })

	switch report.State {
	case StateReady:
		c.logger.Info("initialization complete", "state", report.State, "duration", report.EndedAt.Sub(report.StartedAt))
		if c.publisher != nil {
			if err := c.publisher.PublishSecurityReady(); err != nil {
				c.logger.Warn("failed to publish security ready event", "err", err)
			}
		}
		c.runCallbacks(&c.onReady, report)
	case StateDegraded:
		c.logger.Warn("initialization complete", "state", report.State, "warnings", report.Warnings)
		if c.publisher != nil {
			if err := c.publisher.PublishSecurityDegraded(report.Warnings); err != nil {
				c.logger.Warn("failed to publish security degraded event", "err", err)
			}
		}
		c.runCallbacks(&c.onReady, report)
	case StateFailed:
		if c.publisher != nil {
			if err := c.publisher.PublishSecurityFailed(report.Reason); err != nil {
				c.logger.Warn("failed to publish security failed event", "err", err)
			}
		}
		c.runCallbacks(&c.onFailure, report)
	}
}

// runCallbacks copies the subscriber list under lock before invoking any
// of them, so a callback that re-entrantly calls OnReady/OnFailure never
// mutates the slice being iterated.
func (c *Coordinator) runCallbacks(list *[]func(Report), report Report) {
	c.mu.Lock()
	snapshot := make([]func(Report), len(*list))
	copy(snapshot, *list)
	c.mu.Unlock()

	for _, cb := range snapshot {
		cb(report)
	}
}

// OnReady registers cb to run once initialization reaches Ready or
// Degraded. If that has already happened, cb runs immediately.
func (c *Coordinator) OnReady(cb func(Report)) {
	c.mu.Lock()
	state := c.state
	report := c.report
	c.onReady = append(c.onReady, cb)
	c.mu.Unlock()

	if state == StateReady || state == StateDegraded {
		cb(report)
	}
}

// OnFailure registers cb to run once initialization reaches Failed. If
// that has already happened, cb runs immediately.
func (c *Coordinator) OnFailure(cb func(Report)) {
	c.mu.Lock()
	state := c.state
	report := c.report
	c.onFailure = append(c.onFailure, cb)
	c.mu.Unlock()

	if state == StateFailed {
		cb(report)
	}
}

// IsReady reports whether the coordinator reached the Ready state.
func (c *Coordinator) IsReady() bool { return c.currentState() == StateReady }

// IsDegraded reports whether the coordinator reached the Degraded state.
func (c *Coordinator) IsDegraded() bool { return c.currentState() == StateDegraded }

// IsFailed reports whether the coordinator reached the Failed state.
func (c *Coordinator) IsFailed() bool { return c.currentState() == StateFailed }

// CanEncrypt reports whether both the key session and the encryption
// service came up; Degraded states from other modules still allow it.
func (c *Coordinator) CanEncrypt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encryptionAvailable
}

func (c *Coordinator) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitForReady blocks until initialization reaches a terminal state or
// timeout elapses, whichever comes first. It returns nil for Ready and
// Degraded, an error for Failed or for an elapsed timeout.
func (c *Coordinator) WaitForReady(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateNotStarted && state != StateInProgress {
		return terminalResult(state)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.doneCh:
		return terminalResult(c.currentState())
	case <-timer.C:
		return coreerrors.New(coreerrors.KindLockTimeout, "timed out waiting for security coordinator readiness")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func terminalResult(state State) error {
	if state == StateFailed {
		return coreerrors.New(coreerrors.KindInsecureContext, "security coordinator failed to initialize")
	}
	return nil
}
