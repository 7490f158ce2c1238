package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
)

// holderValue is what is actually stored at a lock's Redis key: the holder's
// opaque lock id (for compare-and-delete release) plus its priority (for
// preemption decisions). Redis only ever sees this JSON blob.
type holderValue struct {
	LockID   string `json:"lock_id"`
	Priority int    `json:"priority"`
}

// Config controls acquisition retry behavior and the lock's TTL.
type Config struct {
	TTL            time.Duration
	AcquireTimeout time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
}

// DefaultConfig mirrors the teacher's distributed-lock defaults, extended
// with the acquisition timeout spec.md §4.8 requires (30s).
func DefaultConfig() *Config {
	return &Config{
		TTL:            30 * time.Second,
		AcquireTimeout: 30 * time.Second,
		MaxRetries:     5,
		RetryInterval:  100 * time.Millisecond,
	}
}

// compareAndDeleteScript releases a lock only if the caller still holds it.
const compareAndDeleteScript = `
local stored = redis.call("get", KEYS[1])
if not stored then
	return 0
end
local decoded = cjson.decode(stored)
if decoded.lock_id == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// forcePreemptScript deletes the current holder unconditionally once the
// caller has already decided preemption applies; kept atomic so a holder
// cannot race a concurrent legitimate release.
const forcePreemptScript = `
local stored = redis.call("get", KEYS[1])
if not stored then
	return 0
end
return redis.call("del", KEYS[1])
`

// PriorityLockManager implements C8: named cross-process locks with
// priority-based preemption, built over the teacher's Redis SETNX +
// Lua compare-and-delete pattern.
type PriorityLockManager struct {
	redis  *redis.Client
	config *Config
	logger *slog.Logger
}

// NewPriorityLockManager creates a manager bound to a Redis client.
func NewPriorityLockManager(client *redis.Client, config *Config, logger *slog.Logger) *PriorityLockManager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriorityLockManager{redis: client, config: config, logger: logger.With("component", "priority_lock_manager")}
}

func lockKey(name string) string {
	return "lock:" + name
}

func generateLockID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("lock_%d", time.Now().UnixNano())
	}
	return "lock_" + hex.EncodeToString(b)
}

// Acquire attempts to become the sole holder of name at the given priority.
// It blocks up to timeout (or the configured default), preempting a lower
// priority holder once the margin in priority.go is exceeded, and otherwise
// retrying MaxRetries times with linear backoff before returning LockBusy.
func (m *PriorityLockManager) Acquire(ctx context.Context, name string, priority Priority, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = m.config.AcquireTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	key := lockKey(name)
	lockID := generateLockID()
	payload, err := json.Marshal(holderValue{LockID: lockID, Priority: int(priority)})
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.KindLockAcquisition, "failed to encode holder value", err)
	}

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		ok, err := m.redis.SetNX(ctx, key, payload, m.config.TTL).Result()
		if err != nil {
			return "", coreerrors.Wrap(coreerrors.KindLockAcquisition, "redis SETNX failed", err).WithContext("name", name)
		}
		if ok {
			m.logger.Debug("lock acquired", "name", name, "priority", priority, "attempt", attempt+1)
			return lockID, nil
		}

		holder, statusErr := m.currentHolder(ctx, key)
		if statusErr == nil && holder != nil && CanPreempt(priority, Priority(holder.Priority)) {
			m.logger.Info("preempting lower-priority holder", "name", name, "incoming_priority", priority, "holder_priority", holder.Priority)
			if _, err := m.redis.Eval(ctx, forcePreemptScript, []string{key}, "").Result(); err != nil {
				m.logger.Warn("preemption delete failed", "name", name, "error", err)
			}
			continue // retry acquisition immediately after preemption
		}

		select {
		case <-ctx.Done():
			return "", coreerrors.New(coreerrors.KindLockTimeout, "lock acquisition timed out").WithContext("name", name)
		case <-time.After(linearBackoff(attempt, m.config.RetryInterval)):
		}
	}

	return "", coreerrors.New(coreerrors.KindLockBusy, "lock busy after retries").WithContext("name", name)
}

// Release releases the lock if lockID matches the current holder. A stale
// lock id is a no-op, logged, per spec.md §4.8 release semantics.
func (m *PriorityLockManager) Release(ctx context.Context, name, lockID string) error {
	key := lockKey(name)
	result, err := m.redis.Eval(ctx, compareAndDeleteScript, []string{key}, lockID).Result()
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindLockAcquisition, "release script failed", err).WithContext("name", name)
	}
	if n, _ := result.(int64); n == 0 {
		m.logger.Warn("release with stale lock id, ignoring", "name", name)
	}
	return nil
}

// ForceRelease always succeeds, deletes the holder unconditionally, and
// records the operator-supplied reason.
func (m *PriorityLockManager) ForceRelease(ctx context.Context, name, reason string) error {
	key := lockKey(name)
	if _, err := m.redis.Del(ctx, key).Result(); err != nil {
		return coreerrors.Wrap(coreerrors.KindLockAcquisition, "force release failed", err).WithContext("name", name)
	}
	m.logger.Warn("lock force-released", "name", name, "reason", reason)
	return nil
}

// Status reports whether name is currently held and at what priority.
func (m *PriorityLockManager) Status(ctx context.Context, name string) (isLocked bool, priority *Priority, err error) {
	holder, err := m.currentHolder(ctx, lockKey(name))
	if err != nil {
		return false, nil, err
	}
	if holder == nil {
		return false, nil, nil
	}
	p := Priority(holder.Priority)
	return true, &p, nil
}

func (m *PriorityLockManager) currentHolder(ctx context.Context, key string) (*holderValue, error) {
	raw, err := m.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindLockAcquisition, "failed to read lock holder", err)
	}
	var hv holderValue
	if err := json.Unmarshal([]byte(raw), &hv); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindLockAcquisition, "failed to decode lock holder", err)
	}
	return &hv, nil
}

// linearBackoff mirrors the teacher's jittered linear retry interval.
func linearBackoff(attempt int, base time.Duration) time.Duration {
	interval := time.Duration(attempt+1) * base
	jitter := time.Duration(rand.Float64() * 0.25 * float64(interval))
	return interval + jitter
}
