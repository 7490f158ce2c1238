// Package keymanager implements KeyManager (C1): password-derived,
// non-extractable session keys with rotation and device-bound fingerprinting.
package keymanager

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
	"github.com/vitaliisemenov/storagecore/internal/synckv"
)

// kdfIterations is the higher of the two iteration counts observed during
// the port (spec.md §9 open question #3): 600,000.
const kdfIterations = 600_000

const minPasswordLength = 8

const rotationInterval = 30 * 24 * time.Hour

const (
	syncKeyDeviceBinding = "device:binding"
	syncKeyRotatedAt     = "key:rotated_at"
)

// Fingerprint is the collaborator that supplies the inputs the device
// fingerprint is hashed from. In a browser these come from navigator/
// location; here they come from the process environment and caller-supplied
// connection info.
type Fingerprint struct {
	UserAgent          string
	Language           string
	HardwareConcurrency int
	Origin             string
}

// SecureContextChecker reports whether the current environment qualifies as
// a secure context (served over a confidential transport, not embedded in a
// cross-origin frame, not loaded via a non-navigable scheme). There is no
// browser to ask server-side, so this is an injectable policy decision —
// the default implementation trusts an explicit config flag.
type SecureContextChecker interface {
	IsSecureContext() bool
}

// StaticSecureContext reports a fixed verdict set at startup (e.g. from
// whether the process is behind TLS termination).
type StaticSecureContext bool

func (s StaticSecureContext) IsSecureContext() bool { return bool(s) }

// Manager is C1's KeyManager: owns the session's three derived keys and the
// device-bound fingerprint they're bound to.
type Manager struct {
	store  *synckv.Store
	secure SecureContextChecker
	logger *slog.Logger

	mu      sync.RWMutex
	version int
	salt    []byte
	fp      string
	keys    map[Purpose]*KeyHandle
	active  bool
}

// Config controls the initialize_session policy flag and fingerprint inputs.
type Config struct {
	RequireSecureContext bool
	Fingerprint          Fingerprint
}

// New creates a KeyManager bound to the sync-kv store used for device
// binding and rotation-timestamp persistence.
func New(store *synckv.Store, secure SecureContextChecker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if secure == nil {
		secure = StaticSecureContext(true)
	}
	return &Manager{
		store:  store,
		secure: secure,
		logger: logger.With("component", "key_manager"),
		keys:   make(map[Purpose]*KeyHandle),
	}
}

// InitializeSession derives the session's three keys from password. Fails
// with InsecureContext unless the environment qualifies, and with
// WeakPassword if password is under 8 characters.
func (m *Manager) InitializeSession(ctx context.Context, password string, cfg Config) error {
	if cfg.RequireSecureContext && !m.secure.IsSecureContext() {
		return coreerrors.New(coreerrors.KindInsecureContext, "initialization requires a secure context")
	}
	if len(password) < minPasswordLength {
		return coreerrors.New(coreerrors.KindWeakPassword, "password must be at least 8 characters")
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return coreerrors.Wrap(coreerrors.KindKdfFailure, "failed to generate session salt", err)
	}

	fp, err := m.deviceFingerprint(ctx, cfg.Fingerprint)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindKdfFailure, "failed to compute device fingerprint", err)
	}

	version, err := m.loadRotationVersion(ctx)
	if err != nil {
		return err
	}

	keys, err := deriveKeys(password, salt, version, fp)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindKdfFailure, "key derivation failed", err)
	}

	m.mu.Lock()
	m.salt = salt
	m.fp = fp
	m.version = version
	m.keys = keys
	m.active = true
	m.mu.Unlock()

	m.logger.Info("session initialized", "version", version)
	return nil
}

// deriveKeys derives the data/sign/session keys bound to
// {salt ∥ purpose ∥ version ∥ device_fingerprint}, per spec.md §4.1: a
// single PBKDF2 pass produces a master secret, then HKDF-Expand
// differentiates it per purpose so the expensive KDF work runs once.
func deriveKeys(password string, salt []byte, version int, fingerprint string) (map[Purpose]*KeyHandle, error) {
	master := pbkdf2.Key([]byte(password), salt, kdfIterations, 32, sha256.New)

	keys := make(map[Purpose]*KeyHandle, 3)
	for _, purpose := range []Purpose{PurposeData, PurposeSign, PurposeSession} {
		info := []byte(fmt.Sprintf("%s|%d|%s", purpose, version, fingerprint))
		reader := hkdf.New(sha256.New, master, salt, info)
		keyBytes := make([]byte, 32)
		if _, err := io.ReadFull(reader, keyBytes); err != nil {
			return nil, err
		}

		handle := &KeyHandle{purpose: purpose, version: version, raw: keyBytes}
		if purpose != PurposeSign {
			block, err := aes.NewCipher(keyBytes)
			if err != nil {
				return nil, err
			}
			gcm, err := cipher.NewGCM(block)
			if err != nil {
				return nil, err
			}
			handle.aead = gcm
		}
		keys[purpose] = handle
	}
	return keys, nil
}

// deviceFingerprint hashes {user_agent, language, hardware_concurrency,
// origin, device_id} where device_id is a persistent per-origin random id
// held in the sync-kv store, created on first use.
func (m *Manager) deviceFingerprint(ctx context.Context, fp Fingerprint) (string, error) {
	deviceID, err := m.deviceID(ctx, fp.Origin)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s", fp.UserAgent, fp.Language, fp.HardwareConcurrency, fp.Origin, deviceID)
	return hex.EncodeToString(h.Sum(nil)), nil
}

type deviceBinding struct {
	ID        string `json:"id"`
	Origin    string `json:"origin"`
	CreatedAt int64  `json:"created_at"`
}

func (m *Manager) deviceID(ctx context.Context, origin string) (string, error) {
	if m.store == nil {
		return "unbound", nil
	}

	if existing, ok, err := m.store.Get(ctx, syncKeyDeviceBinding); err != nil {
		return "", err
	} else if ok {
		var binding deviceBinding
		if err := json.Unmarshal([]byte(existing), &binding); err != nil {
			return "", coreerrors.Wrap(coreerrors.KindKdfFailure, "failed to parse device binding", err)
		}
		return binding.ID, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	id := hex.EncodeToString(raw)

	binding := deviceBinding{ID: id, Origin: origin, CreatedAt: time.Now().UnixMilli()}
	data, err := json.Marshal(binding)
	if err != nil {
		return "", err
	}
	if err := m.store.Set(ctx, syncKeyDeviceBinding, string(data)); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) loadRotationVersion(ctx context.Context) (int, error) {
	if m.store == nil {
		return 1, nil
	}
	raw, ok, err := m.store.Get(ctx, "key:version")
	if err != nil {
		return 0, coreerrors.Wrap(coreerrors.KindKdfFailure, "failed to read key version", err)
	}
	if !ok {
		return 1, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 1, nil
	}
	return v, nil
}

// GetDataKey returns the AES-GCM-256 handle for encrypting stored values.
func (m *Manager) GetDataKey() (*KeyHandle, error) { return m.getKey(PurposeData) }

// GetSigningKey returns the HMAC-SHA-256 handle for integrity tagging.
func (m *Manager) GetSigningKey() (*KeyHandle, error) { return m.getKey(PurposeSign) }

// GetGeneralKey returns the session-purpose AES-GCM-256 handle.
func (m *Manager) GetGeneralKey() (*KeyHandle, error) { return m.getKey(PurposeSession) }

func (m *Manager) getKey(purpose Purpose) (*KeyHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return nil, coreerrors.New(coreerrors.KindEncryptionUnavailable, "no active key session")
	}
	return m.keys[purpose], nil
}

// IsSessionActive reports whether InitializeSession has succeeded and
// ClearSession has not since been called.
func (m *Manager) IsSessionActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ClearSession wipes every key handle's raw material; no copy survives.
func (m *Manager) ClearSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.keys {
		h.wipe()
	}
	m.keys = make(map[Purpose]*KeyHandle)
	m.active = false
}

// NeedsRotation reports whether the recorded rotation timestamp is older
// than 30 days (or absent, which counts as due).
func (m *Manager) NeedsRotation(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	raw, ok, err := m.store.Get(ctx, syncKeyRotatedAt)
	if err != nil {
		return false, coreerrors.Wrap(coreerrors.KindKdfFailure, "failed to read rotation timestamp", err)
	}
	if !ok {
		return true, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true, nil
	}
	return time.Since(time.UnixMilli(ms)) > rotationInterval, nil
}

// RotateKeys increments the session version, re-derives all three keys,
// and persists the new rotation timestamp. Ciphertext under the old version
// stays readable (envelopes carry their key_version) until migrated by C2.
func (m *Manager) RotateKeys(ctx context.Context, password string, fp Fingerprint) error {
	m.mu.RLock()
	active := m.active
	salt := m.salt
	fingerprint := m.fp
	nextVersion := m.version + 1
	m.mu.RUnlock()

	if !active {
		return coreerrors.New(coreerrors.KindEncryptionUnavailable, "cannot rotate without an active session")
	}

	keys, err := deriveKeys(password, salt, nextVersion, fingerprint)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindKdfFailure, "rotation derivation failed", err)
	}

	if m.store != nil {
		if err := m.store.Set(ctx, "key:version", strconv.Itoa(nextVersion)); err != nil {
			return coreerrors.Wrap(coreerrors.KindKdfFailure, "failed to persist key version", err)
		}
		if err := m.store.Set(ctx, syncKeyRotatedAt, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
			return coreerrors.Wrap(coreerrors.KindKdfFailure, "failed to persist rotation timestamp", err)
		}
	}

	m.mu.Lock()
	for _, h := range m.keys {
		h.wipe()
	}
	m.version = nextVersion
	m.keys = keys
	m.mu.Unlock()

	m.logger.Info("keys rotated", "version", nextVersion)
	return nil
}

// Stats is a diagnostic snapshot of the key session: the current key
// version and whether a session is active. It carries no rotation age.
type Stats struct {
	Version      int
	ActiveSession bool
}

// Stats reports the current session version and activity, without
// exposing any key material.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Version: m.version, ActiveSession: m.active}
}
