// Package encryption implements StorageEncryption (C2): AES-GCM-256
// envelope encryption over KeyManager-issued handles, sensitivity
// classification, secure deletion, and key-migration re-encryption.
package encryption

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
	"github.com/vitaliisemenov/storagecore/internal/keymanager"
)

const nonceSize = 12 // 96 bits

// Envelope is the persisted shape of an encrypted record.
type Envelope struct {
	Encrypted bool   `json:"encrypted"`
	KeyVersion int   `json:"key_version"`
	Value      string `json:"value"` // base64(nonce ∥ ct ∥ tag)
	CreatedAt  int64  `json:"created_at"`
}

// Deleter is the collaborator SecureDelete overwrites-then-deletes
// through: a string-keyed store with Put and Delete.
type Deleter interface {
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Service wraps the AES-GCM envelope operations with a logger for the
// failure paths spec.md §4.2 calls out explicitly (overwrite failure on
// secure delete, decryption failure on migrate).
type Service struct {
	logger *slog.Logger
}

// New creates a StorageEncryption service.
func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger.With("component", "encryption")}
}

// Encrypt seals plaintext under key with a fresh random nonce, returning
// the JSON envelope ready to persist.
func (s *Service) Encrypt(plaintext []byte, key *keymanager.KeyHandle) (*Envelope, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindEncryptionUnavailable, "failed to generate nonce", err)
	}

	aead := key.AEAD()
	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	return &Envelope{
		Encrypted:  true,
		KeyVersion: key.Version(),
		Value:      base64.StdEncoding.EncodeToString(sealed),
		CreatedAt:  time.Now().UnixMilli(),
	}, nil
}

// Decrypt opens envelope under key. A failed open (wrong key, tampered
// ciphertext, truncated value) is not an error — it returns (nil, false)
// so callers treat it as "recovered as absent" rather than a fault.
func (s *Service) Decrypt(envelope *Envelope, key *keymanager.KeyHandle) ([]byte, bool) {
	if envelope == nil || !envelope.Encrypted {
		return nil, false
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Value)
	if err != nil || len(raw) < nonceSize {
		s.logger.Warn("envelope value malformed", "err", err)
		return nil, false
	}

	aead := key.AEAD()
	nonce, ct := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		s.logger.Warn("decryption failed", "key_version", envelope.KeyVersion)
		return nil, false
	}
	return plaintext, true
}

// Migrate re-encrypts envelope under newKey. Returns (nil, false) if the
// envelope can't be opened under oldKey; the caller persists the returned
// envelope atomically.
func (s *Service) Migrate(envelope *Envelope, oldKey, newKey *keymanager.KeyHandle) (*Envelope, bool) {
	plaintext, ok := s.Decrypt(envelope, oldKey)
	if !ok {
		return nil, false
	}
	defer wipeBytes(plaintext)

	migrated, err := s.Encrypt(plaintext, newKey)
	if err != nil {
		s.logger.Error("migration re-encryption failed", "err", err)
		return nil, false
	}
	return migrated, true
}

// SecureDelete overwrites the stored value with a same-length random
// base64 blob in a committed write before deleting the key, per
// spec.md §4.2. If the overwrite fails, it still proceeds to delete and
// records the failure.
func (s *Service) SecureDelete(ctx context.Context, store Deleter, key string, envelope *Envelope) error {
	if envelope == nil || !envelope.Encrypted {
		return store.Delete(ctx, key)
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Value)
	if err != nil {
		raw = make([]byte, 64) // fallback length when the stored value can't be decoded
	}
	filler := make([]byte, len(raw))
	if _, rerr := rand.Read(filler); rerr == nil {
		overwrite := base64.StdEncoding.EncodeToString(filler)
		if werr := store.Put(ctx, key, overwrite); werr != nil {
			s.logger.Warn("secure delete overwrite failed, proceeding to delete", "key", key, "err", werr)
		}
	} else {
		s.logger.Warn("secure delete random fill failed, proceeding to delete", "key", key, "err", err)
	}

	return store.Delete(ctx, key)
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// MarshalEnvelope is a small convenience used by callers that store
// envelopes as opaque JSON strings in the indexed/sync-kv stores.
func MarshalEnvelope(e *Envelope) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.KindEncryptionUnavailable, "failed to marshal envelope", err)
	}
	return string(raw), nil
}

// UnmarshalEnvelope is the inverse of MarshalEnvelope.
func UnmarshalEnvelope(raw string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindDecryptionFailed, "failed to unmarshal envelope", err)
	}
	return &e, nil
}
