package keymanager

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
)

// Purpose identifies which of the three keys derived per session a handle
// is for.
type Purpose string

const (
	PurposeData    Purpose = "data"
	PurposeSign    Purpose = "sign"
	PurposeSession Purpose = "session"
)

// KeyHandle is a non-extractable key reference: the raw bytes never leave
// this package. Callers perform cryptographic operations through the
// handle's methods instead of reading its key material.
type KeyHandle struct {
	purpose Purpose
	version int
	raw     []byte // AES-256 key for data/session, HMAC key for sign
	aead    cipher.AEAD
}

// Purpose reports which of data/sign/session this handle serves.
func (h *KeyHandle) Purpose() Purpose { return h.purpose }

// Version is the session version the handle was derived under; envelopes
// record it so later rotations can still read old ciphertext.
func (h *KeyHandle) Version() int { return h.version }

// AEAD returns the cipher.AEAD for data/session purpose handles. Calling it
// on a sign-purpose handle panics: callers must check Purpose first.
func (h *KeyHandle) AEAD() cipher.AEAD {
	if h.aead == nil {
		panic("keymanager: AEAD() called on a non-AEAD key handle")
	}
	return h.aead
}

// Sign returns an HMAC-SHA-256 MAC over data using a sign-purpose handle.
// Calling it on a non-sign handle panics: callers must check Purpose first.
func (h *KeyHandle) Sign(data []byte) []byte {
	if h.purpose != PurposeSign {
		panic("keymanager: Sign() called on a non-signing key handle")
	}
	mac := hmac.New(sha256.New, h.raw)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify checks an HMAC-SHA-256 MAC produced by Sign, in constant time.
func (h *KeyHandle) Verify(data, mac []byte) bool {
	return hmac.Equal(h.Sign(data), mac)
}

// wipe zeroes the raw key material. Called by clear_session so no copy of
// the key survives past that point, per spec.md §5's shared-resource policy.
func (h *KeyHandle) wipe() {
	for i := range h.raw {
		h.raw[i] = 0
	}
	h.aead = nil
}
