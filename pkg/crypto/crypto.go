// SPDX-License-Identifier: Apache-2.0

// Package crypto provides the cryptographic primitives noorm builds its
// identity model and encrypted state store on: an Ed25519 keypair for
// author attribution, and AES-256-GCM authenticated encryption for local
// project state.
//
// No library in the example pack performs either of these; both are
// implemented directly on crypto/aes, crypto/cipher, and crypto/ed25519 from
// the standard library (see DESIGN.md).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/noormdev/noorm/internal/noormerr"
)

// KeyPair is a user's noorm identity keypair.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// IdentityHash returns SHA-256(publicKey) hex-encoded, truncated to its
// first 16 characters for use as a short id, alongside the full hash.
func IdentityHash(pub ed25519.PublicKey) (full string, short string) {
	sum := sha256.Sum256(pub)
	full = hex.EncodeToString(sum[:])
	if len(full) >= 16 {
		short = full[:16]
	} else {
		short = full
	}
	return full, short
}

// Sign produces a detached Ed25519 signature over msg.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// Verify checks a detached Ed25519 signature.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// deriveSymmetricKey derives a 32-byte AES-256 key from a private key via a
// fixed, deterministic KDF: SHA-256 of the private key seed salted with a
// static domain string. Deterministic by design (§4.6): the same private key
// must always yield the same symmetric key so previously encrypted state
// stays decryptable.
func deriveSymmetricKey(priv ed25519.PrivateKey) []byte {
	h := sha256.New()
	h.Write([]byte("noorm:state-key:v1"))
	h.Write(priv.Seed())
	return h.Sum(nil)
}

// EncryptedPayload is the on-disk representation of an AES-256-GCM sealed
// blob (§4.6, §6).
type EncryptedPayload struct {
	Algorithm  string `json:"algorithm"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Ciphertext string `json:"ciphertext"`
}

const algorithmAES256GCM = "aes-256-gcm"

const (
	ivSize  = 16
	tagSize = 16
)

// Seal encrypts plaintext with the key derived from priv, using a fresh
// random IV for every call.
func Seal(priv ed25519.PrivateKey, plaintext []byte) (*EncryptedPayload, error) {
	key := deriveSymmetricKey(priv)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	// A 16-byte (128-bit) nonce is intentionally used here to match the
	// on-disk payload format's fixed iv size; AES-GCM accepts any nonce
	// length via NewGCMWithNonceSize.
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	authTag := sealed[len(sealed)-tagSize:]

	return &EncryptedPayload{
		Algorithm:  algorithmAES256GCM,
		IV:         b64(iv),
		AuthTag:    b64(authTag),
		Ciphertext: b64(ciphertext),
	}, nil
}

// Open decrypts and authenticates a payload previously produced by Seal. Any
// tampering with iv, authTag, or ciphertext yields ErrDecryptFailure, never a
// silently garbled result.
func Open(priv ed25519.PrivateKey, payload *EncryptedPayload) ([]byte, error) {
	if payload.Algorithm != algorithmAES256GCM {
		return nil, fmt.Errorf("%w: unknown algorithm %q", noormerr.ErrDecryptFailure, payload.Algorithm)
	}

	iv, err := unb64(payload.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv: %v", noormerr.ErrDecryptFailure, err)
	}
	if len(iv) != ivSize {
		return nil, fmt.Errorf("%w: bad iv length %d", noormerr.ErrDecryptFailure, len(iv))
	}
	authTag, err := unb64(payload.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("%w: bad auth tag: %v", noormerr.ErrDecryptFailure, err)
	}
	ciphertext, err := unb64(payload.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext: %v", noormerr.ErrDecryptFailure, err)
	}

	key := deriveSymmetricKey(priv)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(authTag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, authTag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", noormerr.ErrDecryptFailure, err)
	}

	return plaintext, nil
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information, used when comparing identity hashes supplied by a remote peer.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
