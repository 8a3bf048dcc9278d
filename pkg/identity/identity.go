// SPDX-License-Identifier: Apache-2.0

// Package identity implements noorm's cryptographic author attribution
// (§4.7): the on-disk user keypair under ~/.noorm/, the resolution
// precedence that picks a human-readable identity for a given operation, and
// the formatted string recorded in executed_by/locked_by columns.
package identity

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/noormdev/noorm/internal/noormerr"
	"github.com/noormdev/noorm/pkg/crypto"
)

// Source records where an Identity's name/email came from, used only for
// diagnostics.
type Source string

const (
	SourceConfig Source = "config"
	SourceEnv    Source = "env"
	SourceGit    Source = "git"
	SourceSystem Source = "system"
	SourceState  Source = "state"
)

// Identity is a human-readable author identity.
type Identity struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Source Source `json:"-"`
}

// Format renders the identity the way it is recorded in executed_by and
// locked_by columns: "<name> <<email>>".
func (i Identity) Format() string {
	return fmt.Sprintf("%s <%s>", i.Name, i.Email)
}

// CryptoIdentity extends Identity with the fields tied to the user's
// keypair.
type CryptoIdentity struct {
	Identity
	IdentityHash string `json:"identityHash"`
	Machine      string `json:"machine"`
	PublicKey    string `json:"publicKey"` // hex-encoded Ed25519 public key
}

// Metadata is the plaintext JSON file written to ~/.noorm/identity.json.
type Metadata struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Machine      string `json:"machine"`
	IdentityHash string `json:"identityHash"`
}

// Home describes the on-disk layout of the user's identity directory,
// ~/.noorm/ by default (or NOORM_IDENTITY, §6).
type Home struct {
	Dir string
}

// DefaultHome resolves ~/.noorm, honoring the NOORM_IDENTITY override.
func DefaultHome() (*Home, error) {
	if dir := os.Getenv("NOORM_IDENTITY"); dir != "" {
		return &Home{Dir: dir}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return &Home{Dir: filepath.Join(home, ".noorm")}, nil
}

func (h *Home) privateKeyPath() string { return filepath.Join(h.Dir, "identity.key") }
func (h *Home) publicKeyPath() string  { return filepath.Join(h.Dir, "identity.pub") }
func (h *Home) metadataPath() string   { return filepath.Join(h.Dir, "identity.json") }

// Exists reports whether an identity has already been provisioned.
func (h *Home) Exists() bool {
	_, err := os.Stat(h.privateKeyPath())
	return err == nil
}

// Provision generates a fresh keypair and writes it, plus metadata, to disk.
// The private key file is created with mode 0600 (§4.7).
func (h *Home) Provision(name, email, machine string) (*CryptoIdentity, ed25519.PrivateKey, error) {
	if err := os.MkdirAll(h.Dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create identity dir: %w", err)
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}

	if err := os.WriteFile(h.privateKeyPath(), kp.Private, 0o600); err != nil {
		return nil, nil, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(h.publicKeyPath(), kp.Public, 0o644); err != nil {
		return nil, nil, fmt.Errorf("write public key: %w", err)
	}

	fullHash, _ := crypto.IdentityHash(kp.Public)
	meta := Metadata{
		Name:         name,
		Email:        email,
		Machine:      machine,
		IdentityHash: fullHash,
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal identity metadata: %w", err)
	}
	if err := os.WriteFile(h.metadataPath(), metaBytes, 0o644); err != nil {
		return nil, nil, fmt.Errorf("write identity metadata: %w", err)
	}

	ci := &CryptoIdentity{
		Identity:     Identity{Name: name, Email: email},
		IdentityHash: fullHash,
		Machine:      machine,
		PublicKey:    fmt.Sprintf("%x", []byte(kp.Public)),
	}
	return ci, kp.Private, nil
}

// Load reads a previously provisioned identity from disk.
func (h *Home) Load() (*CryptoIdentity, ed25519.PrivateKey, error) {
	priv, err := os.ReadFile(h.privateKeyPath())
	if err != nil {
		return nil, nil, fmt.Errorf("read private key: %w", err)
	}
	pub, err := os.ReadFile(h.publicKeyPath())
	if err != nil {
		return nil, nil, fmt.Errorf("read public key: %w", err)
	}
	metaBytes, err := os.ReadFile(h.metadataPath())
	if err != nil {
		return nil, nil, fmt.Errorf("read identity metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, nil, fmt.Errorf("parse identity metadata: %w", err)
	}

	if err := verifyIdentityFiles(h.Dir, ed25519.PublicKey(pub), ed25519.PrivateKey(priv), meta.IdentityHash); err != nil {
		return nil, nil, err
	}

	ci := &CryptoIdentity{
		Identity:     Identity{Name: meta.Name, Email: meta.Email, Source: SourceState},
		IdentityHash: meta.IdentityHash,
		Machine:      meta.Machine,
		PublicKey:    fmt.Sprintf("%x", pub),
	}
	return ci, ed25519.PrivateKey(priv), nil
}

// verifyIdentityFiles confirms the three files under an identity directory
// agree with each other: the recorded hash must match SHA-256(pub), and priv
// must actually be the private half of pub. identity.key, identity.pub, and
// identity.json can each be replaced independently by a faulty sync or a
// tampered checkout; this catches that before the identity is used to sign
// any change record.
func verifyIdentityFiles(dir string, pub ed25519.PublicKey, priv ed25519.PrivateKey, recordedHash string) error {
	fullHash, _ := crypto.IdentityHash(pub)
	if !crypto.ConstantTimeEqual([]byte(fullHash), []byte(recordedHash)) {
		return &noormerr.IdentityVerificationError{Dir: dir, Reason: "identity.json hash does not match identity.pub"}
	}

	kp := &crypto.KeyPair{Public: pub, Private: priv}
	probe := []byte("noorm:identity-verify:" + recordedHash)
	sig := kp.Sign(probe)
	if !crypto.Verify(pub, probe, sig) {
		return &noormerr.IdentityVerificationError{Dir: dir, Reason: "identity.key does not pair with identity.pub"}
	}

	return nil
}
