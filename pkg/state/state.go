// SPDX-License-Identifier: Apache-2.0

// Package state implements noorm's encrypted, project-local configuration
// store (§4.6): named database configs, per-config and global secrets, the
// user's crypto identity, and the known-collaborator roster, persisted as an
// authenticated-encrypted JSON blob at .noorm/state.enc.
//
// This component has no library analogue anywhere in the example pack (no
// retrieved repo authenticates-encrypts local config), so its cipher layer
// is built directly on pkg/crypto; grounded instead on the *shape* of
// pgroll's pkg/state.State, which is likewise the single owner of one
// project-local resource with Load/persist semantics.
package state

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/noormdev/noorm/pkg/crypto"
	"github.com/noormdev/noorm/pkg/identity"
)

// CurrentSchemaVersion is the state layer's expected on-disk version (§4.5).
const CurrentSchemaVersion = 1

// Config is a named connection + paths bundle (§3.3 Config, §GLOSSARY).
type Config struct {
	Name            string `json:"name"`
	Dialect         string `json:"dialect"` // postgres | mysql | sqlite | mssql
	ConnectionURL   string `json:"connectionUrl"`
	SchemaDir       string `json:"schemaDir"`
	ChangesDir      string `json:"changesDir"`
	InternalSchema  string `json:"internalSchema,omitempty"`
	Stage           string `json:"stage,omitempty"`
	Protected       bool   `json:"protected,omitempty"`
	IsTest          bool   `json:"isTest,omitempty"`
	DefaultRole     string `json:"defaultRole,omitempty"`
}

// Data is the plaintext JSON payload carried inside the encrypted blob (§6).
type Data struct {
	SchemaVersion int                             `json:"schemaVersion"`
	ActiveConfig  *string                         `json:"activeConfig"`
	Configs       map[string]Config               `json:"configs"`
	Secrets       map[string]map[string]string    `json:"secrets"`
	GlobalSecrets map[string]string               `json:"globalSecrets"`
	Identity      *identity.CryptoIdentity        `json:"identity"`
	KnownUsers    map[string]identity.KnownUser   `json:"knownUsers"`
}

func newEmptyData() *Data {
	return &Data{
		SchemaVersion: CurrentSchemaVersion,
		Configs:       map[string]Config{},
		Secrets:       map[string]map[string]string{},
		GlobalSecrets: map[string]string{},
		KnownUsers:    map[string]identity.KnownUser{},
	}
}

// Store is the single in-memory owner of the decrypted state object (§5).
// Every mutation goes through its methods, which trigger immediate
// re-encryption and an atomic re-write to disk, except SetSchemaVersion and
// ImportEncrypted, which change only the in-memory state.
type Store struct {
	mu   sync.Mutex
	path string
	priv ed25519.PrivateKey
	data *Data
}

// Open loads the state file at path, decrypting with priv. A missing file
// yields an empty state at the current version with no error (§4.6).
func Open(path string, priv ed25519.PrivateKey) (*Store, error) {
	s := &Store{path: path, priv: priv}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = newEmptyData()
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var payload crypto.EncryptedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse encrypted state envelope: %w", err)
	}

	plaintext, err := crypto.Open(priv, &payload)
	if err != nil {
		return nil, err
	}

	var data Data
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("parse decrypted state: %w", err)
	}

	s.data = &data
	return s, nil
}

// Persist re-encrypts the current state and atomically rewrites it to disk
// (temp file + rename, §4.6).
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	plaintext, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	payload, err := crypto.Seal(s.priv, plaintext)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal encrypted envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp state file into place: %w", err)
	}

	return nil
}

// Data returns a copy of the current decrypted state, safe to read without
// holding the store's lock.
func (s *Store) Data() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.data
}

// ExportEncrypted returns the current state re-sealed as a fresh payload,
// for out-of-band backup.
func (s *Store) ExportEncrypted() (*crypto.EncryptedPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plaintext, err := json.Marshal(s.data)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return crypto.Seal(s.priv, plaintext)
}

// ImportEncrypted replaces the in-memory state with the contents of a
// previously exported payload, without persisting it.
func (s *Store) ImportEncrypted(payload *crypto.EncryptedPayload) error {
	plaintext, err := crypto.Open(s.priv, payload)
	if err != nil {
		return err
	}
	var data Data
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return fmt.Errorf("parse imported state: %w", err)
	}
	s.mu.Lock()
	s.data = &data
	s.mu.Unlock()
	return nil
}
