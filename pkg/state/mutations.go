// SPDX-License-Identifier: Apache-2.0

package state

import (
	"fmt"

	"github.com/noormdev/noorm/internal/noormerr"
	"github.com/noormdev/noorm/pkg/identity"
	"github.com/noormdev/noorm/pkg/settings"
)

// ErrUnknownConfig is returned by operations that target a config name that
// does not exist in state.
type ErrUnknownConfig struct{ Name string }

func (e *ErrUnknownConfig) Error() string {
	return fmt.Sprintf("noorm: unknown config %q", e.Name)
}

// SetConfig creates or replaces a named config and persists the change. When
// cfg is linked to a stage defined in st, the stage's defaults force the
// config's Protected/IsTest fields rather than whatever the caller passed
// (§4.11 Stage enforcement). st may be nil, meaning no settings are loaded.
func (s *Store) SetConfig(cfg Config, st *settings.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	applyStageDefaults(&cfg, st)
	s.data.Configs[cfg.Name] = cfg
	return s.persistLocked()
}

// applyStageDefaults forces cfg.Protected/IsTest to the linked stage's
// defaults wherever that stage specifies a value, so a config cannot
// override a stage's constraints by passing a conflicting flag.
func applyStageDefaults(cfg *Config, st *settings.Settings) {
	if st == nil || cfg.Stage == "" {
		return
	}
	stage, ok := st.Stages[cfg.Stage]
	if !ok {
		return
	}
	if stage.Defaults.Protected.IsSpecified() && !stage.Defaults.Protected.IsNull() {
		if v, err := stage.Defaults.Protected.Get(); err == nil {
			cfg.Protected = v
		}
	}
	if stage.Defaults.IsTest.IsSpecified() && !stage.Defaults.IsTest.IsNull() {
		if v, err := stage.Defaults.IsTest.Get(); err == nil {
			cfg.IsTest = v
		}
	}
}

// DeleteConfig removes a config and its secret subtree (§4.6 secret
// lifecycle). Deletion is refused when the config is linked to a locked
// stage (§4.11 Stage enforcement). st may be nil, meaning no settings are
// loaded and no stage can block the deletion.
func (s *Store) DeleteConfig(name string, st *settings.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.data.Configs[name]
	if !ok {
		return &ErrUnknownConfig{Name: name}
	}
	if st != nil && cfg.Stage != "" {
		if stage, ok := st.Stages[cfg.Stage]; ok && stage.Locked {
			return &noormerr.StageLockedError{ConfigName: name, Stage: cfg.Stage}
		}
	}
	delete(s.data.Configs, name)
	delete(s.data.Secrets, name)
	if s.data.ActiveConfig != nil && *s.data.ActiveConfig == name {
		s.data.ActiveConfig = nil
	}
	return s.persistLocked()
}

// SetActiveConfig marks name as the active config.
func (s *Store) SetActiveConfig(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Configs[name]; !ok {
		return &ErrUnknownConfig{Name: name}
	}
	s.data.ActiveConfig = &name
	return s.persistLocked()
}

// Config returns a config by name.
func (s *Store) Config(name string) (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.Configs[name]
	return c, ok
}

// ActiveConfigName returns the currently active config name, if any.
func (s *Store) ActiveConfigName() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.ActiveConfig == nil {
		return "", false
	}
	return *s.data.ActiveConfig, true
}

// SetSecret sets a secret scoped to an existing config. Setting a secret for
// a non-existent config fails (§4.6).
func (s *Store) SetSecret(configName, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Configs[configName]; !ok {
		return &ErrUnknownConfig{Name: configName}
	}
	if s.data.Secrets[configName] == nil {
		s.data.Secrets[configName] = map[string]string{}
	}
	s.data.Secrets[configName][key] = value
	return s.persistLocked()
}

// Secrets returns a copy of the secret map scoped to configName.
func (s *Store) Secrets(configName string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data.Secrets[configName]))
	for k, v := range s.data.Secrets[configName] {
		out[k] = v
	}
	return out
}

// SetGlobalSecret sets an app-level secret, independent of any config.
func (s *Store) SetGlobalSecret(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.GlobalSecrets == nil {
		s.data.GlobalSecrets = map[string]string{}
	}
	s.data.GlobalSecrets[key] = value
	return s.persistLocked()
}

// GlobalSecrets returns a copy of the global secret map.
func (s *Store) GlobalSecrets() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data.GlobalSecrets))
	for k, v := range s.data.GlobalSecrets {
		out[k] = v
	}
	return out
}

// SetIdentity stores the user's crypto identity in state.
func (s *Store) SetIdentity(ci *identity.CryptoIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Identity = ci
	return s.persistLocked()
}

// Identity returns the stored crypto identity, if any.
func (s *Store) Identity() *identity.CryptoIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Identity
}

// MergeKnownUsers folds a roster of remote identities.Known sightings into
// state and persists the result.
func (s *Store) MergeKnownUsers(remote []identity.KnownUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.KnownUsers = identity.MergeKnownUsers(s.data.KnownUsers, remote)
	return s.persistLocked()
}

// SchemaVersion returns the state layer's current on-disk version, used by
// the version manager (§4.5).
func (s *Store) SchemaVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SchemaVersion
}

// SetSchemaVersion overwrites the schema version, used by state-layer
// migrations.
func (s *Store) SetSchemaVersion(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.SchemaVersion = v
}

// Mutate gives the version manager raw access to the decrypted payload so it
// can run a data migration in place, then persists the result.
func (s *Store) Mutate(fn func(*Data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.data); err != nil {
		return err
	}
	return s.persistLocked()
}
