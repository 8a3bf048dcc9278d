// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/oapi-codegen/nullable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noormdev/noorm/internal/noormerr"
	"github.com/noormdev/noorm/pkg/crypto"
	"github.com/noormdev/noorm/pkg/settings"
	"github.com/noormdev/noorm/pkg/state"
)

func newTestStore(t *testing.T) (*state.Store, string) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "state.enc")
	s, err := state.Open(path, kp.Private)
	require.NoError(t, err)
	return s, path
}

func TestOpenMissingFileYieldsEmptyState(t *testing.T) {
	s, _ := newTestStore(t)
	data := s.Data()
	assert.Equal(t, state.CurrentSchemaVersion, data.SchemaVersion)
	assert.Empty(t, data.Configs)
}

func TestConfigRoundTrip(t *testing.T) {
	s, path := newTestStore(t)

	cfg := state.Config{Name: "prod", Dialect: "postgres", ConnectionURL: "postgres://x"}
	require.NoError(t, s.SetConfig(cfg, nil))
	require.NoError(t, s.SetActiveConfig("prod"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	got, ok := s.Config("prod")
	require.True(t, ok)
	assert.Equal(t, "postgres", got.Dialect)

	active, ok := s.ActiveConfigName()
	require.True(t, ok)
	assert.Equal(t, "prod", active)
}

func TestSecretLifecycle(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.SetSecret("missing", "password", "x")
	assert.Error(t, err)

	require.NoError(t, s.SetConfig(state.Config{Name: "prod"}, nil))
	require.NoError(t, s.SetSecret("prod", "password", "hunter2"))

	secrets := s.Secrets("prod")
	assert.Equal(t, "hunter2", secrets["password"])

	require.NoError(t, s.DeleteConfig("prod", nil))
	assert.Empty(t, s.Secrets("prod"))
}

func TestGlobalSecretsIndependentOfConfigs(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.SetGlobalSecret("api_key", "abc"))
	require.Error(t, s.DeleteConfig("does-not-exist-but-no-panic", nil))
	assert.Equal(t, "abc", s.GlobalSecrets()["api_key"])
}

func TestSetConfigAppliesLinkedStageDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	st := &settings.Settings{
		Stages: map[string]settings.Stage{
			"prod": {
				Defaults: settings.StageDefaults{
					Protected: nullable.NewNullableWithValue(true),
					IsTest:    nullable.NewNullableWithValue(false),
				},
			},
		},
	}

	cfg := state.Config{Name: "prod-main", Stage: "prod", Protected: false, IsTest: true}
	require.NoError(t, s.SetConfig(cfg, st))

	got, ok := s.Config("prod-main")
	require.True(t, ok)
	assert.True(t, got.Protected)
	assert.False(t, got.IsTest)
}

func TestSetConfigLeavesFieldsAloneWhenStageUnknownOrUnlinked(t *testing.T) {
	s, _ := newTestStore(t)
	st := &settings.Settings{Stages: map[string]settings.Stage{}}

	cfg := state.Config{Name: "scratch", Protected: true}
	require.NoError(t, s.SetConfig(cfg, st))

	got, ok := s.Config("scratch")
	require.True(t, ok)
	assert.True(t, got.Protected)
}

func TestDeleteConfigBlockedByLockedStage(t *testing.T) {
	s, _ := newTestStore(t)
	st := &settings.Settings{
		Stages: map[string]settings.Stage{
			"prod": {Locked: true},
		},
	}

	require.NoError(t, s.SetConfig(state.Config{Name: "prod-main", Stage: "prod"}, st))

	err := s.DeleteConfig("prod-main", st)
	require.Error(t, err)
	var lockedErr *noormerr.StageLockedError
	require.True(t, errors.As(err, &lockedErr))
	assert.Equal(t, "prod-main", lockedErr.ConfigName)
	assert.Equal(t, "prod", lockedErr.Stage)

	_, ok := s.Config("prod-main")
	assert.True(t, ok)
}

func TestDeleteConfigAllowedWhenStageNotLocked(t *testing.T) {
	s, _ := newTestStore(t)
	st := &settings.Settings{
		Stages: map[string]settings.Stage{
			"dev": {Locked: false},
		},
	}

	require.NoError(t, s.SetConfig(state.Config{Name: "dev-main", Stage: "dev"}, st))
	require.NoError(t, s.DeleteConfig("dev-main", st))

	_, ok := s.Config("dev-main")
	assert.False(t, ok)
}

func TestTamperedStateFileFailsToLoadAndLeavesMemoryUntouched(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.SetConfig(state.Config{Name: "prod"}, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	tampered := make([]byte, len(raw))
	copy(tampered, raw)
	// flip the first lowercase byte in the file, which falls in the
	// envelope's leading "algorithm" key
	for i, b := range tampered {
		if b >= 'a' && b <= 'z' {
			tampered[i] = 'X'
			break
		}
	}
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	kp2, err := crypto.GenerateKeyPair() // any key; load should fail before key even matters in most cases
	require.NoError(t, err)
	_, err = state.Open(path, kp2.Private)
	assert.Error(t, err)

	// original in-memory store is untouched
	got, ok := s.Config("prod")
	require.True(t, ok)
	assert.Equal(t, "prod", got.Name)
}
