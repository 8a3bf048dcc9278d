// SPDX-License-Identifier: Apache-2.0

package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oapi-codegen/nullable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noormdev/noorm/pkg/settings"
)

func TestLoadMissingFileYieldsDefault(t *testing.T) {
	s, err := settings.Load(filepath.Join(t.TempDir(), "settings.yml"))
	require.NoError(t, err)
	assert.Equal(t, settings.CurrentSchemaVersion, s.SchemaVersion)
	assert.Empty(t, s.Rules)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")

	s := &settings.Settings{
		SchemaVersion: settings.CurrentSchemaVersion,
		Build:         &settings.Build{Include: []string{"tables", "views"}},
		Rules: []settings.Rule{
			{
				Match:  settings.Match{Stage: "prod", Protected: nullable.NewNullableWithValue(true)},
				Effect: settings.Effect{Exclude: []string{"seed-data"}},
			},
		},
	}
	require.NoError(t, settings.Save(path, s))

	loaded, err := settings.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tables", "views"}, loaded.Build.Include)
	require.Len(t, loaded.Rules, 1)

	v, err := loaded.Rules[0].Match.Protected.Get()
	require.NoError(t, err)
	assert.True(t, v)
}

func TestGetEffectiveBuildPathsAppliesMatchingRulesInOrder(t *testing.T) {
	s := &settings.Settings{
		Build: &settings.Build{Include: []string{"tables"}},
		Rules: []settings.Rule{
			{
				Match:  settings.Match{Stage: "prod"},
				Effect: settings.Effect{Exclude: []string{"tables/scratch"}},
			},
			{
				Match:  settings.Match{Stage: "dev"},
				Effect: settings.Effect{Include: []string{"tables/scratch"}},
			},
		},
	}

	prod := s.GetEffectiveBuildPaths(settings.ConfigView{Name: "prod-main", Stage: "prod"})
	assert.True(t, prod.IncludesPath("tables/accounts.sql"))
	assert.False(t, prod.IncludesPath("tables/scratch/tmp.sql"))

	dev := s.GetEffectiveBuildPaths(settings.ConfigView{Name: "dev-main", Stage: "dev"})
	assert.True(t, dev.IncludesPath("tables/scratch/tmp.sql"))
}

func TestGetEffectiveBuildPathsFiltersByIsTest(t *testing.T) {
	s := &settings.Settings{
		Rules: []settings.Rule{
			{
				Match:  settings.Match{IsTest: nullable.NewNullableWithValue(true)},
				Effect: settings.Effect{Include: []string{"fixtures"}},
			},
		},
	}

	testCfg := s.GetEffectiveBuildPaths(settings.ConfigView{Name: "ci", IsTest: true})
	assert.True(t, testCfg.IncludesPath("fixtures/users.sql"))

	prodCfg := s.GetEffectiveBuildPaths(settings.ConfigView{Name: "prod", IsTest: false})
	assert.False(t, prodCfg.IncludesPath("fixtures/users.sql"))
}

func TestIncludesPathEmptyIncludeListMeansEverythingNotExcluded(t *testing.T) {
	p := settings.EffectiveBuildPaths{Exclude: []string{"secrets"}}
	assert.True(t, p.IncludesPath("tables/accounts.sql"))
	assert.False(t, p.IncludesPath("secrets/keys.sql"))
}

func TestLoadRejectsSettingsFailingSchemaValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte("schemaVersion: \"not-a-number\"\n"), 0o644))

	_, err := settings.Load(path)
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedSettings(t *testing.T) {
	err := settings.Validate([]byte("schemaVersion: 1\nstrict: true\nbuild:\n  include:\n    - tables\n"))
	require.NoError(t, err)
}

func TestResolveEnvOnlyExposesAllowlistedNames(t *testing.T) {
	s := &settings.Settings{Env: []string{"REGION", "MISSING"}}
	lookup := func(name string) (string, bool) {
		if name == "REGION" {
			return "us-east-1", true
		}
		return "", false
	}

	resolved := s.ResolveEnv(lookup)
	assert.Equal(t, map[string]string{"REGION": "us-east-1"}, resolved)
}
