// SPDX-License-Identifier: Apache-2.0

// Package settings implements noorm's version-controlled project settings
// (§3.3, §4.11): build include/exclude paths, stage templates, and the rule
// evaluator that derives per-config effective build paths. Settings live at
// .noorm/settings.yml, plaintext YAML, version-stamped like state and the
// database schema layer.
package settings

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oapi-codegen/nullable"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"sigs.k8s.io/yaml"
)

// CurrentSchemaVersion is the settings layer's expected on-disk version.
const CurrentSchemaVersion = 1

//go:embed schema.json
var schemaJSON string

const schemaResourceID = "https://noorm.dev/schema/settings.json"

var settingsSchema = compileSettingsSchema()

func compileSettingsSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResourceID, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("settings: embedded schema.json is invalid: %v", err))
	}
	return c.MustCompile(schemaResourceID)
}

// Validate checks raw settings.yml bytes against schema.json, the way
// pgroll validates every migration file against its own schema.json
// before unmarshalling it into Go structs.
func Validate(raw []byte) error {
	jsonBytes, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return fmt.Errorf("convert settings yaml to json: %w", err)
	}

	var v any
	if err := json.Unmarshal(jsonBytes, &v); err != nil {
		return fmt.Errorf("decode settings json: %w", err)
	}

	if err := settingsSchema.Validate(v); err != nil {
		return fmt.Errorf("settings.yml failed schema validation: %w", err)
	}
	return nil
}

// Build holds the base schema path include/exclude lists (§4.11).
type Build struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Match describes the predicate half of a rule.
type Match struct {
	Type      string                  `json:"type,omitempty"`
	IsTest    nullable.Nullable[bool] `json:"isTest"`
	Protected nullable.Nullable[bool] `json:"protected"`
	Stage     string                  `json:"stage,omitempty"`
	NameGlob  string                  `json:"nameGlob,omitempty"`
}

// Effect describes the include/exclude lists a matching rule contributes.
type Effect struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Rule is one ordered entry in the rule evaluator (§4.11).
type Rule struct {
	Match  Match  `json:"match"`
	Effect Effect `json:"effect"`
}

// StageDefaults constrains configs linked to a stage.
type StageDefaults struct {
	Protected nullable.Nullable[bool] `json:"protected"`
	IsTest    nullable.Nullable[bool] `json:"isTest"`
}

// Stage is a settings-level constraint template linking configs by name
// (§3.3, §GLOSSARY).
type Stage struct {
	Description string        `json:"description,omitempty"`
	Locked      bool          `json:"locked,omitempty"`
	Defaults    StageDefaults `json:"defaults,omitempty"`
	Secrets     []string      `json:"secrets,omitempty"`
}

// Logging configures the append-only JSON-lines log (§6).
type Logging struct {
	Level    string `json:"level,omitempty"`
	MaxFiles int    `json:"maxFiles,omitempty"`
	MaxSizeMB int   `json:"maxSizeMb,omitempty"`
}

// Settings is the full contents of .noorm/settings.yml (§3.3).
type Settings struct {
	SchemaVersion int               `json:"schemaVersion"`
	Build         *Build            `json:"build,omitempty"`
	Paths         map[string]string `json:"paths,omitempty"`
	Rules         []Rule            `json:"rules,omitempty"`
	Stages        map[string]Stage  `json:"stages,omitempty"`
	Strict        bool              `json:"strict,omitempty"`
	Logging       *Logging          `json:"logging,omitempty"`
	// Env lists the environment variable names a template's .env may read
	// (§4.3); any host variable not named here is invisible to templates.
	Env []string `json:"env,omitempty"`
}

// ResolveEnv returns the subset of os.Environ() (via lookup) named by
// s.Env, for use as a template.Context.Env allowlist (§4.3).
func (s *Settings) ResolveEnv(lookup func(string) (string, bool)) map[string]string {
	out := make(map[string]string, len(s.Env))
	for _, name := range s.Env {
		if v, ok := lookup(name); ok {
			out[name] = v
		}
	}
	return out
}

func newDefault() *Settings {
	return &Settings{
		SchemaVersion: CurrentSchemaVersion,
		Build:         &Build{},
		Stages:        map[string]Stage{},
	}
}

// Load reads and parses settings.yml at path. A missing file yields default
// settings at the current version with no error.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newDefault(), nil
		}
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	if err := Validate(raw); err != nil {
		return nil, err
	}

	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse settings yaml: %w", err)
	}
	return &s, nil
}

// Save writes settings to path as YAML.
func Save(path string, s *Settings) error {
	encoded, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
