// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"path"
	"strings"
)

// ConfigView is the subset of a config's fields the rule evaluator matches
// against; kept separate from state.Config to avoid a dependency cycle
// between pkg/settings and pkg/state.
type ConfigView struct {
	Name      string
	Type      string
	Stage     string
	IsTest    bool
	Protected bool
}

// EffectiveBuildPaths is the result of evaluating all matching rules against
// a config (§4.11).
type EffectiveBuildPaths struct {
	Include []string
	Exclude []string
}

// GetEffectiveBuildPaths concatenates the effects of every matching rule, in
// order, on top of the base build include/exclude lists. An excluded prefix
// always overrides any include for the same path.
func (s *Settings) GetEffectiveBuildPaths(cfg ConfigView) EffectiveBuildPaths {
	result := EffectiveBuildPaths{}
	if s.Build != nil {
		result.Include = append(result.Include, s.Build.Include...)
		result.Exclude = append(result.Exclude, s.Build.Exclude...)
	}

	for _, rule := range s.Rules {
		if !rule.Match.matches(cfg) {
			continue
		}
		result.Include = append(result.Include, rule.Effect.Include...)
		result.Exclude = append(result.Exclude, rule.Effect.Exclude...)
	}

	return result
}

// IncludesPath reports whether the given path (relative to sql/) survives
// the effective include/exclude lists: it must match an include prefix (or
// there must be no include list at all) and must not match any exclude
// prefix.
func (p EffectiveBuildPaths) IncludesPath(relPath string) bool {
	for _, exclude := range p.Exclude {
		if hasPathPrefix(relPath, exclude) {
			return false
		}
	}
	if len(p.Include) == 0 {
		return true
	}
	for _, include := range p.Include {
		if hasPathPrefix(relPath, include) {
			return true
		}
	}
	return false
}

func hasPathPrefix(p, prefix string) bool {
	p = path.Clean(filepathToSlash(p))
	prefix = path.Clean(filepathToSlash(prefix))
	if prefix == "." {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func (m Match) matches(cfg ConfigView) bool {
	if m.Type != "" && m.Type != cfg.Type {
		return false
	}
	if m.Stage != "" && m.Stage != cfg.Stage {
		return false
	}
	if m.IsTest.IsSpecified() && !m.IsTest.IsNull() {
		v, err := m.IsTest.Get()
		if err == nil && v != cfg.IsTest {
			return false
		}
	}
	if m.Protected.IsSpecified() && !m.Protected.IsNull() {
		v, err := m.Protected.Get()
		if err == nil && v != cfg.Protected {
			return false
		}
	}
	if m.NameGlob != "" {
		ok, err := path.Match(m.NameGlob, cfg.Name)
		if err != nil || !ok {
			return false
		}
	}
	return true
}
