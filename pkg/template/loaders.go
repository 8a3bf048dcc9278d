// SPDX-License-Identifier: Apache-2.0

package template

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sigs.k8s.io/yaml"
)

func isoNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// DataLoaders resolves noorm's structured-data template helpers
// (loadJSON/loadJSON5/loadYAML/loadCSV/loadJS/loadSQL, §4.3) against files
// under a project's root. Loading is synchronous and completes before
// render begins, per the "helpers are sandboxed to synchronous
// value-returning calls" invariant.
type DataLoaders struct {
	Root string
}

func (d DataLoaders) resolve(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(d.Root, rel)
}

// LoadJSON parses rel as JSON and returns the decoded value.
func (d DataLoaders) LoadJSON(rel string) (any, error) {
	raw, err := os.ReadFile(d.resolve(rel))
	if err != nil {
		return nil, fmt.Errorf("load json %s: %w", rel, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse json %s: %w", rel, err)
	}
	return v, nil
}

// LoadJSON5 parses rel with JSON5-style relaxations (trailing commas, bare
// `//` comments) stripped before standard JSON decoding; noorm does not
// carry a dedicated JSON5 parser dependency, so the relaxations are
// normalized by hand rather than left unsupported.
func (d DataLoaders) LoadJSON5(rel string) (any, error) {
	raw, err := os.ReadFile(d.resolve(rel))
	if err != nil {
		return nil, fmt.Errorf("load json5 %s: %w", rel, err)
	}
	normalized := stripJSON5Comments(string(raw))
	var v any
	if err := json.Unmarshal([]byte(normalized), &v); err != nil {
		return nil, fmt.Errorf("parse json5 %s: %w", rel, err)
	}
	return v, nil
}

// LoadYAML parses rel as YAML via sigs.k8s.io/yaml, the same library the
// settings layer uses, so JSON struct tags apply uniformly.
func (d DataLoaders) LoadYAML(rel string) (any, error) {
	raw, err := os.ReadFile(d.resolve(rel))
	if err != nil {
		return nil, fmt.Errorf("load yaml %s: %w", rel, err)
	}
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse yaml %s: %w", rel, err)
	}
	return v, nil
}

// LoadCSV parses rel as CSV, returning a slice of maps keyed by the header
// row.
func (d DataLoaders) LoadCSV(rel string) ([]map[string]string, error) {
	f, err := os.Open(d.resolve(rel))
	if err != nil {
		return nil, fmt.Errorf("load csv %s: %w", rel, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", rel, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// LoadJS reads rel's raw text; noorm does not embed a JavaScript runtime, so
// "loading" a .js data file means exposing its source text to the template
// for sqlEscape/sqlQuote-based embedding, not evaluating it.
func (d DataLoaders) LoadJS(rel string) (string, error) {
	raw, err := os.ReadFile(d.resolve(rel))
	if err != nil {
		return "", fmt.Errorf("load js %s: %w", rel, err)
	}
	return string(raw), nil
}

// LoadSQL reads rel's raw SQL text, for composing one file's body into
// another via a template helper.
func (d DataLoaders) LoadSQL(rel string) (string, error) {
	raw, err := os.ReadFile(d.resolve(rel))
	if err != nil {
		return "", fmt.Errorf("load sql %s: %w", rel, err)
	}
	return string(raw), nil
}

func stripJSON5Comments(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "//"); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	joined := strings.Join(lines, "\n")
	joined = strings.ReplaceAll(joined, ",\n}", "\n}")
	joined = strings.ReplaceAll(joined, ",\n]", "\n]")
	return joined
}
