// SPDX-License-Identifier: Apache-2.0

// Package template implements noorm's render context and helper surface
// (§4.3): text/template layered with sprig's function map and noorm's own
// built-ins (sqlEscape, sqlQuote, uuid, isoNow, and the structured-data
// loaders), the way erigon and ipiton-alert-history-service both embed
// sprig under text/template for their own config rendering.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
)

// Context is the data made available to every render (§4.3).
type Context struct {
	Config        map[string]any
	Secrets       map[string]string
	GlobalSecrets map[string]string
	Env           map[string]string
	Helpers       map[string]any
}

// Engine renders noorm templates. It is stateless and safe for concurrent
// use; rendering is pure (same input always yields the same output, and
// therefore the same checksum), except for templates that call the uuid or
// isoNow helpers, whose output changes on every render.
type Engine struct {
	loaders DataLoaders
}

// New returns a template engine using the given data loaders for the
// JSON/JSON5/YAML/CSV/JS/SQL file-loading helpers.
func New(loaders DataLoaders) *Engine {
	return &Engine{loaders: loaders}
}

// IsTemplate reports whether path names a template file by noorm's .tmpl /
// .sql.tmpl naming convention (§4.3).
func IsTemplate(path string) bool {
	return strings.HasSuffix(path, ".tmpl")
}

// Render parses and executes the given template text against ctx, returning
// the rendered bytes.
func (e *Engine) Render(name, text string, ctx Context) (string, error) {
	funcs := sprig.TxtFuncMap()
	for k, v := range e.builtins(ctx) {
		funcs[k] = v
	}
	for k, v := range ctx.Helpers {
		funcs[k] = v
	}

	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}

	data := map[string]any{
		"config":        ctx.Config,
		"secrets":       ctx.Secrets,
		"globalSecrets": ctx.GlobalSecrets,
		"env":           ctx.Env,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (e *Engine) builtins(ctx Context) template.FuncMap {
	return template.FuncMap{
		"sqlEscape": sqlEscape,
		"sqlQuote":  sqlQuote,
		"uuid":      func() string { return uuid.NewString() },
		"isoNow":    isoNow,
		"loadJSON":  e.loaders.LoadJSON,
		"loadJSON5": e.loaders.LoadJSON5,
		"loadYAML":  e.loaders.LoadYAML,
		"loadCSV":   e.loaders.LoadCSV,
		"loadJS":    e.loaders.LoadJS,
		"loadSQL":   e.loaders.LoadSQL,
	}
}

// sqlEscape escapes single quotes for embedding a value inside a SQL string
// literal; it does not add the surrounding quotes (use sqlQuote for that).
func sqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// sqlQuote wraps s in single quotes, escaping embedded quotes.
func sqlQuote(s string) string {
	return "'" + sqlEscape(s) + "'"
}
