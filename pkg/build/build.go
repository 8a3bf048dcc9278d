// SPDX-License-Identifier: Apache-2.0

// Package build implements the schema builder / file runner (§4.2):
// runFile, runDir, and runBuild, all sharing pkg/execrecord's single
// render-checksum-compare-execute primitive.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/noormdev/noorm/pkg/db"
	"github.com/noormdev/noorm/pkg/eventbus"
	"github.com/noormdev/noorm/pkg/execrecord"
	"github.com/noormdev/noorm/pkg/internaltables"
	"github.com/noormdev/noorm/pkg/settings"
	"github.com/noormdev/noorm/pkg/template"
)

// BatchStatus is the overall outcome of running a set of files.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchFailed  BatchStatus = "failed"
)

// Options configures a run. ContinueOnError opts out of the default
// stop-at-first-failure behavior, continuing past a failed file so the
// batch's full outcome is recorded.
type Options struct {
	Force           bool
	ContinueOnError bool
}

// Result is the outcome of a batch of file runs.
type Result struct {
	Status  BatchStatus
	Records []execrecord.Record
}

// Runner executes schema files against one connection, sharing one
// template engine and execution record store across calls.
type Runner struct {
	Conn     db.Conn
	Engine   *template.Engine
	TmplCtx  template.Context
	Events   *eventbus.Bus
	SQLRoot  string // absolute path to sql/, used to compute relative paths
}

// RunFile executes one file identified by an absolute path (§4.2 runFile).
func (r *Runner) RunFile(ctx context.Context, path string, opts Options) (execrecord.Record, error) {
	rel, err := filepath.Rel(r.SQLRoot, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	raw, err := os.ReadFile(path)
	if err != nil {
		return execrecord.Record{}, fmt.Errorf("read %s: %w", path, err)
	}

	f := execrecord.File{
		Path:       rel,
		RawText:    string(raw),
		IsTemplate: template.IsTemplate(path),
	}

	r.emit("build:file:start", rel)
	rec, err := execrecord.Run(ctx, r.Conn, r.Engine, r.TmplCtx, f,
		internaltables.LastSuccessfulChecksum(r.Conn, nil),
		internaltables.RecordExecution(r.Conn, nil, fileType(path)),
		execrecord.Options{Force: opts.Force})
	r.emit("build:file:complete", rec)
	return rec, err
}

// RunDir executes every .sql/.sql.tmpl file under dir, sorted by full
// relative path (§4.2 runDir).
func (r *Runner) RunDir(ctx context.Context, dir string, opts Options) (Result, error) {
	paths, err := discoverFiles(dir)
	if err != nil {
		return Result{}, err
	}
	return r.runPaths(ctx, paths, opts)
}

// RunBuild is the builder entry point: runDir(sqlDir) additionally filtered
// by the rule evaluator's effective build paths (§4.2 runBuild).
func (r *Runner) RunBuild(ctx context.Context, sqlDir string, s *settings.Settings, cfg settings.ConfigView, opts Options) (Result, error) {
	paths, err := discoverFiles(sqlDir)
	if err != nil {
		return Result{}, err
	}

	effective := s.GetEffectiveBuildPaths(cfg)
	var filtered []string
	for _, p := range paths {
		rel, err := filepath.Rel(sqlDir, p)
		if err != nil {
			continue
		}
		if effective.IncludesPath(filepath.ToSlash(rel)) {
			filtered = append(filtered, p)
		}
	}

	return r.runPaths(ctx, filtered, opts)
}

func (r *Runner) runPaths(ctx context.Context, paths []string, opts Options) (Result, error) {
	result := Result{Status: BatchSuccess}
	failed := false
	var firstErr error

	for _, p := range paths {
		rec, err := r.RunFile(ctx, p, opts)
		result.Records = append(result.Records, rec)
		if err != nil {
			failed = true
			if firstErr == nil {
				firstErr = err
			}
			if !opts.ContinueOnError {
				result.Status = BatchFailed
				return result, err
			}
		}
	}

	if failed {
		if len(result.Records) > 0 && allFailed(result.Records) {
			result.Status = BatchFailed
		} else {
			result.Status = BatchPartial
		}
	}
	return result, firstErr
}

func allFailed(records []execrecord.Record) bool {
	for _, r := range records {
		if r.Status != execrecord.StatusFailed {
			return false
		}
	}
	return true
}

func (r *Runner) emit(name string, data any) {
	if r.Events != nil {
		r.Events.Emit(name, data)
	}
}

// discoverFiles walks dir and returns every .sql/.sql.tmpl file, directories
// visited before their contents, files within a directory lexicographic
// (§4.2 runDir) — WalkDir already produces this order since it visits a
// directory's entries (lexically sorted) before descending into them.
func discoverFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isSQLFile(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover files under %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

func isSQLFile(path string) bool {
	return strings.HasSuffix(path, ".sql") || strings.HasSuffix(path, ".sql.tmpl")
}

func fileType(path string) string {
	if strings.HasSuffix(path, ".txt") {
		return "txt"
	}
	return "sql"
}
