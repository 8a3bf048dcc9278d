// SPDX-License-Identifier: Apache-2.0

// Package execrecord implements the single "render, checksum, compare to
// last success, execute-or-skip, record outcome" primitive shared by the
// schema builder and the change engine (§4.2, §4.1), the way pgroll shares
// one runMigration helper across cmd/migrate.go, cmd/start.go, and
// cmd/baseline.go.
package execrecord

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	pgq "github.com/xataio/pg_query_go/v6"

	"github.com/noormdev/noorm/pkg/db"
	"github.com/noormdev/noorm/pkg/template"
)

// Status is the outcome of running one file.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// SkipReason explains a StatusSkipped outcome.
type SkipReason string

const UnchangedSkipReason SkipReason = "unchanged"

// Lookup resolves the last successful checksum recorded for a filepath
// within a given scope (builder runs use a nil change id; change runs pass
// the enclosing change's id).
type Lookup func(ctx context.Context, filepath string) (checksum string, found bool, err error)

// Recorder persists the outcome of running one file.
type Recorder func(ctx context.Context, rec Record) error

// Record is one row of the executions table (§3.2).
type Record struct {
	FilePath   string
	FileType   string
	Checksum   string
	Status     Status
	SkipReason SkipReason
	ErrorMsg   string
	DurationMS int64
}

// File is one file to run: its path (for logging/records), its raw
// (unrendered) text, and the render context to apply if it is a template.
type File struct {
	Path       string
	RawText    string
	IsTemplate bool
}

// Options configures Run.
type Options struct {
	Force bool
}

// Run renders f (if it is a template), computes its checksum, compares
// against the last recorded success via lookup, and either records a skip
// or executes the rendered SQL via conn and records the outcome via record
// (§4.2 steps 1-5).
func Run(ctx context.Context, conn db.Conn, engine *template.Engine, tmplCtx template.Context, f File, lookup Lookup, record Recorder, opts Options) (Record, error) {
	rendered := f.RawText
	if f.IsTemplate {
		out, err := engine.Render(f.Path, f.RawText, tmplCtx)
		if err != nil {
			return Record{}, fmt.Errorf("render %s: %w", f.Path, err)
		}
		rendered = out
	}

	checksum := Checksum(rendered)

	if !opts.Force {
		prev, found, err := lookup(ctx, f.Path)
		if err != nil {
			return Record{}, fmt.Errorf("lookup prior execution for %s: %w", f.Path, err)
		}
		if found && prev == checksum {
			rec := Record{FilePath: f.Path, Checksum: checksum, Status: StatusSkipped, SkipReason: UnchangedSkipReason}
			if err := record(ctx, rec); err != nil {
				return Record{}, err
			}
			return rec, nil
		}
	}

	if conn.Dialect() == db.Postgres {
		if _, err := pgq.Parse(rendered); err != nil {
			rec := Record{FilePath: f.Path, Checksum: checksum, Status: StatusFailed, ErrorMsg: fmt.Sprintf("parse error: %v", err)}
			if recErr := record(ctx, rec); recErr != nil {
				return Record{}, recErr
			}
			return rec, fmt.Errorf("parse %s: %w", f.Path, err)
		}
	}

	start := time.Now()
	_, execErr := conn.ExecContext(ctx, rendered)
	duration := time.Since(start)

	rec := Record{
		FilePath:   f.Path,
		Checksum:   checksum,
		DurationMS: duration.Milliseconds(),
	}
	if execErr != nil {
		rec.Status = StatusFailed
		rec.ErrorMsg = execErr.Error()
	} else {
		rec.Status = StatusSuccess
	}

	if err := record(ctx, rec); err != nil {
		return Record{}, err
	}
	if execErr != nil {
		return rec, execErr
	}
	return rec, nil
}

// Checksum returns the SHA-256 hex digest of rendered text (§3.3 Checksum).
func Checksum(rendered string) string {
	sum := sha256.Sum256([]byte(rendered))
	return hex.EncodeToString(sum[:])
}

// CombinedChecksum returns the SHA-256 hex digest over the ordered list of
// per-file checksums (§3.3 Combined checksum).
func CombinedChecksum(checksums []string) string {
	h := sha256.New()
	for _, c := range checksums {
		h.Write([]byte(c))
	}
	return hex.EncodeToString(h.Sum(nil))
}
