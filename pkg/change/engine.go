// SPDX-License-Identifier: Apache-2.0

package change

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/noormdev/noorm/internal/noormerr"
	"github.com/noormdev/noorm/pkg/db"
	"github.com/noormdev/noorm/pkg/eventbus"
	"github.com/noormdev/noorm/pkg/execrecord"
	"github.com/noormdev/noorm/pkg/internaltables"
	"github.com/noormdev/noorm/pkg/lock"
	"github.com/noormdev/noorm/pkg/template"
)

// Options configures a run/revert/next/ff call. ContinueOnError controls
// whether a failing file (within one change) or a failing change (within
// ff) stops the whole batch; the default aborts on the first failure
// (§4.1 Fast-forward, Run step 3), and ContinueOnError opts out of that,
// mirroring pkg/build.Options.
type Options struct {
	Force           bool
	ContinueOnError bool
}

// Entry pairs a discovered change with its derived status, for List.
type Entry struct {
	Change   Change
	Status   Status
	NeedsRun bool
	Reason   Reason
	Orphaned bool
}

// HistoryEntry is one recorded change/revert operation, for History.
type HistoryEntry struct {
	Row      internaltables.ChangeRow
	Orphaned bool
}

// RewindTarget selects how many applied changes to revert, or the name to
// revert back through, inclusive (§4.1 Rewind).
type RewindTarget struct {
	Count int
	Name  string
}

// Engine is the change engine (§4.1): discovery, staleness, and the
// lock-guarded run/revert/next/ff/rewind/history operations. It plays the
// role pgroll's roll.Roll plays for migrations — holding a connection and a
// lock manager and emitting progress to the event bus rather than taking a
// direct logger dependency.
type Engine struct {
	Conn       db.Conn
	Lock       *lock.Manager
	Template   *template.Engine
	TmplCtx    template.Context
	Events     *eventbus.Bus
	ChangesDir string
	SQLRoot    string
	ConfigName string
	Identity   string
}

func (e *Engine) emit(name string, data any) {
	if e.Events != nil {
		e.Events.Emit(name, data)
	}
}

// List returns every on-disk change with its derived status, plus any
// orphaned changes recorded in history but absent from disk (§4.1 list,
// Orphans).
func (e *Engine) List(ctx context.Context) ([]Entry, error) {
	changes, err := Discover(e.ChangesDir, e.SQLRoot)
	if err != nil {
		return nil, err
	}

	onDisk := map[string]bool{}
	var entries []Entry
	for _, c := range changes {
		onDisk[c.Name] = true

		history, err := internaltables.AllChangeRows(ctx, e.Conn, c.Name)
		if err != nil {
			return nil, err
		}

		checksum, err := e.currentCombinedChecksum(c.ChangeFiles)
		if err != nil {
			return nil, err
		}
		// laterApplied is only relevant to ff/rewind planning (§4.1 staleness
		// test), not to a plain list().
		needs, reason := needsRun(history, checksum, false, false)

		entries = append(entries, Entry{Change: c, Status: DeriveStatus(history), NeedsRun: needs, Reason: reason})
	}

	names, err := internaltables.DistinctChangeNames(ctx, e.Conn)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if onDisk[name] {
			continue
		}
		history, err := internaltables.AllChangeRows(ctx, e.Conn, name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Change:   Change{Name: name},
			Status:   DeriveStatus(history),
			Orphaned: true,
		})
	}

	return entries, nil
}

// Run applies name under the project lock (§4.1 Run).
func (e *Engine) Run(ctx context.Context, name string, opts Options) error {
	return e.Lock.WithLock(ctx, e.ConfigName, e.Identity, lock.AcquireOptions{}, func(ctx context.Context) error {
		return e.run(ctx, name, opts)
	})
}

func (e *Engine) run(ctx context.Context, name string, opts Options) error {
	c, err := e.findChange(name)
	if err != nil {
		return err
	}
	if len(c.ChangeFiles) == 0 {
		return &noormerr.ChangeValidationError{Change: name, Reason: "change/ has no files to apply"}
	}

	groups, err := e.expandFiles(c.ChangeFiles)
	if err != nil {
		return err
	}
	rendered, err := e.prerender(flattenGroups(groups))
	if err != nil {
		return err
	}

	id, err := internaltables.InsertChangeRow(ctx, e.Conn, name, "apply", e.Identity)
	if err != nil {
		return fmt.Errorf("start change row for %q: %w", name, err)
	}

	e.emit("change:run:start", name)
	start := time.Now()
	checksums, execErr := e.runRenderedFiles(ctx, &id, rendered, opts)
	duration := time.Since(start)

	status, errMsg := "success", ""
	if execErr != nil {
		status, errMsg = "failed", execErr.Error()
	}

	if updateErr := internaltables.UpdateChangeRow(ctx, e.Conn, id, status, duration.Milliseconds(), errMsg, combinedChecksumFromFlat(groups, checksums)); updateErr != nil {
		return fmt.Errorf("finalize change row for %q: %w", name, updateErr)
	}

	e.emit("change:run:complete", map[string]any{"name": name, "status": status})
	return execErr
}

// Revert reverts name under the project lock (§4.1 Revert).
func (e *Engine) Revert(ctx context.Context, name string, opts Options) error {
	return e.Lock.WithLock(ctx, e.ConfigName, e.Identity, lock.AcquireOptions{}, func(ctx context.Context) error {
		return e.revert(ctx, name, opts)
	})
}

func (e *Engine) revert(ctx context.Context, name string, opts Options) error {
	c, err := e.findChange(name)
	if err != nil {
		return err
	}

	if len(c.RevertFiles) == 0 {
		history, err := internaltables.AllChangeRows(ctx, e.Conn, name)
		if err != nil {
			return err
		}
		if len(history) > 0 {
			return &noormerr.ChangeValidationError{Change: name, Reason: "revert/ has no files and the change has already run"}
		}
		return nil
	}

	groups, err := e.expandFiles(reverseChangeFiles(c.RevertFiles))
	if err != nil {
		return err
	}
	rendered, err := e.prerender(flattenGroups(groups))
	if err != nil {
		return err
	}

	id, err := internaltables.InsertChangeRow(ctx, e.Conn, name, "revert", e.Identity)
	if err != nil {
		return fmt.Errorf("start revert row for %q: %w", name, err)
	}

	e.emit("change:revert:start", name)
	start := time.Now()
	checksums, execErr := e.runRenderedFiles(ctx, &id, rendered, opts)
	duration := time.Since(start)

	status, errMsg := "success", ""
	if execErr != nil {
		status, errMsg = "failed", execErr.Error()
	}

	if updateErr := internaltables.UpdateChangeRow(ctx, e.Conn, id, status, duration.Milliseconds(), errMsg, combinedChecksumFromFlat(groups, checksums)); updateErr != nil {
		return fmt.Errorf("finalize revert row for %q: %w", name, updateErr)
	}

	e.emit("change:revert:complete", map[string]any{"name": name, "status": status})
	return execErr
}

// Next applies the single lexicographically-first change whose derived
// status is pending (§4.1 Next). It returns noormerr.ErrNothingToDo if none
// is pending.
func (e *Engine) Next(ctx context.Context, opts Options) (string, error) {
	changes, err := Discover(e.ChangesDir, e.SQLRoot)
	if err != nil {
		return "", err
	}

	for _, c := range sortedForApply(changes) {
		history, err := internaltables.AllChangeRows(ctx, e.Conn, c.Name)
		if err != nil {
			return "", err
		}
		if DeriveStatus(history) == StatusPending {
			if err := e.Run(ctx, c.Name, opts); err != nil {
				return c.Name, err
			}
			return c.Name, nil
		}
	}

	return "", noormerr.ErrNothingToDo
}

// FF applies every pending change in canonical apply order, stopping on the
// first failure unless opts.ContinueOnError is set (§4.1 Fast-forward).
func (e *Engine) FF(ctx context.Context, opts Options) ([]string, error) {
	changes, err := Discover(e.ChangesDir, e.SQLRoot)
	if err != nil {
		return nil, err
	}

	var ran []string
	var firstErr error
	for _, c := range sortedForApply(changes) {
		history, err := internaltables.AllChangeRows(ctx, e.Conn, c.Name)
		if err != nil {
			return ran, err
		}
		if DeriveStatus(history) != StatusPending {
			continue
		}

		runErr := e.Run(ctx, c.Name, opts)
		ran = append(ran, c.Name)
		if runErr != nil {
			if !opts.ContinueOnError {
				return ran, runErr
			}
			if firstErr == nil {
				firstErr = runErr
			}
		}
	}

	return ran, firstErr
}

// Rewind reverts the first target.Count currently-applied changes in
// reverse chronological order of application, or reverts back to and
// including target.Name. It stops on the first failure and refuses to
// start if any targeted change has no revert/ content (§4.1 Rewind).
func (e *Engine) Rewind(ctx context.Context, target RewindTarget, opts Options) ([]string, error) {
	applied, err := e.appliedInReverseOrder(ctx)
	if err != nil {
		return nil, err
	}

	var toRevert []internaltables.ChangeRow
	if target.Name != "" {
		found := false
		for _, row := range applied {
			toRevert = append(toRevert, row)
			if row.Name == target.Name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q is not currently applied", noormerr.ErrChangeNotFound, target.Name)
		}
	} else {
		count := target.Count
		if count > len(applied) {
			count = len(applied)
		}
		toRevert = applied[:count]
	}

	for _, row := range toRevert {
		c, err := e.findChange(row.Name)
		if err != nil {
			return nil, err
		}
		if len(c.RevertFiles) == 0 {
			return nil, &noormerr.ChangeValidationError{Change: row.Name, Reason: "rewind requires revert/ content for every targeted change"}
		}
	}

	var reverted []string
	for _, row := range toRevert {
		if err := e.Revert(ctx, row.Name, opts); err != nil {
			reverted = append(reverted, row.Name)
			return reverted, err
		}
		reverted = append(reverted, row.Name)
	}

	return reverted, nil
}

// History returns every recorded change/revert operation across all
// changes, most recent first, optionally capped at limit (§4.1 History).
func (e *Engine) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	changes, err := Discover(e.ChangesDir, e.SQLRoot)
	if err != nil {
		return nil, err
	}
	onDisk := map[string]bool{}
	for _, c := range changes {
		onDisk[c.Name] = true
	}

	names, err := internaltables.DistinctChangeNames(ctx, e.Conn)
	if err != nil {
		return nil, err
	}

	var all []HistoryEntry
	for _, name := range names {
		rows, err := internaltables.AllChangeRows(ctx, e.Conn, name)
		if err != nil {
			return nil, err
		}
		orphaned := !onDisk[name]
		for _, row := range rows {
			all = append(all, HistoryEntry{Row: row, Orphaned: orphaned})
		}
	}

	sort.Slice(all, func(i, j int) bool { return moreRecent(all[i].Row, all[j].Row) })

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// DeleteOrphanHistory removes every recorded row for an orphaned change —
// one present in history but absent from disk, whose SQL can no longer be
// reverted (§4.1 Orphans).
func (e *Engine) DeleteOrphanHistory(ctx context.Context, name string) error {
	changes, err := Discover(e.ChangesDir, e.SQLRoot)
	if err != nil {
		return err
	}
	for _, c := range changes {
		if c.Name == name {
			return fmt.Errorf("noorm: %q is present on disk, not orphaned", name)
		}
	}
	return internaltables.DeleteChangeHistory(ctx, e.Conn, name)
}

func (e *Engine) findChange(name string) (Change, error) {
	changes, err := Discover(e.ChangesDir, e.SQLRoot)
	if err != nil {
		return Change{}, err
	}
	for _, c := range changes {
		if c.Name == name {
			return c, nil
		}
	}
	return Change{}, fmt.Errorf("%w: %q", noormerr.ErrChangeNotFound, name)
}

// appliedInReverseOrder returns the latest row of every currently-applied
// change, most recently applied first, for Rewind planning.
func (e *Engine) appliedInReverseOrder(ctx context.Context) ([]internaltables.ChangeRow, error) {
	names, err := internaltables.DistinctChangeNames(ctx, e.Conn)
	if err != nil {
		return nil, err
	}

	var applied []internaltables.ChangeRow
	for _, name := range names {
		history, err := internaltables.AllChangeRows(ctx, e.Conn, name)
		if err != nil {
			return nil, err
		}
		if IsApplied(history) {
			applied = append(applied, history[0])
		}
	}

	sort.Slice(applied, func(i, j int) bool { return moreRecent(applied[i], applied[j]) })
	return applied, nil
}

// moreRecent orders a before b when a happened more recently, breaking
// timestamp ties (a real possibility on drivers with second-level
// resolution, like sqlite's CURRENT_TIMESTAMP) by the monotonically
// increasing row id.
func moreRecent(a, b internaltables.ChangeRow) bool {
	if !a.ExecutedAt.Equal(b.ExecutedAt) {
		return a.ExecutedAt.After(b.ExecutedAt)
	}
	return a.ID > b.ID
}

// expandedGroup is one ChangeFile's on-disk expansion: a single file for a
// plain sql/template entry, or one file per resolved target for a .txt
// manifest, kept together so the manifest's own checksum can be computed
// from its members before folding into the outer combined checksum
// (§3.3 Checksum, Combined checksum).
type expandedGroup struct {
	isManifest bool
	files      []execrecord.File
}

// expandFiles turns a change's on-disk file list into execrecord units,
// grouped by originating ChangeFile so a .txt manifest's resolved targets
// stay associated with the manifest that referenced them (§3.1 Manifest
// files).
func (e *Engine) expandFiles(files []ChangeFile) ([]expandedGroup, error) {
	var out []expandedGroup
	for _, cf := range files {
		if cf.Type == "txt" {
			group := expandedGroup{isManifest: true}
			for _, resolved := range cf.ResolvedPaths {
				raw, err := os.ReadFile(resolved)
				if err != nil {
					return nil, fmt.Errorf("read manifest target %s: %w", resolved, err)
				}
				rel, err := filepath.Rel(e.SQLRoot, resolved)
				if err != nil {
					rel = resolved
				}
				rel = filepath.ToSlash(rel)
				group.files = append(group.files, execrecord.File{Path: rel, RawText: string(raw), IsTemplate: template.IsTemplate(resolved)})
			}
			out = append(out, group)
			continue
		}

		raw, err := os.ReadFile(cf.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", cf.Path, err)
		}
		out = append(out, expandedGroup{files: []execrecord.File{{Path: cf.Filename, RawText: string(raw), IsTemplate: cf.IsTemplate}}})
	}
	return out, nil
}

// flattenGroups returns every group's files as one ordered list, the shape
// prerender and runRenderedFiles operate on.
func flattenGroups(groups []expandedGroup) []execrecord.File {
	var out []execrecord.File
	for _, g := range groups {
		out = append(out, g.files...)
	}
	return out
}

// combinedChecksumFromFlat folds a flat list of per-file checksums back into
// per-ChangeFile checksums — nesting a manifest's member checksums into its
// own checksum first (§3.3 Checksum: "for .txt manifests, the checksum is
// SHA-256 of the ordered concatenation of the referenced files' own rendered
// checksums") — then combines those into the outer combined checksum.
// flat may be shorter than the groups' total file count when a batch aborted
// partway through (§4.1 Failure semantics); only fully-represented groups
// contribute to the result.
func combinedChecksumFromFlat(groups []expandedGroup, flat []string) string {
	var checksums []string
	idx := 0
	for _, g := range groups {
		end := idx + len(g.files)
		if end > len(flat) {
			break
		}
		sub := flat[idx:end]
		if g.isManifest {
			checksums = append(checksums, execrecord.CombinedChecksum(sub))
		} else {
			checksums = append(checksums, sub[0])
		}
		idx = end
	}
	return execrecord.CombinedChecksum(checksums)
}

// prerender resolves every template in memory up front, before any SQL
// runs or any change row is written (§4.1 Run step 1).
func (e *Engine) prerender(files []execrecord.File) ([]execrecord.File, error) {
	out := make([]execrecord.File, len(files))
	for i, f := range files {
		if !f.IsTemplate {
			out[i] = f
			continue
		}
		rendered, err := e.Template.Render(f.Path, f.RawText, e.TmplCtx)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", f.Path, err)
		}
		out[i] = execrecord.File{Path: f.Path, RawText: rendered, IsTemplate: false}
	}
	return out, nil
}

func (e *Engine) currentCombinedChecksum(files []ChangeFile) (string, error) {
	groups, err := e.expandFiles(files)
	if err != nil {
		return "", err
	}
	rendered, err := e.prerender(flattenGroups(groups))
	if err != nil {
		return "", err
	}
	checksums := make([]string, len(rendered))
	for i, f := range rendered {
		checksums[i] = execrecord.Checksum(f.RawText)
	}
	return combinedChecksumFromFlat(groups, checksums), nil
}

// runRenderedFiles executes every already-rendered file via execrecord,
// scoped to changeID, stopping at the first failed file unless
// opts.ContinueOnError is set (§4.1 Run step 3, mirroring pkg/build.runPaths).
func (e *Engine) runRenderedFiles(ctx context.Context, changeID *int64, files []execrecord.File, opts Options) ([]string, error) {
	checksums := make([]string, 0, len(files))
	var firstErr error

	for _, f := range files {
		rec, err := execrecord.Run(ctx, e.Conn, e.Template, e.TmplCtx, f,
			internaltables.LastSuccessfulChecksum(e.Conn, changeID),
			internaltables.RecordExecution(e.Conn, changeID, fileTypeOf(f.Path)),
			execrecord.Options{Force: opts.Force})
		checksums = append(checksums, rec.Checksum)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if !opts.ContinueOnError {
				break
			}
		}
	}

	return checksums, firstErr
}

func fileTypeOf(path string) string {
	if strings.HasSuffix(path, ".txt") {
		return "txt"
	}
	return "sql"
}

// reverseChangeFiles returns files in (sequence, filename) descending
// order, for Revert (§4.1 Revert: "reading revert/ in reverse numeric
// order").
func reverseChangeFiles(files []ChangeFile) []ChangeFile {
	out := make([]ChangeFile, len(files))
	for i, f := range files {
		out[len(files)-1-i] = f
	}
	return out
}

// sortedForApply orders changes purely by name, the canonical apply order
// invariant (§3.3: "the lexicographic order of name defines canonical
// apply order"), as distinct from Discover's (date, name) display order.
func sortedForApply(changes []Change) []Change {
	out := append([]Change(nil), changes...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
