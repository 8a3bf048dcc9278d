// SPDX-License-Identifier: Apache-2.0

package change_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noormdev/noorm/internal/noormerr"
	"github.com/noormdev/noorm/pkg/change"
	"github.com/noormdev/noorm/pkg/db"
	"github.com/noormdev/noorm/pkg/lock"
	"github.com/noormdev/noorm/pkg/template"
	"github.com/noormdev/noorm/pkg/version"
)

func newTestEngine(t *testing.T, root string) *change.Engine {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.SQLite, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	layer := version.NewSchemaLayer()
	_, err = layer.Reconcile(0, version.SchemaTarget{Ctx: ctx, Conn: conn})
	require.NoError(t, err)

	changesDir := filepath.Join(root, "changes")
	sqlDir := filepath.Join(root, "sql")
	require.NoError(t, os.MkdirAll(sqlDir, 0o755))

	return &change.Engine{
		Conn:       conn,
		Lock:       lock.New(conn, ""),
		Template:   template.New(template.DataLoaders{Root: sqlDir}),
		TmplCtx:    template.Context{},
		ChangesDir: changesDir,
		SQLRoot:    sqlDir,
		ConfigName: "test",
		Identity:   "alice <alice@example.com>",
	}
}

func writeChangeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newChange(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, "changes", name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func TestRunAppliesForwardFilesInOrder(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dir := newChange(t, root, "2026-01-01-widgets")

	writeChangeFile(t, filepath.Join(dir, "change", "001_create.sql"), "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(dir, "change", "002_seed.sql"), "INSERT INTO widgets (id) VALUES (1)")

	ctx := context.Background()
	require.NoError(t, e.Run(ctx, "2026-01-01-widgets", change.Options{}))

	entries, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, change.StatusSuccess, entries[0].Status)
	assert.False(t, entries[0].NeedsRun)
}

func TestRunTwiceIsSkippedWhenUnchanged(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dir := newChange(t, root, "2026-01-01-widgets")
	writeChangeFile(t, filepath.Join(dir, "change", "001_create.sql"), "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")

	ctx := context.Background()
	require.NoError(t, e.Run(ctx, "2026-01-01-widgets", change.Options{}))
	require.NoError(t, e.Run(ctx, "2026-01-01-widgets", change.Options{}))

	entries, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].NeedsRun)
}

func TestRunMissingChangeFilesRaisesValidationError(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	newChange(t, root, "2026-01-01-empty")

	err := e.Run(context.Background(), "2026-01-01-empty", change.Options{})
	require.Error(t, err)
	var valErr *noormerr.ChangeValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestRevertWithoutRevertFilesRejectedAfterApply(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dir := newChange(t, root, "2026-01-01-widgets")
	writeChangeFile(t, filepath.Join(dir, "change", "001_create.sql"), "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")

	ctx := context.Background()
	require.NoError(t, e.Run(ctx, "2026-01-01-widgets", change.Options{}))

	err := e.Revert(ctx, "2026-01-01-widgets", change.Options{})
	require.Error(t, err)
	var valErr *noormerr.ChangeValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestRevertWithoutRevertFilesAllowedWhenNeverApplied(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dir := newChange(t, root, "2026-01-01-widgets")
	writeChangeFile(t, filepath.Join(dir, "change", "001_create.sql"), "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")

	err := e.Revert(context.Background(), "2026-01-01-widgets", change.Options{})
	assert.NoError(t, err)
}

func TestRevertMarksChangeReverted(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dir := newChange(t, root, "2026-01-01-widgets")
	writeChangeFile(t, filepath.Join(dir, "change", "001_create.sql"), "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(dir, "revert", "001_drop.sql"), "DROP TABLE widgets")

	ctx := context.Background()
	require.NoError(t, e.Run(ctx, "2026-01-01-widgets", change.Options{}))
	require.NoError(t, e.Revert(ctx, "2026-01-01-widgets", change.Options{}))

	entries, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, change.StatusReverted, entries[0].Status)
}

func TestNextAppliesSingleLexicographicallyFirstPendingChange(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dirB := newChange(t, root, "2026-01-02-second")
	dirA := newChange(t, root, "2026-01-01-first")
	writeChangeFile(t, filepath.Join(dirA, "change", "001.sql"), "CREATE TABLE a (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(dirB, "change", "001.sql"), "CREATE TABLE b (id INTEGER PRIMARY KEY)")

	ctx := context.Background()
	name, err := e.Next(ctx, change.Options{})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01-first", name)

	name, err = e.Next(ctx, change.Options{})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02-second", name)

	_, err = e.Next(ctx, change.Options{})
	assert.True(t, errors.Is(err, noormerr.ErrNothingToDo))
}

func TestFFAppliesAllPendingInOrder(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dirA := newChange(t, root, "2026-01-01-first")
	dirB := newChange(t, root, "2026-01-02-second")
	writeChangeFile(t, filepath.Join(dirA, "change", "001.sql"), "CREATE TABLE a (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(dirB, "change", "001.sql"), "CREATE TABLE b (id INTEGER PRIMARY KEY)")

	ctx := context.Background()
	ran, err := e.FF(ctx, change.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-01-first", "2026-01-02-second"}, ran)

	entries, err := e.List(ctx)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.Equal(t, change.StatusSuccess, entry.Status)
	}
}

func TestFFStopsOnFirstFailureByDefault(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dirA := newChange(t, root, "2026-01-01-broken")
	dirB := newChange(t, root, "2026-01-02-ok")
	writeChangeFile(t, filepath.Join(dirA, "change", "001.sql"), "NOT VALID SQL;;;")
	writeChangeFile(t, filepath.Join(dirB, "change", "001.sql"), "CREATE TABLE b (id INTEGER PRIMARY KEY)")

	ctx := context.Background()
	ran, err := e.FF(ctx, change.Options{})
	require.Error(t, err)
	assert.Equal(t, []string{"2026-01-01-broken"}, ran)
}

func TestFFContinuesPastFailureWhenContinueOnError(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dirA := newChange(t, root, "2026-01-01-broken")
	dirB := newChange(t, root, "2026-01-02-ok")
	writeChangeFile(t, filepath.Join(dirA, "change", "001.sql"), "NOT VALID SQL;;;")
	writeChangeFile(t, filepath.Join(dirB, "change", "001.sql"), "CREATE TABLE b (id INTEGER PRIMARY KEY)")

	ctx := context.Background()
	ran, err := e.FF(ctx, change.Options{ContinueOnError: true})
	require.Error(t, err)
	assert.Equal(t, []string{"2026-01-01-broken", "2026-01-02-ok"}, ran)
}

func TestRewindByCountRevertsMostRecentlyAppliedFirst(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dirA := newChange(t, root, "2026-01-01-first")
	dirB := newChange(t, root, "2026-01-02-second")
	writeChangeFile(t, filepath.Join(dirA, "change", "001.sql"), "CREATE TABLE a (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(dirA, "revert", "001.sql"), "DROP TABLE a")
	writeChangeFile(t, filepath.Join(dirB, "change", "001.sql"), "CREATE TABLE b (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(dirB, "revert", "001.sql"), "DROP TABLE b")

	ctx := context.Background()
	_, err := e.FF(ctx, change.Options{})
	require.NoError(t, err)

	reverted, err := e.Rewind(ctx, change.RewindTarget{Count: 1}, change.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-02-second"}, reverted)
}

func TestRewindForbiddenWhenTargetHasNoRevertFiles(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dir := newChange(t, root, "2026-01-01-widgets")
	writeChangeFile(t, filepath.Join(dir, "change", "001.sql"), "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")

	ctx := context.Background()
	require.NoError(t, e.Run(ctx, "2026-01-01-widgets", change.Options{}))

	_, err := e.Rewind(ctx, change.RewindTarget{Count: 1}, change.Options{})
	require.Error(t, err)
}

func TestListReportsOrphanedChange(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dir := newChange(t, root, "2026-01-01-widgets")
	writeChangeFile(t, filepath.Join(dir, "change", "001.sql"), "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")

	ctx := context.Background()
	require.NoError(t, e.Run(ctx, "2026-01-01-widgets", change.Options{}))

	require.NoError(t, os.RemoveAll(dir))

	entries, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Orphaned)
}

func TestManifestAppliesReferencedFilesAndSkipsWhenUnchanged(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dir := newChange(t, root, "2026-01-01-multi")

	writeChangeFile(t, filepath.Join(root, "sql", "tables", "a.sql"), "CREATE TABLE a (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(root, "sql", "tables", "b.sql"), "CREATE TABLE b (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(dir, "change", "001_manifest.txt"), "tables/a.sql\ntables/b.sql\n")

	ctx := context.Background()
	require.NoError(t, e.Run(ctx, "2026-01-01-multi", change.Options{}))

	entries, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, change.StatusSuccess, entries[0].Status)
	assert.False(t, entries[0].NeedsRun)
}

func TestManifestRerunsWhenReferencedFileContentChanges(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dir := newChange(t, root, "2026-01-01-multi")

	writeChangeFile(t, filepath.Join(root, "sql", "tables", "a.sql"), "CREATE TABLE a (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(root, "sql", "tables", "b.sql"), "CREATE TABLE b (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(dir, "change", "001_manifest.txt"), "tables/a.sql\ntables/b.sql\n")

	ctx := context.Background()
	require.NoError(t, e.Run(ctx, "2026-01-01-multi", change.Options{}))

	// editing one of the manifest's referenced files, without touching the
	// manifest itself, must still change the change's combined checksum.
	writeChangeFile(t, filepath.Join(root, "sql", "tables", "b.sql"), "CREATE TABLE b (id INTEGER PRIMARY KEY, name TEXT)")

	entries, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].NeedsRun)
}

func TestHistoryReturnsMostRecentFirst(t *testing.T) {
	root := t.TempDir()
	e := newTestEngine(t, root)
	dirA := newChange(t, root, "2026-01-01-first")
	dirB := newChange(t, root, "2026-01-02-second")
	writeChangeFile(t, filepath.Join(dirA, "change", "001.sql"), "CREATE TABLE a (id INTEGER PRIMARY KEY)")
	writeChangeFile(t, filepath.Join(dirB, "change", "001.sql"), "CREATE TABLE b (id INTEGER PRIMARY KEY)")

	ctx := context.Background()
	_, err := e.FF(ctx, change.Options{})
	require.NoError(t, err)

	history, err := e.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-01-02-second", history[0].Row.Name)
}
