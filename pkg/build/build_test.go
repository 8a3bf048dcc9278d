// SPDX-License-Identifier: Apache-2.0

package build_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noormdev/noorm/pkg/build"
	"github.com/noormdev/noorm/pkg/db"
	"github.com/noormdev/noorm/pkg/settings"
	"github.com/noormdev/noorm/pkg/template"
)

func newRunner(t *testing.T, sqlDir string) *build.Runner {
	t.Helper()
	conn, err := db.Open(context.Background(), db.SQLite, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &build.Runner{
		Conn:    conn,
		Engine:  template.New(template.DataLoaders{Root: sqlDir}),
		TmplCtx: template.Context{Config: map[string]any{"role": "app"}},
		SQLRoot: sqlDir,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunFileExecutesAndRecordsSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tables", "widgets.sql")
	writeFile(t, path, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")

	r := newRunner(t, dir)
	rec, err := r.RunFile(context.Background(), path, build.Options{})
	require.NoError(t, err)
	assert.Equal(t, "success", string(rec.Status))
}

func TestRunFileSkipsUnchangedOnSecondRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tables", "widgets.sql")
	writeFile(t, path, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)")

	r := newRunner(t, dir)
	_, err := r.RunFile(context.Background(), path, build.Options{})
	require.NoError(t, err)

	rec, err := r.RunFile(context.Background(), path, build.Options{})
	require.NoError(t, err)
	assert.Equal(t, "skipped", string(rec.Status))
}

func TestRunDirRunsFilesInPathOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_first.sql"), "CREATE TABLE a (id INTEGER PRIMARY KEY)")
	writeFile(t, filepath.Join(dir, "tables", "b_second.sql"), "CREATE TABLE b (id INTEGER PRIMARY KEY)")

	r := newRunner(t, dir)
	result, err := r.RunDir(context.Background(), dir, build.Options{})
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Equal(t, build.BatchSuccess, result.Status)
}

func TestRunBuildHonorsRuleEvaluatorExclusion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tables", "accounts.sql"), "CREATE TABLE accounts (id INTEGER PRIMARY KEY)")
	writeFile(t, filepath.Join(dir, "tables", "scratch", "tmp.sql"), "CREATE TABLE tmp (id INTEGER PRIMARY KEY)")

	r := newRunner(t, dir)
	s := &settings.Settings{
		Rules: []settings.Rule{
			{
				Match:  settings.Match{Stage: "prod"},
				Effect: settings.Effect{Exclude: []string{"tables/scratch"}},
			},
		},
	}

	result, err := r.RunBuild(context.Background(), dir, s, settings.ConfigView{Name: "prod-main", Stage: "prod"}, build.Options{})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "tables/accounts.sql", result.Records[0].FilePath)
}

func TestRunDirStopsOnFirstFailureByDefault(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_broken.sql"), "NOT VALID SQL;;;")
	writeFile(t, filepath.Join(dir, "b_ok.sql"), "CREATE TABLE ok (id INTEGER PRIMARY KEY)")

	r := newRunner(t, dir)
	result, err := r.RunDir(context.Background(), dir, build.Options{})
	require.Error(t, err)
	assert.Equal(t, build.BatchFailed, result.Status)
	assert.Len(t, result.Records, 1)
}

func TestRunDirContinuesPastFailureWhenContinueOnError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_broken.sql"), "NOT VALID SQL;;;")
	writeFile(t, filepath.Join(dir, "b_ok.sql"), "CREATE TABLE ok (id INTEGER PRIMARY KEY)")

	r := newRunner(t, dir)
	result, err := r.RunDir(context.Background(), dir, build.Options{ContinueOnError: true})
	require.Error(t, err)
	assert.Equal(t, build.BatchPartial, result.Status)
	assert.Len(t, result.Records, 2)
}
