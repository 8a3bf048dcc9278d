// SPDX-License-Identifier: Apache-2.0

// Package change implements the change engine (§4.1): discovery of
// changes/ subdirectories, the staleness test that derives whether a change
// needs to run, and the lock-guarded run/revert/next/ff/rewind/history
// operations. It is grounded on pgroll's migration-file discovery and
// ordering (pkg/migrations' directory walk) and on roll.Roll's shape as the
// thing that holds a connection, a lock, and emits to a logger in place of
// pgroll's migrations.Logger.
package change

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/noormdev/noorm/internal/noormerr"
)

// Change is one on-disk change directory (§3.3 Change).
type Change struct {
	Name         string
	Path         string
	Date         *time.Time
	Description  string
	ChangeFiles  []ChangeFile
	RevertFiles  []ChangeFile
	HasChangelog bool
}

// ChangeFile is one file inside a change's change/ or revert/ side
// (§3.3 ChangeFile).
type ChangeFile struct {
	Filename      string
	Path          string
	Sequence      int
	Type          string // sql | txt
	IsTemplate    bool
	ResolvedPaths []string // populated for manifest (.txt) files, relative to sqlRoot
}

var folderNamePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})-(.+)$`)

// maxSortDate sorts date-less folders after every dated folder, per §4.1
// Discovery: "folders without a date are placed after dated ones,
// lexicographically by name".
var maxSortDate = time.Unix(1<<62, 0)

// Discover reads changesDir and returns every change subdirectory, sorted
// by (date ?? max, name) (§4.1 Discovery). sqlRoot is used to resolve any
// .txt manifest references in change/revert files. A missing changesDir
// yields an empty, non-error result.
func Discover(changesDir, sqlRoot string) ([]Change, error) {
	entries, err := os.ReadDir(changesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read changes directory: %w", err)
	}

	var changes []Change
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		c, err := loadChange(changesDir, e.Name(), sqlRoot)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}

	sort.SliceStable(changes, func(i, j int) bool {
		di, dj := sortDate(changes[i]), sortDate(changes[j])
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return changes[i].Name < changes[j].Name
	})

	return changes, nil
}

func sortDate(c Change) time.Time {
	if c.Date != nil {
		return *c.Date
	}
	return maxSortDate
}

func loadChange(changesDir, name, sqlRoot string) (Change, error) {
	dir := filepath.Join(changesDir, name)
	date, desc := parseFolderName(name)

	changeFiles, err := loadChangeFiles(filepath.Join(dir, "change"), sqlRoot)
	if err != nil {
		return Change{}, err
	}
	revertFiles, err := loadChangeFiles(filepath.Join(dir, "revert"), sqlRoot)
	if err != nil {
		return Change{}, err
	}

	_, statErr := os.Stat(filepath.Join(dir, "changelog.md"))

	return Change{
		Name:         name,
		Path:         dir,
		Date:         date,
		Description:  desc,
		ChangeFiles:  changeFiles,
		RevertFiles:  revertFiles,
		HasChangelog: statErr == nil,
	}, nil
}

// parseFolderName splits a changes/ subdirectory name into its optional
// YYYY-MM-DD date and description (§3.1 Changes directory: "YYYY-MM-DD-<slug>").
func parseFolderName(name string) (*time.Time, string) {
	m := folderNamePattern.FindStringSubmatch(name)
	if m == nil {
		return nil, name
	}
	d, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return nil, name
	}
	return &d, m[2]
}

// loadChangeFiles reads one side (change/ or revert/) of a change, sorted
// by (sequence, filename) (§3.3 ChangeFile), resolving any .txt manifests
// against sqlRoot as it goes.
func loadChangeFiles(dir, sqlRoot string) ([]ChangeFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var files []ChangeFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := parseChangeFile(dir, e.Name(), sqlRoot)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Sequence != files[j].Sequence {
			return files[i].Sequence < files[j].Sequence
		}
		return files[i].Filename < files[j].Filename
	})

	return files, nil
}

func parseChangeFile(dir, filename, sqlRoot string) (ChangeFile, error) {
	isTxt := strings.HasSuffix(filename, ".txt")
	fileType := "sql"
	if isTxt {
		fileType = "txt"
	}

	f := ChangeFile{
		Filename:   filename,
		Path:       filepath.Join(dir, filename),
		Sequence:   parseSequence(filename),
		Type:       fileType,
		IsTemplate: strings.HasSuffix(filename, ".tmpl"),
	}

	if isTxt {
		resolved, err := resolveManifest(f.Path, sqlRoot)
		if err != nil {
			return ChangeFile{}, err
		}
		f.ResolvedPaths = resolved
	}

	return f, nil
}

// parseSequence parses the NNN prefix from a change file's name; files with
// no numeric prefix sort first (sequence 0).
func parseSequence(filename string) int {
	prefix, _, found := strings.Cut(filename, "_")
	if !found {
		return 0
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return n
}

// resolveManifest reads a .txt manifest and resolves each referenced line
// against sqlRoot, raising a ManifestReferenceError for any target that
// does not exist on disk (§4.1 Manifest resolution).
func resolveManifest(manifestPath, sqlRoot string) ([]string, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", manifestPath, err)
	}

	var resolved []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		target := filepath.Join(sqlRoot, filepath.FromSlash(line))
		if _, err := os.Stat(target); err != nil {
			return nil, &noormerr.ManifestReferenceError{Manifest: manifestPath, Target: line}
		}
		resolved = append(resolved, target)
	}
	return resolved, nil
}
