// SPDX-License-Identifier: Apache-2.0

// Package version implements the generic three-layer version manager
// (§4.5): one Layer[T] driver type shared by the schema layer (DDL against
// a db.Conn), the state layer (pure transforms of the decrypted JSON
// object), and the settings layer (pure transforms of the parsed YAML
// object).
package version

import (
	"fmt"

	"github.com/noormdev/noorm/internal/noormerr"
)

// Migration applies one version step to a T.
type Migration[T any] struct {
	Version int
	Apply   func(T) error
}

// Layer drives one versioned artifact of type T: its current on-disk
// version, the version this binary expects, and the migrations needed to
// get from one to the other.
type Layer[T any] struct {
	Name       string
	Expected   int
	Migrations []Migration[T]
}

// New returns a layer with the given name, expected version, and ordered
// migrations (ascending by Version; order is not re-sorted, callers are
// expected to list them in order as pgroll's own migration lists do).
func New[T any](name string, expected int, migrations []Migration[T]) *Layer[T] {
	return &Layer[T]{Name: name, Expected: expected, Migrations: migrations}
}

// Reconcile brings target from currentVersion up to l.Expected by applying
// every pending migration in order, returning the new version. If
// currentVersion > l.Expected, the on-disk artifact is newer than this
// binary understands and Reconcile refuses to operate (§4.5 Policy). A
// migration failure aborts with the version left at its last successful
// step.
func (l *Layer[T]) Reconcile(currentVersion int, target T) (int, error) {
	if currentVersion > l.Expected {
		return currentVersion, fmt.Errorf("%w: %s is at v%d, this binary expects v%d", noormerr.ErrVersionMismatch, l.Name, currentVersion, l.Expected)
	}

	version := currentVersion
	for _, m := range l.Migrations {
		if m.Version <= version {
			continue
		}
		if m.Version > l.Expected {
			break
		}
		if err := m.Apply(target); err != nil {
			return version, &noormerr.MigrationFailureError{Layer: l.Name, Version: m.Version, Err: err}
		}
		version = m.Version
	}

	return version, nil
}

// Pending returns the versions that Reconcile would apply, without running
// them.
func (l *Layer[T]) Pending(currentVersion int) []int {
	var out []int
	for _, m := range l.Migrations {
		if m.Version > currentVersion && m.Version <= l.Expected {
			out = append(out, m.Version)
		}
	}
	return out
}
