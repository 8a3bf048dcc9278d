// SPDX-License-Identifier: Apache-2.0

// Package explore implements schema inspection and the destructive
// reset/truncate/teardown primitives (§GLOSSARY: "Teardown / truncate /
// explore"), thin wrappers over pkg/db's per-dialect capability set, guarded
// by the project lock the same way build and change run/revert are (§5:
// "all destructive operations ... must acquire it").
package explore

import (
	"context"
	"fmt"

	"github.com/noormdev/noorm/internal/noormerr"
	"github.com/noormdev/noorm/pkg/db"
	"github.com/noormdev/noorm/pkg/lock"
)

// Manager wraps one connection's inspection and destructive operations.
type Manager struct {
	Conn       db.Conn
	Lock       *lock.Manager
	ConfigName string
	Identity   string
}

// Tables lists the database's user tables.
func (m *Manager) Tables(ctx context.Context) ([]string, error) {
	return m.Conn.ListTables(ctx)
}

// Views lists the database's views.
func (m *Manager) Views(ctx context.Context) ([]string, error) {
	return m.Conn.ListViews(ctx)
}

// ConfirmOptions carries the caller-resolved confirmation state for a
// destructive operation against a possibly protected config (§7
// ProtectedAction, §6 NOORM_YES).
type ConfirmOptions struct {
	Protected bool
	Phrase    string // must equal noormerr.ConfirmPhrase(configName) unless Force
	Force     bool   // NOORM_YES=1 skips the confirmation phrase entirely
}

func (o ConfirmOptions) check(configName string) error {
	if !o.Protected || o.Force {
		return nil
	}
	if o.Phrase == noormerr.ConfirmPhrase(configName) {
		return nil
	}
	return &noormerr.ProtectedActionError{ConfigName: configName, Required: noormerr.ConfirmPhrase(configName)}
}

// Truncate empties table, guarded by the project lock and, on a protected
// config, by the confirmation phrase.
func (m *Manager) Truncate(ctx context.Context, table string, confirm ConfirmOptions) error {
	if err := confirm.check(m.ConfigName); err != nil {
		return err
	}
	return m.Lock.WithLock(ctx, m.ConfigName, m.Identity, lock.AcquireOptions{}, func(ctx context.Context) error {
		return m.Conn.TruncateTable(ctx, table)
	})
}

// Drop drops table, guarded the same way as Truncate.
func (m *Manager) Drop(ctx context.Context, table string, confirm ConfirmOptions) error {
	if err := confirm.check(m.ConfigName); err != nil {
		return err
	}
	return m.Lock.WithLock(ctx, m.ConfigName, m.Identity, lock.AcquireOptions{}, func(ctx context.Context) error {
		return m.Conn.DropTable(ctx, table)
	})
}

// Teardown drops every user table in the database. Unlike Truncate/Drop it
// is blocked outright on a protected config: no confirmation phrase can
// unblock it (§GLOSSARY Protected config: "blocked outright for a subset
// (e.g., database teardown)").
func (m *Manager) Teardown(ctx context.Context, protected bool) error {
	if protected {
		return &noormerr.ProtectedActionError{ConfigName: m.ConfigName, Required: "teardown cannot be confirmed on a protected config"}
	}

	return m.Lock.WithLock(ctx, m.ConfigName, m.Identity, lock.AcquireOptions{}, func(ctx context.Context) error {
		tables, err := m.Conn.ListTables(ctx)
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}
		for _, t := range tables {
			if err := m.Conn.DropTable(ctx, t); err != nil {
				return fmt.Errorf("drop table %q: %w", t, err)
			}
		}
		return nil
	})
}
