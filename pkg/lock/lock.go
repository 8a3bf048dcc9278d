// SPDX-License-Identifier: Apache-2.0

// Package lock implements the cooperative database lock manager (§4.4): a
// single-row-per-config lock table, acquired with insert-or-read plus a
// compare-and-swap takeover on expiry, backed by the connection factory's
// retry idiom the way pgroll's own pkg/state holds its migration lock.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudflare/backoff"

	"github.com/noormdev/noorm/internal/noormerr"
	"github.com/noormdev/noorm/pkg/db"
)

// DefaultTTL is the lock duration granted by Acquire when opts.TTL is zero
// (§4.4: "Default opts.ttl is 30 minutes").
const DefaultTTL = 30 * time.Minute

const (
	takeoverMaxAttempts = 5
	takeoverBaseBackoff = 50 * time.Millisecond
	takeoverMaxBackoff  = 2 * time.Second
)

// Row mirrors one row of the __noorm_lock__ table.
type Row struct {
	ConfigName string
	LockedBy   string
	LockedAt   time.Time
	ExpiresAt  time.Time
}

// State is the derived state of a config's lock, relative to an identity
// (§4.4 States).
type State string

const (
	Free             State = "free"
	HeldByMe         State = "held-by-me"
	HeldByOtherLive  State = "held-by-other (live)"
	HeldByOtherStale State = "held-by-other (expired, reclaimable)"
)

// AcquireOptions configures Acquire.
type AcquireOptions struct {
	TTL time.Duration
}

// Manager implements acquire/release/status/withLock/forceRelease against a
// single connection's __noorm_lock__ table.
type Manager struct {
	conn   db.Conn
	table  string
	nowFn  func() time.Time
}

// New returns a lock manager bound to conn. table defaults to
// "__noorm_lock__" when empty.
func New(conn db.Conn, table string) *Manager {
	if table == "" {
		table = "__noorm_lock__"
	}
	return &Manager{conn: conn, table: table, nowFn: time.Now}
}

// Acquire attempts to take the lock for configName on behalf of identity. It
// inserts a fresh row if none exists; if a live row is held by someone else
// it raises a LockAcquireError; if the existing row is expired it takes it
// over with a compare-and-swap, retrying on contention (§4.4).
func (m *Manager) Acquire(ctx context.Context, configName, identity string, opts AcquireOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := m.nowFn()
	expiresAt := now.Add(ttl)

	inserted, err := m.tryInsert(ctx, configName, identity, now, expiresAt)
	if err != nil {
		return err
	}
	if inserted {
		return nil
	}

	b := backoff.New(takeoverMaxBackoff, takeoverBaseBackoff)
	for attempt := 1; attempt <= takeoverMaxAttempts; attempt++ {
		row, ok, err := m.read(ctx, configName)
		if err != nil {
			return err
		}
		if !ok {
			inserted, err := m.tryInsert(ctx, configName, identity, now, expiresAt)
			if err != nil {
				return err
			}
			if inserted {
				return nil
			}
			continue
		}

		if row.LockedBy == identity {
			return m.update(ctx, configName, identity, now, expiresAt)
		}

		if row.ExpiresAt.After(m.nowFn()) {
			return &noormerr.LockAcquireError{ConfigName: configName, Holder: row.LockedBy, HeldSince: row.LockedAt}
		}

		took, err := m.compareAndSwap(ctx, configName, row.LockedBy, row.ExpiresAt, identity, now, expiresAt)
		if err != nil {
			return err
		}
		if took {
			return nil
		}

		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return sleepErr
		}
	}

	return fmt.Errorf("noorm: lock takeover for %q did not converge after %d attempts", configName, takeoverMaxAttempts)
}

// Release deletes the lock row only if it is held by identity; otherwise it
// raises a LockOwnershipError.
func (m *Manager) Release(ctx context.Context, configName, identity string) error {
	row, ok, err := m.read(ctx, configName)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if row.LockedBy != identity {
		return &noormerr.LockOwnershipError{ConfigName: configName, Holder: row.LockedBy, Requester: identity}
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE config_name = ? AND locked_by = ?", m.conn.QuoteIdentifier(m.table))
	_, err = m.conn.ExecContext(ctx, rebind(m.conn, query), configName, identity)
	return err
}

// ForceRelease unconditionally deletes the lock row, for emergencies.
func (m *Manager) ForceRelease(ctx context.Context, configName string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE config_name = ?", m.conn.QuoteIdentifier(m.table))
	_, err := m.conn.ExecContext(ctx, rebind(m.conn, query), configName)
	return err
}

// Status returns the derived lock state for configName relative to identity.
func (m *Manager) Status(ctx context.Context, configName, identity string) (State, *Row, error) {
	row, ok, err := m.read(ctx, configName)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return Free, nil, nil
	}
	if row.LockedBy == identity && row.ExpiresAt.After(m.nowFn()) {
		return HeldByMe, row, nil
	}
	if row.ExpiresAt.After(m.nowFn()) {
		return HeldByOtherLive, row, nil
	}
	return HeldByOtherStale, row, nil
}

// WithLock acquires the lock, runs fn, and releases the lock even if fn
// returns an error or panics. A panic leaves the lock to expire naturally
// at its TTL rather than attempting unwind-time cleanup (§4.4: "no
// abandoned locks" is enforced by TTL, not by panic recovery).
func (m *Manager) WithLock(ctx context.Context, configName, identity string, opts AcquireOptions, fn func(context.Context) error) error {
	if err := m.Acquire(ctx, configName, identity, opts); err != nil {
		return err
	}
	defer m.Release(ctx, configName, identity) //nolint:errcheck

	return fn(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
