// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noormdev/noorm/pkg/db"
)

// rebind rewrites a query written with "?" placeholders into the
// placeholder style of conn's dialect, so the lock manager's hand-written
// parameterized SQL runs unchanged against every dialect.
func rebind(conn db.Conn, query string) string {
	switch conn.Dialect() {
	case db.Postgres:
		var b strings.Builder
		n := 0
		for _, r := range query {
			if r == '?' {
				n++
				b.WriteByte('$')
				b.WriteString(strconv.Itoa(n))
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	case db.MSSQL:
		var b strings.Builder
		n := 0
		for _, r := range query {
			if r == '?' {
				n++
				b.WriteString("@p")
				b.WriteString(strconv.Itoa(n))
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	default:
		return query
	}
}

func (m *Manager) tableName() string {
	return m.conn.QuoteIdentifier(m.table)
}

// tryInsert attempts to insert a fresh lock row, returning (true, nil) on
// success and (false, nil) if a row already exists for configName (detected
// by a unique-constraint violation, dialect-agnostically, rather than a
// dialect-specific ON CONFLICT/ON DUPLICATE clause).
func (m *Manager) tryInsert(ctx context.Context, configName, identity string, lockedAt, expiresAt time.Time) (bool, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (config_name, locked_by, locked_at, expires_at) VALUES (?, ?, ?, ?)",
		m.tableName(),
	)
	_, err := m.conn.ExecContext(ctx, rebind(m.conn, query), configName, identity, lockedAt, expiresAt)
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

func (m *Manager) read(ctx context.Context, configName string) (*Row, bool, error) {
	query := fmt.Sprintf(
		"SELECT config_name, locked_by, locked_at, expires_at FROM %s WHERE config_name = ?",
		m.tableName(),
	)
	rows, err := m.conn.QueryContext(ctx, rebind(m.conn, query), configName)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}

	var row Row
	if err := rows.Scan(&row.ConfigName, &row.LockedBy, &row.LockedAt, &row.ExpiresAt); err != nil {
		return nil, false, err
	}
	return &row, true, rows.Err()
}

func (m *Manager) update(ctx context.Context, configName, identity string, lockedAt, expiresAt time.Time) error {
	query := fmt.Sprintf(
		"UPDATE %s SET locked_by = ?, locked_at = ?, expires_at = ? WHERE config_name = ?",
		m.tableName(),
	)
	_, err := m.conn.ExecContext(ctx, rebind(m.conn, query), identity, lockedAt, expiresAt, configName)
	return err
}

// compareAndSwap takes over an expired lock row, succeeding only if the row
// still shows the expected former holder and expiry at update time (§4.4).
func (m *Manager) compareAndSwap(ctx context.Context, configName, expectedHolder string, expectedExpiry time.Time, newHolder string, lockedAt, expiresAt time.Time) (bool, error) {
	query := fmt.Sprintf(
		"UPDATE %s SET locked_by = ?, locked_at = ?, expires_at = ? WHERE config_name = ? AND locked_by = ? AND expires_at = ?",
		m.tableName(),
	)
	res, err := m.conn.ExecContext(ctx, rebind(m.conn, query), newHolder, lockedAt, expiresAt, configName, expectedHolder, expectedExpiry)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
