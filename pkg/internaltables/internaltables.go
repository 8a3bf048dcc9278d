// SPDX-License-Identifier: Apache-2.0

// Package internaltables implements CRUD access to noorm's own __noorm_*
// tables (§3.2): the change and executions tables shared by the schema
// builder and the change engine, and the identities roster used by known-
// user sync. The DDL that creates these tables lives in pkg/version's
// schema layer; this package only ever reads and writes rows.
package internaltables

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noormdev/noorm/pkg/db"
	"github.com/noormdev/noorm/pkg/execrecord"
)

// ChangeRow mirrors one row of __noorm_change__ (§3.2 change).
type ChangeRow struct {
	ID           int64
	Name         string
	Direction    string // apply | revert
	Status       string // running | success | failed
	ExecutedAt   time.Time
	ExecutedBy   string
	DurationMS   int64
	ErrorMessage string
	Checksum     string
}

const (
	changeTable     = "__noorm_change__"
	executionsTable = "__noorm_executions__"
	identitiesTable = "__noorm_identities__"
)

func rebind(conn db.Conn, query string) string {
	switch conn.Dialect() {
	case db.Postgres:
		return renumber(query, func(n int) string { return "$" + strconv.Itoa(n) })
	case db.MSSQL:
		return renumber(query, func(n int) string { return "@p" + strconv.Itoa(n) })
	default:
		return query
	}
}

func renumber(query string, format func(int) string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(format(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nowExpr(conn db.Conn) string {
	switch conn.Dialect() {
	case db.MSSQL:
		return "GETUTCDATE()"
	case db.SQLite:
		return "CURRENT_TIMESTAMP"
	default:
		return "NOW()"
	}
}

// InsertChangeRow writes a new __noorm_change__ row in status=running and
// returns its id (§4.1 step 2).
func InsertChangeRow(ctx context.Context, conn db.Conn, name, direction, executedBy string) (int64, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (name, direction, status, executed_at, executed_by, duration_ms, checksum) VALUES (?, ?, 'running', %s, ?, 0, '')",
		conn.QuoteIdentifier(changeTable), nowExpr(conn),
	)
	res, err := conn.ExecContext(ctx, rebind(conn, query), name, direction, executedBy)
	if err != nil {
		return 0, fmt.Errorf("insert change row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return lookupInsertedID(ctx, conn, name, direction, executedBy)
	}
	return id, nil
}

// lookupInsertedID covers dialects (postgres) whose driver does not
// support LastInsertId on a bare INSERT; it re-reads the row just written
// by (name, direction, executed_by) to recover its id.
func lookupInsertedID(ctx context.Context, conn db.Conn, name, direction, executedBy string) (int64, error) {
	query := fmt.Sprintf(
		"SELECT id FROM %s WHERE name = ? AND direction = ? AND executed_by = ? AND status = 'running' ORDER BY id DESC",
		conn.QuoteIdentifier(changeTable),
	)
	rows, err := conn.QueryContext(ctx, rebind(conn, query), name, direction, executedBy)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, rows.Err()
}

// UpdateChangeRow finalizes a __noorm_change__ row with its outcome
// (§4.1 step 4).
func UpdateChangeRow(ctx context.Context, conn db.Conn, id int64, status string, durationMS int64, errorMessage, checksum string) error {
	query := fmt.Sprintf(
		"UPDATE %s SET status = ?, duration_ms = ?, error_message = ?, checksum = ? WHERE id = ?",
		conn.QuoteIdentifier(changeTable),
	)
	_, err := conn.ExecContext(ctx, rebind(conn, query), status, durationMS, errorMessage, checksum, id)
	return err
}

// LastChangeRow returns the most recent __noorm_change__ row for name, used
// to derive a change's status (§3.3 Status of a change).
func LastChangeRow(ctx context.Context, conn db.Conn, name string) (*ChangeRow, bool, error) {
	query := fmt.Sprintf(
		"SELECT id, name, direction, status, executed_at, executed_by, duration_ms, error_message, checksum FROM %s WHERE name = ? ORDER BY id DESC",
		conn.QuoteIdentifier(changeTable),
	)
	rows, err := conn.QueryContext(ctx, rebind(conn, query), name)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	var row ChangeRow
	if err := rows.Scan(&row.ID, &row.Name, &row.Direction, &row.Status, &row.ExecutedAt, &row.ExecutedBy, &row.DurationMS, &row.ErrorMessage, &row.Checksum); err != nil {
		return nil, false, err
	}
	return &row, true, rows.Err()
}

// AllChangeRows returns every __noorm_change__ row for name, most recent
// first, for history inspection.
func AllChangeRows(ctx context.Context, conn db.Conn, name string) ([]ChangeRow, error) {
	query := fmt.Sprintf(
		"SELECT id, name, direction, status, executed_at, executed_by, duration_ms, error_message, checksum FROM %s WHERE name = ? ORDER BY id DESC",
		conn.QuoteIdentifier(changeTable),
	)
	rows, err := conn.QueryContext(ctx, rebind(conn, query), name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChangeRow
	for rows.Next() {
		var row ChangeRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Direction, &row.Status, &row.ExecutedAt, &row.ExecutedBy, &row.DurationMS, &row.ErrorMessage, &row.Checksum); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DistinctChangeNames returns every change name with at least one recorded
// row, used for orphan detection (§4.1 Orphans).
func DistinctChangeNames(ctx context.Context, conn db.Conn) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT name FROM %s ORDER BY name", conn.QuoteIdentifier(changeTable))
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// DeleteChangeHistory removes every row recorded for name, used by the
// history-delete path for orphaned changes (§4.1 Orphans).
func DeleteChangeHistory(ctx context.Context, conn db.Conn, name string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE name = ?", conn.QuoteIdentifier(changeTable))
	_, err := conn.ExecContext(ctx, rebind(conn, query), name)
	return err
}

// LastSuccessfulChecksum implements execrecord.Lookup against
// __noorm_executions__, scoped to changeID (nil for builder rows).
func LastSuccessfulChecksum(conn db.Conn, changeID *int64) execrecord.Lookup {
	return func(ctx context.Context, filepath string) (string, bool, error) {
		var query string
		var rows *sql.Rows
		var err error

		if changeID == nil {
			query = fmt.Sprintf(
				"SELECT checksum FROM %s WHERE filepath = ? AND change_id IS NULL AND status = 'success' ORDER BY id DESC",
				conn.QuoteIdentifier(executionsTable),
			)
			rows, err = conn.QueryContext(ctx, rebind(conn, query), filepath)
		} else {
			query = fmt.Sprintf(
				"SELECT checksum FROM %s WHERE filepath = ? AND change_id = ? AND status = 'success' ORDER BY id DESC",
				conn.QuoteIdentifier(executionsTable),
			)
			rows, err = conn.QueryContext(ctx, rebind(conn, query), filepath, *changeID)
		}
		if err != nil {
			return "", false, err
		}
		defer rows.Close()

		if !rows.Next() {
			return "", false, rows.Err()
		}
		var checksum string
		if err := rows.Scan(&checksum); err != nil {
			return "", false, err
		}
		return checksum, true, rows.Err()
	}
}

// RecordExecution implements execrecord.Recorder against
// __noorm_executions__, scoped to changeID (nil for builder rows).
func RecordExecution(conn db.Conn, changeID *int64, fileType string) execrecord.Recorder {
	return func(ctx context.Context, rec execrecord.Record) error {
		query := fmt.Sprintf(
			"INSERT INTO %s (change_id, filepath, file_type, checksum, status, skip_reason, error_message, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			conn.QuoteIdentifier(executionsTable),
		)
		_, err := conn.ExecContext(ctx, rebind(conn, query), changeID, rec.FilePath, fileType, rec.Checksum, string(rec.Status), string(rec.SkipReason), rec.ErrorMsg, rec.DurationMS)
		return err
	}
}

// UpsertIdentity records a sighting of identityHash in __noorm_identities__
// (insert, or update last_seen/name/email/machine if already present).
func UpsertIdentity(ctx context.Context, conn db.Conn, identityHash, name, email, machine string) error {
	query := fmt.Sprintf(
		"SELECT identity_hash FROM %s WHERE identity_hash = ?",
		conn.QuoteIdentifier(identitiesTable),
	)
	rows, err := conn.QueryContext(ctx, rebind(conn, query), identityHash)
	if err != nil {
		return err
	}
	exists := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if exists {
		update := fmt.Sprintf(
			"UPDATE %s SET name = ?, email = ?, machine = ?, last_seen = %s WHERE identity_hash = ?",
			conn.QuoteIdentifier(identitiesTable), nowExpr(conn),
		)
		_, err := conn.ExecContext(ctx, rebind(conn, update), name, email, machine, identityHash)
		return err
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (identity_hash, name, email, machine, first_seen, last_seen) VALUES (?, ?, ?, ?, %s, %s)",
		conn.QuoteIdentifier(identitiesTable), nowExpr(conn), nowExpr(conn),
	)
	_, err = conn.ExecContext(ctx, rebind(conn, insert), identityHash, name, email, machine)
	return err
}

// ListIdentities returns every known collaborator recorded in
// __noorm_identities__, for known-user sync (§4.7).
func ListIdentities(ctx context.Context, conn db.Conn) ([]IdentityRow, error) {
	query := fmt.Sprintf(
		"SELECT identity_hash, name, email, machine, first_seen, last_seen FROM %s ORDER BY identity_hash",
		conn.QuoteIdentifier(identitiesTable),
	)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IdentityRow
	for rows.Next() {
		var row IdentityRow
		if err := rows.Scan(&row.IdentityHash, &row.Name, &row.Email, &row.Machine, &row.FirstSeen, &row.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// IdentityRow mirrors one row of __noorm_identities__.
type IdentityRow struct {
	IdentityHash string
	Name         string
	Email        string
	Machine      string
	FirstSeen    time.Time
	LastSeen     time.Time
}
