// SPDX-License-Identifier: Apache-2.0

package version

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/noormdev/noorm/pkg/db"
)

// SchemaLayerVersion is the current expected version of the __noorm_*
// internal tables.
const SchemaLayerVersion = 1

// versionTableName is the internal table recording per-layer applied
// versions (§3.2 version).
const versionTableName = "__noorm_version__"

// SchemaTarget is the T used by the schema layer's Migration.Apply: a
// connection plus the context each migration runs under.
type SchemaTarget struct {
	Ctx  context.Context
	Conn db.Conn
}

// NewSchemaLayer returns the schema layer's version.Layer, bootstrapping
// the __noorm_* tables (version, change, executions, lock, identities) at
// v1 and leaving room for future migrations at higher versions.
func NewSchemaLayer() *Layer[SchemaTarget] {
	return New("schema", SchemaLayerVersion, []Migration[SchemaTarget]{
		{Version: 1, Apply: applySchemaV1},
	})
}

// CurrentSchemaVersion reads the highest applied version row for "schema"
// from __noorm_version__, bootstrapping the table itself (via CREATE TABLE
// IF NOT EXISTS semantics per-dialect) if it does not exist yet.
func CurrentSchemaVersion(ctx context.Context, conn db.Conn) (int, error) {
	if err := ensureVersionTable(ctx, conn); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(
		"SELECT MAX(version) FROM %s WHERE layer = '%s'",
		conn.QuoteIdentifier(versionTableName), "schema",
	)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var v *int
	if rows.Next() {
		if err := rows.Scan(&v); err != nil {
			return 0, err
		}
	}
	if v == nil {
		return 0, rows.Err()
	}
	return *v, rows.Err()
}

// RecordSchemaVersion inserts a version row for the schema layer, tagged
// with the applying identity and the CLI's own version string (§3.2
// version fields).
func RecordSchemaVersion(ctx context.Context, conn db.Conn, layer string, v int, appliedBy, cliVersion string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (layer, version, applied_at, applied_by, cli_version) VALUES (?, ?, %s, ?, ?)",
		conn.QuoteIdentifier(versionTableName), nowExpr(conn),
	)
	_, err := conn.ExecContext(ctx, rebindPlaceholders(conn, query), layer, v, appliedBy, cliVersion)
	return err
}

// rebindPlaceholders rewrites "?" placeholders into the dialect's native
// parameter style (the lock manager's pkg/lock.rebind does the same; this
// package needs its own copy since the two packages share no common
// internal SQL helper and the duplication is small).
func rebindPlaceholders(conn db.Conn, query string) string {
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

func ensureVersionTable(ctx context.Context, conn db.Conn) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		layer VARCHAR(64) NOT NULL,
		version INTEGER NOT NULL,
		applied_at %s NOT NULL,
		applied_by VARCHAR(255) NOT NULL,
		cli_version VARCHAR(64) NOT NULL
	)`, conn.QuoteIdentifier(versionTableName), timestampType(conn))
	_, err := conn.ExecContext(ctx, ddl)
	return err
}

func timestampType(conn db.Conn) string {
	switch conn.Dialect() {
	case db.MSSQL:
		return "DATETIME2"
	case db.SQLite:
		return "DATETIME"
	default:
		return "TIMESTAMP"
	}
}

func applySchemaV1(t SchemaTarget) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s,
			name VARCHAR(255) NOT NULL,
			direction VARCHAR(16) NOT NULL,
			status VARCHAR(16) NOT NULL,
			executed_at %s NOT NULL,
			executed_by VARCHAR(255) NOT NULL,
			duration_ms INTEGER NOT NULL,
			error_message TEXT,
			checksum VARCHAR(64) NOT NULL
		)`, t.Conn.QuoteIdentifier("__noorm_change__"), autoIncrementType(t.Conn), timestampType(t.Conn)),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s,
			change_id INTEGER,
			filepath VARCHAR(1024) NOT NULL,
			file_type VARCHAR(16) NOT NULL,
			checksum VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			skip_reason VARCHAR(32),
			error_message TEXT,
			duration_ms INTEGER NOT NULL
		)`, t.Conn.QuoteIdentifier("__noorm_executions__"), autoIncrementType(t.Conn)),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			config_name VARCHAR(255) NOT NULL UNIQUE,
			locked_by VARCHAR(255) NOT NULL,
			locked_at %s NOT NULL,
			expires_at %s NOT NULL
		)`, t.Conn.QuoteIdentifier("__noorm_lock__"), timestampType(t.Conn), timestampType(t.Conn)),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			identity_hash VARCHAR(64) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL,
			machine VARCHAR(255) NOT NULL,
			first_seen %s NOT NULL,
			last_seen %s NOT NULL
		)`, t.Conn.QuoteIdentifier("__noorm_identities__"), timestampType(t.Conn), timestampType(t.Conn)),
	}

	for _, stmt := range statements {
		if _, err := t.Conn.ExecContext(t.Ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func autoIncrementType(conn db.Conn) string {
	switch conn.Dialect() {
	case db.Postgres:
		return "SERIAL PRIMARY KEY"
	case db.MySQL:
		return "INTEGER AUTO_INCREMENT PRIMARY KEY"
	case db.MSSQL:
		return "INTEGER IDENTITY(1,1) PRIMARY KEY"
	default: // sqlite
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}
