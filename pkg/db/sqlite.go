// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteConn struct{ base }

func openSQLite(dsn string) (Conn, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}
	// noorm targets single-process-per-connection sqlite databases; a
	// single underlying connection avoids "database is locked" churn
	// under the sequential execution model of §5.
	sqlDB.SetMaxOpenConns(1)
	return &sqliteConn{base{name: SQLite, sqlDB: sqlDB}}, nil
}

func (c *sqliteConn) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (c *sqliteConn) ListTables(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, c.sqlDB, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
}

func (c *sqliteConn) ListViews(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, c.sqlDB, `
		SELECT name FROM sqlite_master WHERE type = 'view' ORDER BY name`)
}

func (c *sqliteConn) TruncateTable(ctx context.Context, name string) error {
	_, err := c.sqlDB.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", c.QuoteIdentifier(name)))
	return err
}

func (c *sqliteConn) DropTable(ctx context.Context, name string) error {
	_, err := c.sqlDB.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", c.QuoteIdentifier(name)))
	return err
}
