// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

type mssqlConn struct{ base }

func openMSSQL(dsn string) (Conn, error) {
	sqlDB, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}
	return &mssqlConn{base{name: MSSQL, sqlDB: sqlDB}}, nil
}

func (c *mssqlConn) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (c *mssqlConn) ListTables(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, c.sqlDB, `
		SELECT table_name FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		ORDER BY table_name`)
}

func (c *mssqlConn) ListViews(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, c.sqlDB, `
		SELECT table_name FROM information_schema.views ORDER BY table_name`)
}

func (c *mssqlConn) TruncateTable(ctx context.Context, name string) error {
	_, err := c.sqlDB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", c.QuoteIdentifier(name)))
	return err
}

func (c *mssqlConn) DropTable(ctx context.Context, name string) error {
	_, err := c.sqlDB.ExecContext(ctx, fmt.Sprintf("IF OBJECT_ID('%s', 'U') IS NOT NULL DROP TABLE %s", name, c.QuoteIdentifier(name)))
	return err
}
