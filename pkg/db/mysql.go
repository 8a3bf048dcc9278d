// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
)

type mysqlConn struct{ base }

func openMySQL(dsn string) (Conn, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.MultiStatements = true
	sqlDB, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	return &mysqlConn{base{name: MySQL, sqlDB: sqlDB}}, nil
}

func (c *mysqlConn) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (c *mysqlConn) ListTables(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, c.sqlDB, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = database() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
}

func (c *mysqlConn) ListViews(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, c.sqlDB, `
		SELECT table_name FROM information_schema.views
		WHERE table_schema = database()
		ORDER BY table_name`)
}

func (c *mysqlConn) TruncateTable(ctx context.Context, name string) error {
	_, err := c.sqlDB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", c.QuoteIdentifier(name)))
	return err
}

func (c *mysqlConn) DropTable(ctx context.Context, name string) error {
	_, err := c.sqlDB.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", c.QuoteIdentifier(name)))
	return err
}
