// SPDX-License-Identifier: Apache-2.0

// Package db implements the connection factory and per-dialect adapters
// (§4.9): a small capability set that every dialect (postgres, mysql,
// sqlite, mssql) satisfies, so the change engine, schema builder, lock
// manager, and version manager never branch on dialect themselves.
package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Name identifies one of the four supported dialects.
type Name string

const (
	Postgres Name = "postgres"
	MySQL    Name = "mysql"
	SQLite   Name = "sqlite"
	MSSQL    Name = "mssql"
)

func (n Name) valid() bool {
	switch n {
	case Postgres, MySQL, SQLite, MSSQL:
		return true
	default:
		return false
	}
}

// Conn is the capability set every dialect adapter implements. It is the
// only surface the rest of noorm talks to a database through.
type Conn interface {
	Dialect() Name

	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	WithRetryableTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error

	Ping(ctx context.Context) error
	Close() error

	QuoteIdentifier(name string) string
	ListTables(ctx context.Context) ([]string, error)
	ListViews(ctx context.Context) ([]string, error)
	TruncateTable(ctx context.Context, name string) error
	DropTable(ctx context.Context, name string) error
}

// base is embedded by every dialect adapter and provides the
// retry-independent ExecContext/QueryContext/Ping/Close plumbing shared by
// all of them.
type base struct {
	name Name
	sqlDB *sql.DB
}

func (b *base) Dialect() Name { return b.name }

func (b *base) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.sqlDB.ExecContext(ctx, query, args...)
}

func (b *base) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return b.sqlDB.QueryContext(ctx, query, args...)
}

func (b *base) Ping(ctx context.Context) error {
	return b.sqlDB.PingContext(ctx)
}

func (b *base) Close() error {
	return b.sqlDB.Close()
}

func (b *base) WithRetryableTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	tx, err := b.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %s)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// ScanFirstValue scans the single value of the single row of rows into dest.
// It is a no-op (dest left untouched) if rows has no rows.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
