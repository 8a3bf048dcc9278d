// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"
	execRetryMaxBackoff                    = 1 * time.Minute
	execRetryBaseBackoff                   = 1 * time.Second
)

// postgresConn wraps lib/pq, retrying statements that fail with a Postgres
// lock_timeout error (55P03), the way pgroll's own pkg/db.RDB does.
type postgresConn struct{ base }

func openPostgres(dsn string) (Conn, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &postgresConn{base{name: Postgres, sqlDB: sqlDB}}, nil
}

func (c *postgresConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	b := backoff.New(execRetryMaxBackoff, execRetryBaseBackoff)
	for {
		res, err := c.sqlDB.ExecContext(ctx, query, args...)
		if err == nil || !isLockTimeout(err) {
			return res, err
		}
		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

func (c *postgresConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	b := backoff.New(execRetryMaxBackoff, execRetryBaseBackoff)
	for {
		rows, err := c.sqlDB.QueryContext(ctx, query, args...)
		if err == nil || !isLockTimeout(err) {
			return rows, err
		}
		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

func (c *postgresConn) WithRetryableTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	b := backoff.New(execRetryMaxBackoff, execRetryBaseBackoff)
	for {
		tx, err := c.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		err = fn(ctx, tx)
		if err == nil {
			return tx.Commit()
		}

		if rbErr := tx.Rollback(); rbErr != nil {
			return rbErr
		}

		if !isLockTimeout(err) {
			return err
		}
		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return sleepErr
		}
	}
}

func isLockTimeout(err error) bool {
	pqErr := &pq.Error{}
	return errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (c *postgresConn) QuoteIdentifier(name string) string { return pq.QuoteIdentifier(name) }

func (c *postgresConn) ListTables(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, c.sqlDB, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
}

func (c *postgresConn) ListViews(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, c.sqlDB, `
		SELECT table_name FROM information_schema.views
		WHERE table_schema = current_schema()
		ORDER BY table_name`)
}

func (c *postgresConn) TruncateTable(ctx context.Context, name string) error {
	_, err := c.sqlDB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", pq.QuoteIdentifier(name)))
	return err
}

func (c *postgresConn) DropTable(ctx context.Context, name string) error {
	_, err := c.sqlDB.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pq.QuoteIdentifier(name)))
	return err
}

func queryStrings(ctx context.Context, sqlDB *sql.DB, query string) ([]string, error) {
	rows, err := sqlDB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
