// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudflare/backoff"
	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/noormdev/noorm/internal/connstr"
	"github.com/noormdev/noorm/internal/noormerr"
)

const (
	connectMaxAttempts = 4
	connectBaseBackoff = 1 * time.Second
	connectMaxBackoff  = 4 * time.Second
	connectJitter      = 0.10
)

// transientSubstrings lists the error fragments that mark a connection
// attempt as worth retrying (§4.9). Authentication failures and
// missing-driver errors are deliberately excluded: retrying those wastes
// the backoff budget on a failure that will never resolve itself.
var transientSubstrings = []string{
	"econnrefused",
	"connection refused",
	"etimedout",
	"i/o timeout",
	"too many connections",
	"connection reset",
	"no such host",
	"server closed the connection unexpectedly",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Open dynamically resolves the dialect-specific adapter for name, opens a
// connection, and verifies it with SELECT 1, making up to connectMaxAttempts
// attempts (the first try plus three retries of transient failures) with
// jittered exponential backoff (§4.9).
func Open(ctx context.Context, name Name, dsn string) (Conn, error) {
	if !name.valid() {
		return nil, fmt.Errorf("%w: %q", noormerr.ErrMissingDriver, name)
	}

	var lastErr error
	b := backoff.New(connectMaxBackoff, connectBaseBackoff)
	for attempt := 1; attempt <= connectMaxAttempts; attempt++ {
		conn, err := dial(name, dsn)
		if err == nil {
			if err := probe(ctx, conn); err == nil {
				return conn, nil
			} else {
				conn.Close()
				lastErr = err
			}
		} else {
			lastErr = err
		}

		if !isTransient(lastErr) || attempt == connectMaxAttempts {
			break
		}
		if sleepErr := sleepCtx(ctx, jitter(b.Duration())); sleepErr != nil {
			return nil, sleepErr
		}
	}

	if !isTransient(lastErr) {
		return nil, lastErr
	}
	return nil, &noormerr.ConnectionTransientError{Err: lastErr}
}

func dial(name Name, dsn string) (Conn, error) {
	switch name {
	case Postgres:
		return openPostgres(dsn)
	case MySQL:
		return openMySQL(dsn)
	case SQLite:
		return openSQLite(dsn)
	case MSSQL:
		return openMSSQL(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", noormerr.ErrMissingDriver, name)
	}
}

func probe(ctx context.Context, conn Conn) error {
	_, err := conn.QueryContext(ctx, "SELECT 1")
	return err
}

func jitter(d time.Duration) time.Duration {
	return d + time.Duration(float64(d)*connectJitter)
}

// TestConnection verifies that the configured server is reachable without
// necessarily requiring the target database to exist. When testServerOnly
// is set, the DSN's database/schema portion is swapped for the dialect's
// system database (postgres, master) before dialing.
func TestConnection(ctx context.Context, name Name, dsn string, testServerOnly bool) error {
	probeDSN := dsn
	if testServerOnly {
		rewritten, err := systemDatabaseDSN(name, dsn)
		if err != nil {
			return err
		}
		probeDSN = rewritten
	}

	conn, err := Open(ctx, name, probeDSN)
	if err != nil {
		return err
	}
	return conn.Close()
}

func systemDatabaseDSN(name Name, dsn string) (string, error) {
	switch name {
	case Postgres:
		return connstr.WithDatabase(dsn, "postgres")
	case MSSQL:
		return connstr.WithDatabase(dsn, "master")
	case MySQL:
		cfg, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.DBName = ""
		return cfg.FormatDSN(), nil
	default:
		// sqlite has no notion of a system database distinct from the
		// target file; the original DSN is already the right probe target.
		return dsn, nil
	}
}
