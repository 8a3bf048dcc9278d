// SPDX-License-Identifier: Apache-2.0

// Package testutils provides the shared postgres testcontainer helpers used
// by integration tests across noorm's packages (lock, version),
// grounded on pgroll's own pkg/testutils/util.go: one shared container per
// test binary, a fresh database per test case.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noormdev/noorm/pkg/db"
)

const defaultPostgresVersion = "16.3"

var containerConnStr string

func randomDBName() string {
	const length = 15
	const charset = "abcdefghijklmnopqrstuvwxyz"

	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))] // #nosec G404
	}

	return "testdb_" + string(b)
}

// SharedPostgresMain starts one postgres container for every test in the
// binary's package and tears it down after. Packages with postgres
// integration tests call this from their own TestMain.
func SharedPostgresMain(m *testing.M) {
	ctx := context.Background()

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(30 * time.Second)

	pgVersion := os.Getenv("NOORM_TEST_POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	if err != nil {
		log.Printf("start postgres container: %v", err)
		os.Exit(1)
	}

	containerConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}

	exitCode := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		log.Printf("terminate postgres container: %v", err)
	}
	os.Exit(exitCode)
}

// WithPostgresConn creates a fresh database in the shared container, opens
// it as a db.Conn, and hands it to fn, cleaning up the connection (but not
// the database itself) afterward.
func WithPostgresConn(t *testing.T, fn func(conn db.Conn, dsn string)) {
	t.Helper()
	ctx := context.Background()

	admin, err := sql.Open("postgres", containerConnStr)
	if err != nil {
		t.Fatalf("open admin connection: %v", err)
	}
	defer admin.Close()

	dbName := randomDBName()
	if _, err := admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))); err != nil {
		t.Fatalf("create test database: %v", err)
	}

	u, err := url.Parse(containerConnStr)
	if err != nil {
		t.Fatalf("parse container connection string: %v", err)
	}
	u.Path = "/" + dbName
	dsn := u.String()

	conn, err := db.Open(ctx, db.Postgres, dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	fn(conn, dsn)
}
