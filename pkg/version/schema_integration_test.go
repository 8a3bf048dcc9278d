//go:build integration

// SPDX-License-Identifier: Apache-2.0

package version_test

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaltestutils "github.com/noormdev/noorm/internal/testutils"
	"github.com/noormdev/noorm/pkg/db"
	"github.com/noormdev/noorm/pkg/testutils"
	"github.com/noormdev/noorm/pkg/version"
)

func TestMain(m *testing.M) {
	testutils.SharedPostgresMain(m)
}

func TestSchemaLayerBootstrapsInternalTablesAgainstRealPostgres(t *testing.T) {
	testutils.WithPostgresConn(t, func(conn db.Conn, _ string) {
		ctx := context.Background()

		current, err := version.CurrentSchemaVersion(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, 0, current)

		layer := version.NewSchemaLayer()
		newVersion, err := layer.Reconcile(current, version.SchemaTarget{Ctx: ctx, Conn: conn})
		require.NoError(t, err)
		assert.Equal(t, version.SchemaLayerVersion, newVersion)

		require.NoError(t, version.RecordSchemaVersion(ctx, conn, "schema", newVersion, "alice <alice@example.com>", "0.1.0"))

		recorded, err := version.CurrentSchemaVersion(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, version.SchemaLayerVersion, recorded)

		tables, err := conn.ListTables(ctx)
		require.NoError(t, err)
		assert.Contains(t, tables, "__noorm_change__")
		assert.Contains(t, tables, "__noorm_executions__")
		assert.Contains(t, tables, "__noorm_lock__")
		assert.Contains(t, tables, "__noorm_identities__")

		// Reconciling again from the recorded version is a no-op: no
		// migration is newer than the current version, so nothing runs and
		// nothing may error against a real server either.
		again, err := layer.Reconcile(recorded, version.SchemaTarget{Ctx: ctx, Conn: conn})
		require.NoError(t, err)
		assert.Equal(t, version.SchemaLayerVersion, again)
	})
}

func TestIdentityHashUniqueConstraintAgainstRealPostgres(t *testing.T) {
	testutils.WithPostgresConn(t, func(conn db.Conn, _ string) {
		ctx := context.Background()

		layer := version.NewSchemaLayer()
		_, err := layer.Reconcile(0, version.SchemaTarget{Ctx: ctx, Conn: conn})
		require.NoError(t, err)

		insert := `INSERT INTO __noorm_identities__ (identity_hash, name, email, machine, first_seen, last_seen)
			VALUES ($1, $2, $3, $4, NOW(), NOW())`

		_, err = conn.ExecContext(ctx, insert, "hash-1", "Alice", "alice@example.com", "laptop-a")
		require.NoError(t, err)

		_, err = conn.ExecContext(ctx, insert, "hash-1", "Alice Again", "alice2@example.com", "laptop-b")
		require.Error(t, err)

		var pqErr *pq.Error
		require.ErrorAs(t, err, &pqErr)
		assert.Equal(t, internaltestutils.UniqueViolationErrorCode, pqErr.Code.Name())
	})
}
