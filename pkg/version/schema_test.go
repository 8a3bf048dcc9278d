// SPDX-License-Identifier: Apache-2.0

package version_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noormdev/noorm/pkg/db"
	"github.com/noormdev/noorm/pkg/version"
)

func TestSchemaLayerBootstrapsInternalTables(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.SQLite, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

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
}
