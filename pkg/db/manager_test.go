// SPDX-License-Identifier: Apache-2.0

package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noormdev/noorm/pkg/db"
)

func TestManagerCachesConnectionsByName(t *testing.T) {
	m := db.NewManager()
	ctx := context.Background()

	c1, err := m.Get(ctx, "primary", db.SQLite, "file::memory:?cache=shared")
	require.NoError(t, err)

	c2, err := m.Get(ctx, "primary", db.SQLite, "file::memory:?cache=shared")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
}

func TestManagerCloseAllClearsCache(t *testing.T) {
	m := db.NewManager()
	ctx := context.Background()

	_, err := m.Get(ctx, "primary", db.SQLite, "file::memory:?cache=shared")
	require.NoError(t, err)

	errs := m.CloseAll()
	assert.Empty(t, errs)

	c2, err := m.Get(ctx, "primary", db.SQLite, "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NotNil(t, c2)
}

func TestManagerEvictRemovesConnection(t *testing.T) {
	m := db.NewManager()
	ctx := context.Background()

	c1, err := m.Get(ctx, "primary", db.SQLite, "file::memory:?cache=shared")
	require.NoError(t, err)
	_ = c1

	require.NoError(t, m.Evict("primary"))
	require.NoError(t, m.Evict("does-not-exist"))
}
