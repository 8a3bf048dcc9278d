// SPDX-License-Identifier: Apache-2.0

package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noormdev/noorm/internal/noormerr"
	"github.com/noormdev/noorm/pkg/identity"
)

func TestProvisionThenLoadRoundTrip(t *testing.T) {
	home := &identity.Home{Dir: t.TempDir()}
	require.False(t, home.Exists())

	provisioned, _, err := home.Provision("Ada Lovelace", "ada@example.com", "laptop")
	require.NoError(t, err)
	require.True(t, home.Exists())

	loaded, _, err := home.Load()
	require.NoError(t, err)
	assert.Equal(t, provisioned.IdentityHash, loaded.IdentityHash)
	assert.Equal(t, "Ada Lovelace", loaded.Name)
	assert.Equal(t, identity.SourceState, loaded.Source)
}

func TestLoadRejectsTamperedIdentityHash(t *testing.T) {
	home := &identity.Home{Dir: t.TempDir()}
	_, _, err := home.Provision("Ada Lovelace", "ada@example.com", "laptop")
	require.NoError(t, err)

	metaPath := filepath.Join(home.Dir, "identity.json")
	raw, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	tampered := []byte(`{"name":"Ada Lovelace","email":"ada@example.com","machine":"laptop","identityHash":"0000000000000000000000000000000000000000000000000000000000000000"}`)
	require.NotEqual(t, string(raw), string(tampered))
	require.NoError(t, os.WriteFile(metaPath, tampered, 0o644))

	_, _, err = home.Load()
	require.Error(t, err)
	var verifyErr *noormerr.IdentityVerificationError
	require.ErrorAs(t, err, &verifyErr)
}

func TestLoadRejectsMismatchedKeyPair(t *testing.T) {
	home := &identity.Home{Dir: t.TempDir()}
	_, _, err := home.Provision("Ada Lovelace", "ada@example.com", "laptop")
	require.NoError(t, err)

	other := &identity.Home{Dir: t.TempDir()}
	_, _, err = other.Provision("Grace Hopper", "grace@example.com", "laptop")
	require.NoError(t, err)

	otherPriv, err := os.ReadFile(filepath.Join(other.Dir, "identity.key"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(home.Dir, "identity.key"), otherPriv, 0o600))

	_, _, err = home.Load()
	require.Error(t, err)
	var verifyErr *noormerr.IdentityVerificationError
	require.ErrorAs(t, err, &verifyErr)
}
