// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"
)

// ResolveOptions carries the candidate identity sources, consulted in the
// precedence order documented in §4.7: cryptoIdentity, env, gitConfig,
// systemUser, configOverride.
type ResolveOptions struct {
	CryptoIdentity *CryptoIdentity
	ConfigName     string
	ConfigOverride *Identity
}

// Resolve picks the first available identity source in precedence order.
func Resolve(opts ResolveOptions) Identity {
	if opts.CryptoIdentity != nil && opts.CryptoIdentity.Name != "" {
		id := opts.CryptoIdentity.Identity
		id.Source = SourceState
		return id
	}

	if name, email, ok := fromEnv(); ok {
		return Identity{Name: name, Email: email, Source: SourceEnv}
	}

	if name, email, ok := fromGitConfig(); ok {
		return Identity{Name: name, Email: email, Source: SourceGit}
	}

	if name, ok := fromSystemUser(); ok {
		return Identity{Name: name, Email: name + "@localhost", Source: SourceSystem}
	}

	if opts.ConfigOverride != nil {
		id := *opts.ConfigOverride
		id.Source = SourceConfig
		return id
	}

	return Identity{Name: "unknown", Email: "unknown@localhost", Source: SourceSystem}
}

func fromEnv() (name, email string, ok bool) {
	name = os.Getenv("NOORM_USER_NAME")
	email = os.Getenv("NOORM_USER_EMAIL")
	return name, email, name != "" && email != ""
}

func fromGitConfig() (name, email string, ok bool) {
	name = gitConfigValue("user.name")
	email = gitConfigValue("user.email")
	return name, email, name != "" && email != ""
}

func gitConfigValue(key string) string {
	out, err := exec.Command("git", "config", "--get", key).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func fromSystemUser() (name string, ok bool) {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "", false
	}
	return u.Username, true
}

// KnownUser is a roster entry synced from the database identities table into
// local state (§4.7 known-user sync).
type KnownUser struct {
	IdentityHash string    `json:"identityHash"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Machine      string    `json:"machine"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastSeen     time.Time `json:"lastSeen"`
}

// MergeKnownUsers folds remote roster entries into a local map, updating
// LastSeen and keeping the earliest FirstSeen on conflict.
func MergeKnownUsers(local map[string]KnownUser, remote []KnownUser) map[string]KnownUser {
	if local == nil {
		local = make(map[string]KnownUser, len(remote))
	}
	for _, r := range remote {
		existing, ok := local[r.IdentityHash]
		if !ok {
			local[r.IdentityHash] = r
			continue
		}
		if r.FirstSeen.Before(existing.FirstSeen) {
			existing.FirstSeen = r.FirstSeen
		}
		if r.LastSeen.After(existing.LastSeen) {
			existing.LastSeen = r.LastSeen
		}
		existing.Name = r.Name
		existing.Email = r.Email
		existing.Machine = r.Machine
		local[r.IdentityHash] = existing
	}
	return local
}
