// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"

	"github.com/noormdev/noorm/cmd/flags"
	"github.com/noormdev/noorm/pkg/change"
	"github.com/noormdev/noorm/pkg/db"
	"github.com/noormdev/noorm/pkg/eventbus"
	"github.com/noormdev/noorm/pkg/explore"
	"github.com/noormdev/noorm/pkg/identity"
	"github.com/noormdev/noorm/pkg/internaltables"
	"github.com/noormdev/noorm/pkg/lock"
	"github.com/noormdev/noorm/pkg/settings"
	"github.com/noormdev/noorm/pkg/state"
	"github.com/noormdev/noorm/pkg/template"
	"github.com/noormdev/noorm/pkg/version"
)

const stateFilePath = ".noorm/state.enc"

// App bundles the services one CLI invocation needs once its target config
// is resolved: the decrypted state store, the live database connection, and
// the domain managers layered on top of it. It plays the role pgroll's
// NewRoll constructor played, generalized from one hardcoded Postgres
// connection to noorm's named, multi-dialect configs.
type App struct {
	Store      *state.Store
	Config     state.Config
	Conn       db.Conn
	Lock       *lock.Manager
	Template   *template.Engine
	Events     *eventbus.Bus
	Settings   *settings.Settings
	Identity   string
	ChangesDir string
	SQLRoot    string
}

// openStateStore decrypts the project state file using the local identity
// key, without touching any database connection. Used by commands that only
// need config/secret bookkeeping (config use/list, identity show).
func openStateStore() (*state.Store, error) {
	_, priv, err := loadOrEmptyIdentity()
	if err != nil {
		return nil, err
	}
	return state.Open(stateFilePath, priv)
}

func loadOrEmptyIdentity() (*identity.CryptoIdentity, ed25519.PrivateKey, error) {
	home, err := identity.DefaultHome()
	if err != nil {
		return nil, nil, err
	}
	if !home.Exists() {
		return nil, nil, nil
	}
	return home.Load()
}

// openApp resolves --config (or the active config), decrypts state, opens
// the database connection, and reconciles the __noorm_* internal tables to
// the binary's expected schema version (§4.5) before returning.
func openApp(ctx context.Context) (*App, error) {
	ci, priv, err := loadOrEmptyIdentity()
	if err != nil {
		return nil, err
	}

	store, err := state.Open(stateFilePath, priv)
	if err != nil {
		return nil, err
	}

	name := flags.ConfigName()
	if name == "" {
		active, ok := store.ActiveConfigName()
		if !ok {
			return nil, errNoActiveConfig
		}
		name = active
	}
	cfg, ok := store.Config(name)
	if !ok {
		return nil, &state.ErrUnknownConfig{Name: name}
	}

	conn, err := db.Open(ctx, db.Name(cfg.Dialect), cfg.ConnectionURL)
	if err != nil {
		return nil, err
	}

	current, err := version.CurrentSchemaVersion(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	layer := version.NewSchemaLayer()
	newVersion, err := layer.Reconcile(current, version.SchemaTarget{Ctx: ctx, Conn: conn})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if newVersion != current {
		if err := version.RecordSchemaVersion(ctx, conn, "schema", newVersion, identity.Resolve(identity.ResolveOptions{CryptoIdentity: ci, ConfigName: name}).Format(), Version); err != nil {
			conn.Close()
			return nil, err
		}
	}

	resolved := identity.Resolve(identity.ResolveOptions{CryptoIdentity: ci, ConfigName: name})

	s, err := settings.Load(settingsPath)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := syncKnownUsers(ctx, conn, store, ci, resolved); err != nil {
		conn.Close()
		return nil, err
	}

	return &App{
		Store:      store,
		Config:     cfg,
		Conn:       conn,
		Lock:       lock.New(conn, ""),
		Template:   template.New(template.DataLoaders{Root: filepath.Dir(cfg.SchemaDir)}),
		Events:     eventbus.New(),
		Settings:   s,
		Identity:   resolved.Format(),
		ChangesDir: cfg.ChangesDir,
		SQLRoot:    cfg.SchemaDir,
	}, nil
}

// syncKnownUsers records this invocation's identity in __noorm_identities__
// (if a crypto identity is provisioned) and folds the full roster back into
// local state, so `identity show` and future attribution lookups can resolve
// a peer's name from a bare identity hash (§4.7 known-user sync).
func syncKnownUsers(ctx context.Context, conn db.Conn, store *state.Store, ci *identity.CryptoIdentity, resolved identity.Identity) error {
	if ci != nil {
		if err := internaltables.UpsertIdentity(ctx, conn, ci.IdentityHash, resolved.Name, resolved.Email, ci.Machine); err != nil {
			return err
		}
	}

	rows, err := internaltables.ListIdentities(ctx, conn)
	if err != nil {
		return err
	}
	known := make([]identity.KnownUser, 0, len(rows))
	for _, r := range rows {
		known = append(known, identity.KnownUser{
			IdentityHash: r.IdentityHash,
			Name:         r.Name,
			Email:        r.Email,
			Machine:      r.Machine,
			FirstSeen:    r.FirstSeen,
			LastSeen:     r.LastSeen,
		})
	}
	return store.MergeKnownUsers(known)
}

// Close releases the app's database connection.
func (a *App) Close() error { return a.Conn.Close() }

// changeEngine builds a change engine scoped to this app's config.
func (a *App) changeEngine() *change.Engine {
	return &change.Engine{
		Conn:       a.Conn,
		Lock:       a.Lock,
		Template:   a.Template,
		TmplCtx:    a.templateContext(),
		Events:     a.Events,
		ChangesDir: a.ChangesDir,
		SQLRoot:    a.SQLRoot,
		ConfigName: a.Config.Name,
		Identity:   a.Identity,
	}
}

// exploreManager builds a schema explorer scoped to this app's config.
func (a *App) exploreManager() *explore.Manager {
	return &explore.Manager{Conn: a.Conn, Lock: a.Lock, ConfigName: a.Config.Name, Identity: a.Identity}
}

func (a *App) templateContext() template.Context {
	return template.Context{
		Config: map[string]any{
			"name":    a.Config.Name,
			"dialect": a.Config.Dialect,
			"stage":   a.Config.Stage,
		},
		Secrets:       a.Store.Secrets(a.Config.Name),
		GlobalSecrets: a.Store.GlobalSecrets(),
		Env:           a.Settings.ResolveEnv(os.LookupEnv),
	}
}
