// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"fmt"
	"sync"
)

// Manager is the connection manager (§4.9): a small cache of named
// connections, created on demand and all closed together by the
// lifecycle manager's releasing phase.
type Manager struct {
	mu    sync.Mutex
	conns map[string]Conn
}

// NewManager returns an empty connection manager.
func NewManager() *Manager {
	return &Manager{conns: map[string]Conn{}}
}

// Get returns the cached connection for configName, opening and caching one
// via Open if none exists yet.
func (m *Manager) Get(ctx context.Context, configName string, dialect Name, dsn string) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.conns[configName]; ok {
		return conn, nil
	}

	conn, err := Open(ctx, dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to %q: %w", configName, err)
	}
	m.conns[configName] = conn
	return conn, nil
}

// Evict closes and forgets the cached connection for configName, if any.
func (m *Manager) Evict(configName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[configName]
	if !ok {
		return nil
	}
	delete(m.conns, configName)
	return conn.Close()
}

// CloseAll closes every cached connection, collecting (not aborting on) any
// individual close errors. Invoked by the lifecycle manager's releasing
// phase (§4.8).
func (m *Manager) CloseAll() []error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, conn := range m.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection %q: %w", name, err))
		}
	}
	m.conns = map[string]Conn{}
	return errs
}
