// SPDX-License-Identifier: Apache-2.0

// Package lifecycle implements noorm's phased shutdown manager (§4.8):
// stopping, completing, releasing, flushing, exiting, each with its own
// timeout and its own registered cleanup resources, plus signal handling
// that escalates a second SIGINT/SIGTERM/SIGHUP into an immediate forced
// exit. It generalizes pgroll's Roll.Close cascade (state.Close then
// pgConn.Close) into a priority-ordered, multi-phase registry so the CLI,
// the connection manager, and the logger can all register their own
// cleanup without the core depending on any of them directly.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/noormdev/noorm/pkg/eventbus"
)

// Phase is one ordered stage of shutdown (§4.8).
type Phase string

const (
	PhaseStopping   Phase = "stopping"
	PhaseCompleting Phase = "completing"
	PhaseReleasing  Phase = "releasing"
	PhaseFlushing   Phase = "flushing"
	PhaseExiting    Phase = "exiting"
)

var phaseOrder = []Phase{PhaseStopping, PhaseCompleting, PhaseReleasing, PhaseFlushing, PhaseExiting}

// State is the manager's own lifecycle state, independent of the phase
// being run during shutdown (§4.8 States).
type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
	StateFailed       State = "failed"
)

const defaultPhaseTimeout = 30 * time.Second

// Resource is one cleanup registered under a phase, run in ascending
// priority order within that phase (§4.8: "{name, phase, priority?,
// cleanup}").
type Resource struct {
	Name     string
	Phase    Phase
	Priority int
	Cleanup  func(ctx context.Context) error
}

// Manager drives the phased shutdown and the signal-to-shutdown wiring.
// It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	state     State
	resources []Resource
	timeouts  map[Phase]time.Duration
	events    *eventbus.Bus

	// Exit terminates the process; overridden in tests.
	Exit func(code int)

	sigCh   chan os.Signal
	stopped chan struct{}
	once    sync.Once
}

// New returns an idle lifecycle manager.
func New(events *eventbus.Bus) *Manager {
	return &Manager{
		state:    StateIdle,
		timeouts: map[Phase]time.Duration{},
		events:   events,
		Exit:     os.Exit,
		stopped:  make(chan struct{}),
	}
}

// SetPhaseTimeout overrides the default 30s timeout for one phase.
func (m *Manager) SetPhaseTimeout(phase Phase, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts[phase] = d
}

// Register adds a cleanup resource to run during its phase.
func (m *Manager) Register(r Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, r)
}

// State returns the manager's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.emit("lifecycle:state", s)
}

func (m *Manager) emit(name string, data any) {
	if m.events != nil {
		m.events.Emit(name, data)
	}
}

// Start transitions idle -> starting -> running and installs signal
// handling for SIGINT, SIGTERM, and SIGHUP. The first signal triggers
// Shutdown(ctx); a second signal received before shutdown completes forces
// an immediate exit with code 128+signal (§4.8).
func (m *Manager) Start(ctx context.Context) {
	m.setState(StateStarting)

	m.sigCh = make(chan os.Signal, 2)
	signal.Notify(m.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go m.watchSignals(ctx)

	m.setState(StateRunning)
}

func (m *Manager) watchSignals(ctx context.Context) {
	shuttingDown := false
	for sig := range m.sigCh {
		if shuttingDown {
			if s, ok := sig.(syscall.Signal); ok {
				m.Exit(128 + int(s))
			} else {
				m.Exit(1)
			}
			return
		}
		shuttingDown = true
		go func() { _ = m.Shutdown(ctx) }()
	}
}

// Shutdown runs every phase in order; within a phase, every resource's
// cleanup runs (even after an earlier one in the same phase fails), bounded
// by that phase's timeout. It is idempotent: a second call is a no-op that
// returns the first call's result. Resource errors are collected, not
// thrown; they surface as the returned error and as lifecycle:phase:error
// events (§4.8).
func (m *Manager) Shutdown(ctx context.Context) error {
	var shutdownErr error
	m.once.Do(func() {
		m.setState(StateShuttingDown)
		if m.sigCh != nil {
			signal.Stop(m.sigCh)
		}

		for _, phase := range phaseOrder {
			if err := m.runPhase(ctx, phase); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}

		if shutdownErr != nil {
			m.setState(StateFailed)
		} else {
			m.setState(StateStopped)
		}
		close(m.stopped)
	})
	return shutdownErr
}

// Done returns a channel closed once Shutdown has completed.
func (m *Manager) Done() <-chan struct{} {
	return m.stopped
}

func (m *Manager) runPhase(ctx context.Context, phase Phase) error {
	m.mu.Lock()
	timeout := m.timeouts[phase]
	var resources []Resource
	for _, r := range m.resources {
		if r.Phase == phase {
			resources = append(resources, r)
		}
	}
	m.mu.Unlock()

	if timeout <= 0 {
		timeout = defaultPhaseTimeout
	}
	sort.SliceStable(resources, func(i, j int) bool { return resources[i].Priority < resources[j].Priority })

	m.emit("lifecycle:phase:start", phase)

	var firstErr error
	for _, r := range resources {
		phaseCtx, cancel := context.WithTimeout(ctx, timeout)
		err := r.Cleanup(phaseCtx)
		cancel()
		if err != nil {
			m.emit("lifecycle:phase:error", map[string]any{"phase": phase, "resource": r.Name, "error": err.Error()})
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %s: %w", phase, r.Name, err)
			}
		}
	}

	m.emit("lifecycle:phase:complete", phase)
	return firstErr
}

// Fatal runs only the releasing and flushing phases (§4.8's fatal-error
// path: "minimal cleanup, exit code 1") and exits the process with code 1.
func (m *Manager) Fatal(ctx context.Context, cause error) {
	m.setState(StateFailed)
	m.emit("lifecycle:fatal", cause.Error())

	for _, phase := range []Phase{PhaseReleasing, PhaseFlushing} {
		_ = m.runPhase(ctx, phase)
	}

	m.Exit(1)
}
