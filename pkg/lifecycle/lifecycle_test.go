// SPDX-License-Identifier: Apache-2.0

package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noormdev/noorm/pkg/lifecycle"
)

func TestShutdownRunsResourcesInPriorityOrderWithinPhase(t *testing.T) {
	m := lifecycle.New(nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	m.Register(lifecycle.Resource{Name: "second", Phase: lifecycle.PhaseReleasing, Priority: 2, Cleanup: record("second")})
	m.Register(lifecycle.Resource{Name: "first", Phase: lifecycle.PhaseReleasing, Priority: 1, Cleanup: record("first")})

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, lifecycle.StateStopped, m.State())
}

func TestShutdownRunsPhasesInOrder(t *testing.T) {
	m := lifecycle.New(nil)

	var mu sync.Mutex
	var phases []lifecycle.Phase
	record := func(phase lifecycle.Phase) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			phases = append(phases, phase)
			mu.Unlock()
			return nil
		}
	}

	m.Register(lifecycle.Resource{Name: "flush", Phase: lifecycle.PhaseFlushing, Cleanup: record(lifecycle.PhaseFlushing)})
	m.Register(lifecycle.Resource{Name: "stop", Phase: lifecycle.PhaseStopping, Cleanup: record(lifecycle.PhaseStopping)})
	m.Register(lifecycle.Resource{Name: "release", Phase: lifecycle.PhaseReleasing, Cleanup: record(lifecycle.PhaseReleasing)})

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []lifecycle.Phase{lifecycle.PhaseStopping, lifecycle.PhaseReleasing, lifecycle.PhaseFlushing}, phases)
}

func TestShutdownCollectsErrorsWithoutAbortingPhase(t *testing.T) {
	m := lifecycle.New(nil)

	ran := false
	boom := errors.New("boom")
	m.Register(lifecycle.Resource{Name: "fails", Phase: lifecycle.PhaseReleasing, Priority: 1, Cleanup: func(context.Context) error { return boom }})
	m.Register(lifecycle.Resource{Name: "still-runs", Phase: lifecycle.PhaseReleasing, Priority: 2, Cleanup: func(context.Context) error { ran = true; return nil }})

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.True(t, ran)
	assert.Equal(t, lifecycle.StateFailed, m.State())
}

func TestShutdownIsIdempotent(t *testing.T) {
	m := lifecycle.New(nil)

	calls := 0
	m.Register(lifecycle.Resource{Name: "once", Phase: lifecycle.PhaseReleasing, Cleanup: func(context.Context) error { calls++; return nil }})

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestShutdownEnforcesPerPhaseTimeout(t *testing.T) {
	m := lifecycle.New(nil)
	m.SetPhaseTimeout(lifecycle.PhaseReleasing, 10*time.Millisecond)

	m.Register(lifecycle.Resource{Name: "slow", Phase: lifecycle.PhaseReleasing, Cleanup: func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}})

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFatalRunsOnlyReleasingAndFlushingThenExits(t *testing.T) {
	m := lifecycle.New(nil)

	var mu sync.Mutex
	var ran []lifecycle.Phase
	record := func(phase lifecycle.Phase) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			ran = append(ran, phase)
			mu.Unlock()
			return nil
		}
	}
	m.Register(lifecycle.Resource{Name: "stop", Phase: lifecycle.PhaseStopping, Cleanup: record(lifecycle.PhaseStopping)})
	m.Register(lifecycle.Resource{Name: "release", Phase: lifecycle.PhaseReleasing, Cleanup: record(lifecycle.PhaseReleasing)})
	m.Register(lifecycle.Resource{Name: "flush", Phase: lifecycle.PhaseFlushing, Cleanup: record(lifecycle.PhaseFlushing)})

	exitCode := -1
	m.Exit = func(code int) { exitCode = code }

	m.Fatal(context.Background(), errors.New("unrecoverable"))

	assert.Equal(t, []lifecycle.Phase{lifecycle.PhaseReleasing, lifecycle.PhaseFlushing}, ran)
	assert.Equal(t, 1, exitCode)
	assert.Equal(t, lifecycle.StateFailed, m.State())
}
