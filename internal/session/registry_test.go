package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreatesOnFirstDispatch(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env.deps)

	assert.Equal(t, 0, r.Len())

	r.Dispatch("conv-1", script(`echo "Enter a number: "
read n`))

	m, ok := r.Get("conv-1")
	require.True(t, ok)
	waitState(t, m, StateAwaitingInput)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemovesFinishedSessions(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env.deps)

	r.Dispatch("conv-2", script(`echo bye`))

	m, ok := r.Get("conv-2")
	require.True(t, ok)
	waitDone(t, m)

	require.Eventually(t, func() bool {
		_, ok := r.Get("conv-2")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryNewSessionAfterFinish(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env.deps)

	r.Dispatch("conv-3", script(`echo first`))
	m1, ok := r.Get("conv-3")
	require.True(t, ok)
	waitDone(t, m1)

	require.Eventually(t, func() bool {
		_, ok := r.Get("conv-3")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	// The same conversation can start over with a fresh submission.
	r.Dispatch("conv-3", script(`echo second`))
	m2, ok := r.Get("conv-3")
	require.True(t, ok)
	assert.NotSame(t, m1, m2)
	waitDone(t, m2)

	assert.True(t, env.notifier.sawText("first"))
	assert.True(t, env.notifier.sawText("second"))
}

func TestRegistryCancelUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env.deps)

	r.Cancel("nobody-home") // must not panic
	assert.Equal(t, 0, r.Len())
}

func TestRegistryShutdown(t *testing.T) {
	env := newTestEnv(t)
	r := NewRegistry(env.deps)

	r.Dispatch("conv-a", script(`sleep 30`))
	r.Dispatch("conv-b", script(`sleep 30`))

	require.Eventually(t, func() bool {
		ma, oka := r.Get("conv-a")
		mb, okb := r.Get("conv-b")
		return oka && okb && ma.State() == StateRunning && mb.State() == StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	r.Shutdown(10 * time.Second)
	assert.Equal(t, 0, r.Len())
}
