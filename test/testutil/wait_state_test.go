package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leash"
)

// fakeWaiter moves through scheduled states on its own.
type fakeWaiter struct {
	state atomic.Int32
}

type step struct {
	delay time.Duration
	state leash.State
}

func newFakeWaiter(initial leash.State, steps ...step) *fakeWaiter {
	w := &fakeWaiter{}
	w.state.Store(int32(initial))
	go func() {
		for _, s := range steps {
			time.Sleep(s.delay)
			w.state.Store(int32(s.state))
		}
	}()

	return w
}

func (w *fakeWaiter) WaitState(expected leash.State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)

		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()

		for {
			if leash.State(w.state.Load()) == expected {
				ch <- nil
				return
			}
			select {
			case <-ticker.C:
			case <-deadline.C:
				ch <- context.DeadlineExceeded
				return
			}
		}
	}()

	return ch
}

func TestWaitAllState(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		waiters := []StateWaiter{
			newFakeWaiter(leash.StateInit, step{20 * time.Millisecond, leash.StateRunning}),
			newFakeWaiter(leash.StateInit, step{50 * time.Millisecond, leash.StateRunning}),
			newFakeWaiter(leash.StateRunning),
		}
		require.NoError(t, WaitAllState(t.Context(), waiters, leash.StateRunning, time.Second))
	})

	t.Run("one times out", func(t *testing.T) {
		waiters := []StateWaiter{
			newFakeWaiter(leash.StateInit, step{20 * time.Millisecond, leash.StateRunning}),
			newFakeWaiter(leash.StateRegistering),
		}
		err := WaitAllState(t.Context(), waiters, leash.StateRunning, 200*time.Millisecond)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Contains(t, err.Error(), "waiter[1]")
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()

		err := WaitAllState(ctx, []StateWaiter{newFakeWaiter(leash.StateInit)}, leash.StateRunning, 5*time.Second)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("empty", func(t *testing.T) {
		require.NoError(t, WaitAllState(t.Context(), nil, leash.StateRunning, time.Second))
	})
}

func TestWaitAnyState(t *testing.T) {
	t.Run("first wins", func(t *testing.T) {
		waiters := []StateWaiter{
			newFakeWaiter(leash.StateInit, step{300 * time.Millisecond, leash.StateRunning}),
			newFakeWaiter(leash.StateInit, step{20 * time.Millisecond, leash.StateRunning}),
		}
		idx, err := WaitAnyState(waiters, leash.StateRunning, time.Second)
		require.NoError(t, err)
		require.Equal(t, 1, idx)
	})

	t.Run("all time out", func(t *testing.T) {
		waiters := []StateWaiter{newFakeWaiter(leash.StateInit), newFakeWaiter(leash.StateInit)}
		idx, err := WaitAnyState(waiters, leash.StateRunning, 100*time.Millisecond)
		require.Error(t, err)
		require.Equal(t, -1, idx)
	})

	t.Run("empty", func(t *testing.T) {
		idx, err := WaitAnyState(nil, leash.StateRunning, time.Second)
		require.Error(t, err)
		require.Equal(t, -1, idx)
	})
}

func TestWaitStates(t *testing.T) {
	w := newFakeWaiter(leash.StateInit,
		step{20 * time.Millisecond, leash.StateRegistering},
		step{20 * time.Millisecond, leash.StateAcquiring},
		step{20 * time.Millisecond, leash.StateRunning},
	)

	err := WaitStates(t.Context(), w, []leash.State{leash.StateRegistering, leash.StateRunning}, time.Second)
	require.NoError(t, err)
}
