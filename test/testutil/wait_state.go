package testutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/leash"
)

// StateWaiter is the subset of Rebalancer used by the wait helpers.
type StateWaiter interface {
	WaitState(expected leash.State, timeout time.Duration) <-chan error
}

// Waiters converts rebalancers to StateWaiters.
func Waiters(rbs ...*leash.Rebalancer) []StateWaiter {
	out := make([]StateWaiter, len(rbs))
	for i, rb := range rbs {
		out[i] = rb
	}

	return out
}

// WaitAllState waits for every waiter to reach expected. It returns the
// first failure and abandons the remaining waits.
//
// Example:
//
//	err := testutil.WaitAllState(ctx, testutil.Waiters(cluster.Workers...), leash.StateRunning, 10*time.Second)
//	require.NoError(t, err)
func WaitAllState(ctx context.Context, waiters []StateWaiter, expected leash.State, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range waiters {
		g.Go(func() error {
			select {
			case err := <-w.WaitState(expected, timeout):
				if err != nil {
					return fmt.Errorf("waiter[%d] failed to reach state %s: %w", i, expected, err)
				}

				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	return g.Wait()
}

// WaitAnyState waits for the first waiter to reach expected and returns its
// index. If all fail, it returns -1 and the joined errors.
func WaitAnyState(waiters []StateWaiter, expected leash.State, timeout time.Duration) (int, error) {
	if len(waiters) == 0 {
		return -1, errors.New("no waiters provided")
	}

	type result struct {
		index int
		err   error
	}

	results := make(chan result, len(waiters))
	for i, w := range waiters {
		go func() {
			results <- result{index: i, err: <-w.WaitState(expected, timeout)}
		}()
	}

	errs := make([]error, 0, len(waiters))
	for range waiters {
		r := <-results
		if r.err == nil {
			return r.index, nil
		}
		errs = append(errs, fmt.Errorf("waiter[%d]: %w", r.index, r.err))
	}

	return -1, fmt.Errorf("no waiter reached state %s: %w", expected, errors.Join(errs...))
}

// WaitStates waits for w to pass through states in order. Each state gets
// its own timeout.
func WaitStates(ctx context.Context, w StateWaiter, states []leash.State, timeout time.Duration) error {
	for i, state := range states {
		select {
		case err := <-w.WaitState(state, timeout):
			if err != nil {
				return fmt.Errorf("failed to reach state[%d] %s: %w", i, state, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
