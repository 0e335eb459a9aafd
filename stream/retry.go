package stream

import (
	rand "math/rand/v2"
	"sync"
	"time"
)

// retryPolicy spaces the re-initializations of a faulted partition.
//
// The first delay is RetryBase. Each following delay is drawn uniformly
// between RetryBase and RetryMultiplier times the previous delay, and never
// exceeds RetryCap. Pumps share one policy; each keeps its own previous delay.
type retryPolicy struct {
	base   time.Duration
	growth float64
	limit  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func newRetryPolicy(cfg Config) *retryPolicy {
	seed := uint64(cfg.RetrySeed) //nolint:gosec
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec
	}

	return &retryPolicy{
		base:   cfg.RetryBase,
		growth: max(cfg.RetryMultiplier, 1),
		limit:  cfg.RetryCap,
		rng:    rand.New(rand.NewPCG(seed, seed^0x5deece66d)), //nolint:gosec
	}
}

// next returns the delay after prev. A zero prev restarts at the base.
func (r *retryPolicy) next(prev time.Duration) time.Duration {
	if r.limit <= r.base {
		return r.limit
	}
	if prev <= 0 {
		return r.base
	}

	spread := time.Duration(float64(prev)*r.growth) - r.base
	if spread <= 0 {
		spread = r.base
	}

	r.mu.Lock()
	d := r.base + time.Duration(r.rng.Int64N(int64(spread)))
	r.mu.Unlock()

	return min(d, r.limit)
}
