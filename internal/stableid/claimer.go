package stableid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/leash/internal/logging"
	"github.com/arloliu/leash/lease"
	"github.com/arloliu/leash/types"
)

// Common errors returned by the claimer.
var (
	ErrNoAvailableID = errors.New("no available worker ID in pool")
	ErrNotClaimed    = errors.New("worker ID not claimed")
	ErrAlreadyClosed = errors.New("claimer already closed")
)

// DefaultKeyPrefix is the lease store prefix of stable ID claims.
const DefaultKeyPrefix = "ids"

// Claimer claims a stable worker ID ("worker-3") from a numbered pool and keeps
// it leased while the process runs.
//
// Each ID is a lease in the shared store held by a random per-process instance
// token. A crashed process stops renewing and its ID becomes claimable again
// once the lease expires.
type Claimer struct {
	store     lease.Store
	prefix    string
	keyPrefix string
	minID     int
	maxID     int
	ttl       time.Duration
	instance  string

	mu       sync.Mutex
	workerID string
	closed   bool
	lost     bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	lostCh   chan struct{}

	logger types.Logger
}

// NewClaimer creates a new stable ID claimer.
//
// Parameters:
//   - store: Shared lease store
//   - prefix: Worker ID prefix (e.g., "worker")
//   - minID: Minimum ID number (inclusive)
//   - maxID: Maximum ID number (inclusive)
//   - ttl: Lease TTL of a claim; renewed every ttl/3
//   - logger: Logger for debug output (nil for none)
//
// Returns:
//   - *Claimer: New claimer instance
//
// Example:
//
//	claimer := stableid.NewClaimer(store, "worker", 0, 99, 30*time.Second, logger)
//	workerID, err := claimer.Claim(ctx)
func NewClaimer(store lease.Store, prefix string, minID, maxID int, ttl time.Duration, logger types.Logger) *Claimer {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Claimer{
		store:     store,
		prefix:    prefix,
		keyPrefix: DefaultKeyPrefix,
		minID:     minID,
		maxID:     maxID,
		ttl:       ttl,
		instance:  uuid.NewString(),
		lostCh:    make(chan struct{}),
		logger:    logger,
	}
}

// Claim takes the lowest free ID of the pool.
//
// IDs are tried in order from minID to maxID; an ID is free when nobody holds a
// valid lease on it.
//
// Returns:
//   - string: Claimed worker ID (e.g., "worker-5")
//   - error: ErrNoAvailableID if pool exhausted, context error, or store error
func (c *Claimer) Claim(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrAlreadyClosed
	}
	if c.workerID != "" {
		return c.workerID, nil
	}

	c.logger.Debug("stable ID claim starting", "prefix", c.prefix, "min", c.minID, "max", c.maxID, "ttl", c.ttl)

	for id := c.minID; id <= c.maxID; id++ {
		if err := ctx.Err(); err != nil {
			c.logger.Debug("stable ID claim cancelled", "tried_ids", id-c.minID)
			return "", err
		}

		workerID := fmt.Sprintf("%s-%d", c.prefix, id)
		ok, err := c.store.AcquireLease(ctx, c.keyForID(workerID), c.instance, c.ttl)
		if err != nil {
			c.logger.Error("stable ID claim failed with unexpected error", "worker_id", workerID, "error", err)
			return "", fmt.Errorf("failed to claim ID %s: %w", workerID, err)
		}
		if ok {
			c.workerID = workerID
			c.logger.Info("stable ID claimed successfully", "worker_id", workerID, "attempts", id-c.minID+1)

			return workerID, nil
		}

		c.logger.Debug("stable ID already claimed, trying next", "worker_id", workerID)
	}

	c.logger.Error("no available stable IDs in pool", "prefix", c.prefix, "pool_size", c.maxID-c.minID+1)

	return "", ErrNoAvailableID
}

// StartRenewal renews the claim every ttl/3 until Release or Close.
//
// Returns:
//   - error: ErrNotClaimed if no ID is claimed, ErrAlreadyClosed after Close
func (c *Claimer) StartRenewal() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrAlreadyClosed
	}
	if c.workerID == "" {
		return ErrNotClaimed
	}
	if c.stopCh != nil {
		return nil
	}

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.renewalLoop(c.workerID, c.stopCh, c.doneCh)

	return nil
}

func (c *Claimer) renewalLoop(workerID string, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(c.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.ttl/3)
			ok, err := c.store.RenewLease(ctx, c.keyForID(workerID), c.instance, c.ttl)
			cancel()

			switch {
			case err != nil:
				c.logger.Warn("stable ID renewal failed", "worker_id", workerID, "error", err)
			case !ok:
				c.logger.Error("stable ID lease lost", "worker_id", workerID)
				c.markLost()

				return
			}
		}
	}
}

// markLost records that another holder owns the claimed ID.
func (c *Claimer) markLost() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lost {
		c.lost = true
		close(c.lostCh)
	}
}

// Lost returns a channel closed once a renewal finds the ID held by another
// instance. The claimer stops renewing at that point.
func (c *Claimer) Lost() <-chan struct{} {
	return c.lostCh
}

// Release stops renewal and deletes the claim so the ID is free immediately.
// A lost claim belongs to its new holder and is left untouched.
//
// Returns:
//   - error: ErrNotClaimed if nothing is claimed, or the delete error
func (c *Claimer) Release(ctx context.Context) error {
	c.stopRenewal()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.workerID == "" {
		return ErrNotClaimed
	}
	if c.lost {
		c.workerID = ""
		return nil
	}

	if err := c.store.Delete(ctx, c.keyForID(c.workerID)); err != nil {
		return fmt.Errorf("failed to delete ID %s: %w", c.workerID, err)
	}
	c.workerID = ""

	return nil
}

// Close stops renewal without deleting the claim; the ID stays reserved until
// its lease expires.
func (c *Claimer) Close() {
	c.stopRenewal()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

func (c *Claimer) stopRenewal() {
	c.mu.Lock()
	stopCh, doneCh := c.stopCh, c.doneCh
	c.stopCh, c.doneCh = nil, nil
	c.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
}

// WorkerID returns the currently claimed worker ID.
//
// Returns:
//   - string: Claimed worker ID (empty if not claimed)
func (c *Claimer) WorkerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.workerID
}

func (c *Claimer) keyForID(workerID string) string {
	return lease.Key(c.keyPrefix, workerID)
}
