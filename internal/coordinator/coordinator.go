package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/leash/internal/logging"
	"github.com/arloliu/leash/internal/metrics"
	"github.com/arloliu/leash/lease"
	"github.com/arloliu/leash/types"
)

// Default key prefixes.
const (
	DefaultLivenessPrefix  = "liveness"
	DefaultOwnershipPrefix = "ownership"
)

// Config holds the coordinator timings and key layout.
type Config struct {
	// LivenessPrefix is the key prefix of worker liveness records.
	LivenessPrefix string
	// OwnershipPrefix is the key prefix of partition ownership leases.
	OwnershipPrefix string
	// LivenessTTL is how long a liveness record counts as active after its last write.
	LivenessTTL time.Duration
	// LeaseTTL is the validity of an ownership lease after each claim or renewal.
	LeaseTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.LivenessPrefix == "" {
		c.LivenessPrefix = DefaultLivenessPrefix
	}
	if c.OwnershipPrefix == "" {
		c.OwnershipPrefix = DefaultOwnershipPrefix
	}
	if c.LivenessTTL <= 0 {
		c.LivenessTTL = 60 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 60 * time.Second
	}
}

// Liveness is the payload of a worker liveness record.
type Liveness struct {
	WorkerID  string    `json:"workerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Ownership describes one ownership lease as seen by OwnershipSnapshot.
type Ownership struct {
	PartitionID  string
	Holder       string
	ExpiresAt    time.Time
	LastModified time.Time
	// Active is true when Holder has a valid lease at snapshot time.
	Active bool
}

// Coordinator performs ownership operations on behalf of a single worker.
//
// It is safe for concurrent use: the renewal loop, the membership watch and the
// acquisition scan may call it at the same time.
type Coordinator struct {
	store    lease.Store
	workerID string
	cfg      Config
	clock    func() time.Time
	logger   types.Logger
	metrics  types.CoordinatorMetrics

	owned *xsync.Map[string, struct{}]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source for liveness and staleness decisions.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.CoordinatorMetrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a coordinator for workerID.
//
// Parameters:
//   - store: Shared lease store
//   - workerID: Local worker identity; must be non-empty and must not contain '.'
//   - cfg: Timings and key layout; zero fields take defaults
//
// Returns:
//   - *Coordinator: New coordinator with an empty ownership cache
//   - error: types.ErrInvalidWorkerID for a malformed worker ID
func New(store lease.Store, workerID string, cfg Config, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, types.ErrLeaseStoreRequired
	}
	if err := ValidateID(workerID); err != nil {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidWorkerID, workerID)
	}
	cfg.setDefaults()

	c := &Coordinator{
		store:    store,
		workerID: workerID,
		cfg:      cfg,
		clock:    time.Now,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
		owned:    xsync.NewMap[string, struct{}](),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// ValidateID checks that id can be used as a single key token.
func ValidateID(id string) error {
	if id == "" || strings.Contains(id, ".") {
		return lease.ErrInvalidKey
	}

	return nil
}

// WorkerID returns the worker this coordinator acts for.
func (c *Coordinator) WorkerID() string {
	return c.workerID
}

// RegisterWorker writes or refreshes the local worker's liveness record.
// It is idempotent.
func (c *Coordinator) RegisterWorker(ctx context.Context) error {
	payload, err := json.Marshal(Liveness{
		WorkerID:  c.workerID,
		ExpiresAt: c.clock().Add(c.cfg.LivenessTTL),
	})
	if err != nil {
		return err
	}

	if err := c.store.Put(ctx, c.livenessKey(c.workerID), payload, ""); err != nil {
		return fmt.Errorf("register worker %s: %w", c.workerID, err)
	}

	return nil
}

// ListActiveWorkers scans the liveness records and returns the sorted IDs of
// active workers. Records older than LivenessTTL are deleted instead of being
// counted.
//
// An empty result means not even the local worker is visible; the caller
// treats that as a coordination outage.
func (c *Coordinator) ListActiveWorkers(ctx context.Context) ([]string, error) {
	now := c.clock()
	var active []string

	for rec, err := range c.store.ListByPrefix(ctx, c.cfg.LivenessPrefix) {
		if err != nil {
			return nil, fmt.Errorf("list active workers: %w", err)
		}

		workerID := lease.LastToken(rec.Key)
		if now.Sub(rec.LastModified) <= c.cfg.LivenessTTL {
			active = append(active, workerID)
			continue
		}

		c.collectStale(ctx, rec.Key, workerID, now)
	}

	slices.Sort(active)
	c.metrics.RecordActiveWorkers(len(active))

	return active, nil
}

// collectStale deletes a stale liveness record after re-reading it. The delete
// is conditioned on the version that was re-read, so a worker that refreshed
// at any point after the listing is kept.
func (c *Coordinator) collectStale(ctx context.Context, key, workerID string, now time.Time) {
	rec, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, lease.ErrNotFound):
		return
	case err != nil:
		c.logger.Debug("stale liveness check failed", "worker", workerID, "error", err)
		return
	case now.Sub(rec.LastModified) <= c.cfg.LivenessTTL:
		return
	}

	if err := c.store.DeleteIfVersion(ctx, key, rec.Version); err != nil {
		if errors.Is(err, lease.ErrConflict) {
			c.logger.Debug("stale liveness record refreshed before collection", "worker", workerID)
			return
		}
		c.logger.Debug("stale liveness delete failed", "worker", workerID, "error", err)

		return
	}

	c.metrics.RecordStaleWorkerCollected()
	c.logger.Info("collected stale worker", "worker", workerID, "lastSeen", rec.LastModified)
}

// ClaimPartition tries to take ownership of partitionID for LeaseTTL.
//
// The lease placeholder is seeded if absent. A partition already in the local
// cache is renewed, any other is acquired. Contention returns false with a nil
// error; only store faults return an error.
func (c *Coordinator) ClaimPartition(ctx context.Context, partitionID string) (bool, error) {
	if err := ValidateID(partitionID); err != nil {
		return false, fmt.Errorf("claim partition %q: %w", partitionID, err)
	}
	key := c.ownershipKey(partitionID)

	if _, err := c.store.TryCreateIfAbsent(ctx, key); err != nil {
		c.metrics.RecordPartitionClaim(partitionID, false)
		return false, fmt.Errorf("seed lease %s: %w", partitionID, err)
	}

	var (
		ok  bool
		err error
	)
	if _, owned := c.owned.Load(partitionID); owned {
		ok, err = c.store.RenewLease(ctx, key, c.workerID, c.cfg.LeaseTTL)
	} else {
		ok, err = c.store.AcquireLease(ctx, key, c.workerID, c.cfg.LeaseTTL)
	}
	if errors.Is(err, lease.ErrConflict) {
		ok, err = false, nil
	}
	c.metrics.RecordPartitionClaim(partitionID, ok && err == nil)
	if err != nil {
		return false, fmt.Errorf("claim partition %s: %w", partitionID, err)
	}
	if !ok {
		c.logger.Debug("partition contended", "partition", partitionID, "worker", c.workerID)
		return false, nil
	}

	c.owned.Store(partitionID, struct{}{})
	c.metrics.RecordOwnedPartitions(c.owned.Size())

	return true, nil
}

// RenewPartitionOwnership extends the lease on partitionID. The renewal is a
// write, so it also bumps the lease's last-modified time read by
// IsPartitionActive.
//
// Results:
//   - (true, nil): lease extended
//   - (false, nil): cancelled, or the lease is confirmed lost; a lost partition
//     is removed from the local cache
//   - (false, err): store fault; the partition stays cached and the caller
//     retries next period
func (c *Coordinator) RenewPartitionOwnership(ctx context.Context, partitionID string) (bool, error) {
	key := c.ownershipKey(partitionID)

	ok, err := c.store.RenewLease(ctx, key, c.workerID, c.cfg.LeaseTTL)
	if ctx.Err() != nil {
		return false, nil //nolint:nilerr
	}
	if errors.Is(err, lease.ErrConflict) {
		ok, err = false, nil
	}
	c.metrics.RecordLeaseRenewal(partitionID, ok && err == nil)
	if err != nil {
		return false, fmt.Errorf("renew partition %s: %w", partitionID, err)
	}
	if ok {
		return true, nil
	}

	// Re-validate before dropping: a renewal can lose a write race against our
	// own claim of the same key.
	rec, err := c.store.Get(ctx, key)
	if err != nil && !errors.Is(err, lease.ErrNotFound) {
		return false, fmt.Errorf("verify partition %s: %w", partitionID, err)
	}
	if err == nil && rec.Holder == c.workerID && rec.Leased(c.clock()) {
		return true, nil
	}

	c.owned.Delete(partitionID)
	c.metrics.RecordOwnedPartitions(c.owned.Size())
	c.logger.Warn("partition lease lost", "partition", partitionID, "worker", c.workerID, "holder", rec.Holder)

	return false, nil
}

// IsPartitionActive reports whether the lease of partitionID was written within
// maxInactive. A partition without a lease record is inactive. The result is a
// signal only; nothing reclaims inactive partitions outside normal lease expiry.
func (c *Coordinator) IsPartitionActive(ctx context.Context, partitionID string, maxInactive time.Duration) (bool, error) {
	modified, err := c.store.LastModified(ctx, c.ownershipKey(partitionID))
	if errors.Is(err, lease.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("partition %s last modified: %w", partitionID, err)
	}

	staleness := c.clock().Sub(modified)
	c.metrics.RecordPartitionStaleness(partitionID, staleness.Seconds())

	return staleness <= maxInactive, nil
}

// OwnedPartitions returns the locally cached owned partitions, sorted.
func (c *Coordinator) OwnedPartitions() []string {
	owned := make([]string, 0, c.owned.Size())
	c.owned.Range(func(id string, _ struct{}) bool {
		owned = append(owned, id)
		return true
	})
	slices.Sort(owned)

	return owned
}

// Owns reports whether partitionID is in the local cache.
func (c *Coordinator) Owns(partitionID string) bool {
	_, ok := c.owned.Load(partitionID)
	return ok
}

// OwnedCount returns the size of the local cache.
func (c *Coordinator) OwnedCount() int {
	return c.owned.Size()
}

// Forget drops partitionID from the local cache without touching its lease.
func (c *Coordinator) Forget(partitionID string) {
	c.owned.Delete(partitionID)
	c.metrics.RecordOwnedPartitions(c.owned.Size())
}

// ClearOwnedPartitions empties the local cache. Leases in the store are not
// released; they expire or are re-acquired by this worker.
func (c *Coordinator) ClearOwnedPartitions() {
	c.owned.Clear()
	c.metrics.RecordOwnedPartitions(0)
}

// OwnershipSnapshot lists every ownership lease in the store, sorted by
// partition ID. It is a diagnostic scan and does not touch the local cache.
func (c *Coordinator) OwnershipSnapshot(ctx context.Context) ([]Ownership, error) {
	now := c.clock()
	var out []Ownership

	for rec, err := range c.store.ListByPrefix(ctx, c.cfg.OwnershipPrefix) {
		if err != nil {
			return nil, fmt.Errorf("ownership snapshot: %w", err)
		}

		// Listings from metadata-only backends carry no holder.
		if rec.Holder == "" && rec.ExpiresAt.IsZero() {
			full, err := c.store.Get(ctx, rec.Key)
			if errors.Is(err, lease.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("ownership snapshot: %w", err)
			}
			rec = full
		}

		out = append(out, Ownership{
			PartitionID:  lease.LastToken(rec.Key),
			Holder:       rec.Holder,
			ExpiresAt:    rec.ExpiresAt,
			LastModified: rec.LastModified,
			Active:       rec.Leased(now),
		})
	}

	slices.SortFunc(out, func(a, b Ownership) int { return strings.Compare(a.PartitionID, b.PartitionID) })

	return out, nil
}

func (c *Coordinator) livenessKey(workerID string) string {
	return lease.Key(c.cfg.LivenessPrefix, workerID)
}

func (c *Coordinator) ownershipKey(partitionID string) string {
	return lease.Key(c.cfg.OwnershipPrefix, partitionID)
}
