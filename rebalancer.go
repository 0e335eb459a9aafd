package leash

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/leash/internal/coordinator"
	"github.com/arloliu/leash/internal/heartbeat"
	"github.com/arloliu/leash/internal/hooks"
	"github.com/arloliu/leash/internal/logging"
	"github.com/arloliu/leash/internal/metrics"
	"github.com/arloliu/leash/lease"
)

// PartitionOwnership describes one ownership lease as seen by OwnershipSnapshot.
type PartitionOwnership = coordinator.Ownership

// Rebalance reasons reported through RecordRebalance.
const (
	reasonStartup          = "startup"
	reasonMembershipChange = "membership_change"
	reasonOutage           = "outage"
	reasonFault            = "fault"
)

// Rebalancer keeps this worker holding a fair share of the partition catalog
// and runs a partition processor over the held partitions.
//
// Each rebalance cycle registers liveness, counts active workers, acquires
// floor(N/M) partition leases and starts a processor for them. The cycle
// restarts whenever the active worker count changes or the processor exits on
// its own. Leases are renewed in the background; a lease that is confirmed lost
// is revoked from the running processor.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - State transitions are atomic
//
// Lifecycle:
//   - Create with NewRebalancer()
//   - Call Start() to resolve the worker ID and begin rebalancing
//   - Use hooks to react to ownership changes and errors
//   - Call Stop() for graceful shutdown
type Rebalancer struct {
	cfg     Config
	store   lease.Store
	catalog PartitionCatalog
	factory ProcessorFactory

	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger
	clock   func() time.Time
	fixedID string

	state          atomic.Int32 // State
	lastTransition atomic.Int64 // unix nanoseconds
	coord          atomic.Pointer[coordinator.Coordinator]

	identity  *WorkerIdentity
	heartbeat *heartbeat.Publisher

	mu       sync.Mutex
	started  bool
	stopping bool
	cancel   context.CancelFunc
	hookCtx  context.Context
	done     chan struct{}
}

// NewRebalancer creates a rebalancer. It does not touch the lease store until
// Start.
//
// Parameters:
//   - cfg: Configuration; zero fields take defaults
//   - store: Shared lease store for liveness, ownership and stable IDs
//   - catalog: Source of the full partition ID list
//   - factory: Builds the processor for each acquired partition set
//   - opts: Optional hooks, metrics, logger, fixed worker ID and clock
//
// Returns:
//   - *Rebalancer: Rebalancer in StateInit
//   - error: A required-dependency error, or ErrInvalidConfig
func NewRebalancer(cfg *Config, store lease.Store, catalog PartitionCatalog, factory ProcessorFactory, opts ...Option) (*Rebalancer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if store == nil {
		return nil, ErrLeaseStoreRequired
	}
	if catalog == nil {
		return nil, ErrPartitionCatalogRequired
	}
	if factory == nil {
		return nil, ErrProcessorFactoryRequired
	}

	options := &rebalancerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	r := &Rebalancer{
		cfg:     *cfg,
		store:   store,
		catalog: catalog,
		factory: factory,
		hooks:   hooks.Fill(options.hooks),
		metrics: options.metrics,
		logger:  options.logger,
		clock:   options.clock,
		fixedID: options.workerID,
		hookCtx: context.Background(),
		done:    make(chan struct{}),
	}
	if r.metrics == nil {
		r.metrics = metrics.NewNop()
	}
	if r.logger == nil {
		r.logger = logging.NewNop()
	}
	if r.clock == nil {
		r.clock = time.Now
	}

	SetDefaults(&r.cfg)
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	r.cfg.ValidateWithWarnings(r.logger)

	r.state.Store(int32(StateInit))
	r.lastTransition.Store(r.clock().UnixNano())

	return r, nil
}

// Start resolves the worker ID, publishes the first liveness record and starts
// the rebalance loop in the background. It returns once the loop is running;
// use WaitState or hooks to observe acquisition.
//
// Parameters:
//   - ctx: Context for startup I/O; cancelling it later does not stop the rebalancer
//
// Returns:
//   - error: ErrAlreadyStarted on a second call, or a startup failure
func (r *Rebalancer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}

	identity, err := r.resolveIdentity(ctx)
	if err != nil {
		return err
	}

	coord, err := coordinator.New(r.store, identity.ID, coordinator.Config{
		LivenessPrefix:  r.cfg.Keys.LivenessPrefix,
		OwnershipPrefix: r.cfg.Keys.OwnershipPrefix,
		LivenessTTL:     r.cfg.LivenessTTL,
		LeaseTTL:        r.cfg.LeaseTTL,
	},
		coordinator.WithClock(r.clock),
		coordinator.WithLogger(r.logger),
		coordinator.WithMetrics(r.metrics),
	)
	if err != nil {
		r.releaseIdentity(ctx, identity)
		return fmt.Errorf("create coordinator: %w", err)
	}

	hb := heartbeat.New(coord, identity.ID, r.cfg.HeartbeatInterval)
	hb.SetLogger(r.logger)
	hb.SetMetrics(r.metrics)
	if err := hb.Start(ctx); err != nil {
		r.releaseIdentity(ctx, identity)
		return fmt.Errorf("start heartbeat: %w", err)
	}

	r.identity = identity
	r.heartbeat = hb
	r.coord.Store(coord)
	r.hookCtx = context.WithoutCancel(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.started = true

	r.logger.Info("rebalancer started", "workerID", identity.ID, "stableID", identity.Stable())
	r.metrics.RecordRebalance(reasonStartup)

	go r.run(runCtx)
	if identity.Stable() {
		go r.watchIdentity(runCtx, identity, hb)
	}

	return nil
}

// Stop cancels the rebalance loop, stops the processor and the heartbeat and
// releases a stable worker ID. Held ownership leases are left to expire.
//
// Parameters:
//   - ctx: Bounds how long Stop waits for the loop to exit
//
// Returns:
//   - error: ErrNotStarted if Start never succeeded or Stop already ran, or the
//     context error when the loop did not exit in time
func (r *Rebalancer) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started || r.stopping {
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.stopping = true
	r.cancel()
	r.mu.Unlock()

	var errs []error
	select {
	case <-r.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for rebalance loop: %w", ctx.Err()))
	}

	if err := r.heartbeat.Stop(); err != nil && !errors.Is(err, heartbeat.ErrNotStarted) {
		errs = append(errs, fmt.Errorf("stop heartbeat: %w", err))
	}
	if err := r.identity.Release(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, fmt.Errorf("release worker ID: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.transitionState(r.State(), StateStopped)
	r.logger.Info("rebalancer stopped", "workerID", r.WorkerID())

	return nil
}

// State returns the current rebalance cycle state.
func (r *Rebalancer) State() State {
	return State(r.state.Load())
}

// WaitState waits for the rebalancer to reach the expected state within the
// timeout period.
//
// The returned channel receives exactly one value and is then closed:
//   - nil if the expected state is reached within the timeout
//   - context.DeadlineExceeded if the timeout expires first
//
// Example:
//
//	if err := <-rb.WaitState(leash.StateRunning, 10*time.Second); err != nil {
//	    log.Printf("worker never reached Running: %v", err)
//	}
func (r *Rebalancer) WaitState(expected State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1)

	go func() {
		defer close(ch)

		if r.State() == expected {
			ch <- nil
			return
		}

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		for {
			select {
			case <-ticker.C:
				if r.State() == expected {
					ch <- nil
					return
				}
			case <-timer.C:
				ch <- context.DeadlineExceeded
				return
			}
		}
	}()

	return ch
}

// WorkerID returns the resolved worker ID, or "" before Start.
func (r *Rebalancer) WorkerID() string {
	if c := r.coord.Load(); c != nil {
		return c.WorkerID()
	}

	return ""
}

// OwnedPartitions returns the partitions this worker currently holds leases
// for, sorted.
func (r *Rebalancer) OwnedPartitions() []string {
	if c := r.coord.Load(); c != nil {
		return c.OwnedPartitions()
	}

	return nil
}

// OwnershipSnapshot lists every ownership lease in the store.
//
// Returns:
//   - []PartitionOwnership: One entry per lease record
//   - error: ErrNotStarted before Start, or a store error
func (r *Rebalancer) OwnershipSnapshot(ctx context.Context) ([]PartitionOwnership, error) {
	c := r.coord.Load()
	if c == nil {
		return nil, ErrNotStarted
	}

	return c.OwnershipSnapshot(ctx)
}

// Done is closed when the rebalance loop has exited after Stop.
func (r *Rebalancer) Done() <-chan struct{} {
	return r.done
}

func (r *Rebalancer) resolveIdentity(ctx context.Context) (*WorkerIdentity, error) {
	if r.fixedID != "" {
		if err := coordinator.ValidateID(r.fixedID); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWorkerID, r.fixedID)
		}

		return &WorkerIdentity{ID: r.fixedID}, nil
	}

	return ResolveWorkerID(ctx, r.cfg.Identity, r.store, r.logger)
}

func (r *Rebalancer) releaseIdentity(ctx context.Context, identity *WorkerIdentity) {
	if err := identity.Release(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("failed to release worker ID", "workerID", identity.ID, "error", err)
	}
}

// watchIdentity shuts the worker down when its stable ID is taken over, since
// leases held under a duplicated ID can no longer be told apart.
func (r *Rebalancer) watchIdentity(ctx context.Context, identity *WorkerIdentity, hb *heartbeat.Publisher) {
	select {
	case <-ctx.Done():
		return
	case <-identity.Lost():
	}

	r.logger.Error("stable worker ID lost, shutting down", "workerID", identity.ID)
	r.reportError(fmt.Errorf("%w: %s", ErrIDLost, identity.ID))

	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()

	if err := hb.Stop(); err != nil && !errors.Is(err, heartbeat.ErrNotStarted) {
		r.logger.Warn("failed to stop heartbeat", "workerID", identity.ID, "error", err)
	}
}

// run repeats rebalance cycles until ctx is cancelled.
func (r *Rebalancer) run(ctx context.Context) {
	defer close(r.done)

	coord := r.coord.Load()

loop:
	for ctx.Err() == nil {
		err := r.cycle(ctx, coord)
		if ctx.Err() != nil {
			break
		}

		switch {
		case err == nil, errors.Is(err, ErrMembershipChanged), errors.Is(err, ErrProcessorExited):
			continue
		case IsCoordinationOutage(err):
			r.metrics.RecordCoordinationOutage()
			r.metrics.RecordRebalance(reasonOutage)
			r.logger.Error("coordination outage: no active workers observed", "workerID", coord.WorkerID(), "error", err)
		default:
			r.metrics.RecordRebalance(reasonFault)
			r.logger.Warn("rebalance cycle failed", "workerID", coord.WorkerID(), "error", err)
		}

		r.reportError(err)
		if !sleepCtx(ctx, r.cfg.OutageRetryDelay) {
			break loop
		}
	}

	coord.ClearOwnedPartitions()
	r.transitionState(r.State(), StateCancelledByShutdown)
	r.logger.Debug("rebalance loop exited", "workerID", coord.WorkerID())
}

// cycle runs one register, acquire and process round. It returns ctx.Err() on
// shutdown, a wrapped ErrMembershipChanged or ErrProcessorExited when the cycle
// must restart immediately, and any other error when it failed.
func (r *Rebalancer) cycle(ctx context.Context, coord *coordinator.Coordinator) error {
	r.transitionState(r.State(), StateRegistering)

	if err := coord.RegisterWorker(ctx); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	partitions, err := r.fetchCatalog(ctx)
	if err != nil {
		return err
	}

	workers, err := coord.ListActiveWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list active workers: %w", err)
	}
	if len(workers) == 0 {
		return &OutageError{WorkerID: coord.WorkerID(), Partitions: len(partitions)}
	}

	fairShare := len(partitions) / len(workers)
	r.metrics.RecordFairShare(fairShare)
	r.logger.Debug("rebalance cycle target",
		"workerID", coord.WorkerID(),
		"partitions", len(partitions),
		"workers", len(workers),
		"fairShare", fairShare,
	)

	cycleCtx, cancelCycle := context.WithCancel(ctx)
	defer cancelCycle()

	g, gctx := errgroup.WithContext(cycleCtx)
	g.Go(func() error {
		return r.watchMembership(gctx, coord, len(workers))
	})

	r.transitionState(StateRegistering, StateAcquiring)
	start := r.clock()

	owned, err := r.acquire(gctx, coord, partitions, fairShare)
	if err != nil {
		cancelCycle()
		return r.endCycle(ctx, g.Wait())
	}
	r.metrics.RecordAcquisitionDuration(r.clock().Sub(start).Seconds())

	proc, err := r.factory.NewProcessor(coord.WorkerID(), owned)
	if err == nil {
		err = proc.Start(gctx)
		if err != nil {
			err = fmt.Errorf("start processor: %w", err)
		}
	} else {
		err = fmt.Errorf("create processor: %w", err)
	}
	if err != nil {
		cancelCycle()
		if cause := g.Wait(); cause != nil || ctx.Err() != nil {
			return r.endCycle(ctx, cause)
		}

		return err
	}

	r.transitionState(StateAcquiring, StateRunning)
	r.logger.Info("partitions acquired", "workerID", coord.WorkerID(), "owned", owned)
	r.notifyOwnership(owned)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-proc.Done():
			return fmt.Errorf("%w: worker %s", ErrProcessorExited, coord.WorkerID())
		}
	})
	g.Go(func() error {
		r.renewLoop(gctx, coord, proc)
		return nil
	})
	g.Go(func() error {
		r.stalenessLoop(gctx, coord, partitions)
		return nil
	})

	cause := g.Wait()
	r.stopProcessor(ctx, coord, proc)

	return r.endCycle(ctx, cause)
}

// endCycle reports a cycle cancelled by shutdown or by a restart trigger.
func (r *Rebalancer) endCycle(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if cause == nil {
		cause = ErrMembershipChanged
	}

	reason := reasonMembershipChange
	if errors.Is(cause, ErrProcessorExited) {
		reason = reasonFault
	}

	r.transitionState(r.State(), StateCancelledByMembershipChange)
	r.metrics.RecordRebalance(reason)
	r.logger.Info("rebalance triggered", "workerID", r.WorkerID(), "reason", reason, "cause", cause)

	return cause
}

// fetchCatalog lists the partition catalog, retrying with doubling delays from
// ClaimRetryDelay up to ScanRetryDelay.
func (r *Rebalancer) fetchCatalog(ctx context.Context) ([]string, error) {
	delay := r.cfg.ClaimRetryDelay
	for {
		partitions, err := r.catalog.ListPartitions(ctx)
		if err == nil {
			return partitions, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.logger.Warn("partition catalog unavailable", "error", err, "retryIn", delay)
		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}
		delay = min(delay*2, r.cfg.ScanRetryDelay)
	}
}

// acquire claims catalog partitions in order until fairShare are held. Failed
// claims are retried on the next scan, without bound, until ctx is cancelled.
//
// Leases already held are renewed every RenewalInterval while the scan goes
// on, and all of them are re-validated before the set is returned, so a lease
// that expired during a long scan is never handed to the processor.
func (r *Rebalancer) acquire(ctx context.Context, coord *coordinator.Coordinator, partitions []string, fairShare int) ([]string, error) {
	coord.ClearOwnedPartitions()
	lastRenewal := r.clock()

	for {
		for _, pid := range partitions {
			if coord.OwnedCount() >= fairShare {
				break
			}
			if r.clock().Sub(lastRenewal) >= r.cfg.RenewalInterval {
				r.renewHeld(ctx, coord, false)
				lastRenewal = r.clock()
			}
			if coord.Owns(pid) {
				continue
			}

			ok, err := coord.ClaimPartition(ctx, pid)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if ok {
				continue
			}
			if err != nil {
				r.logger.Warn("partition claim failed", "partition", pid, "error", err)
			}
			if !sleepCtx(ctx, r.cfg.ClaimRetryDelay) {
				return nil, ctx.Err()
			}
		}

		if coord.OwnedCount() >= fairShare {
			r.renewHeld(ctx, coord, true)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastRenewal = r.clock()
			if coord.OwnedCount() >= fairShare {
				return coord.OwnedPartitions(), nil
			}

			r.logger.Debug("held lease lost during acquisition, rescanning",
				"workerID", coord.WorkerID(),
				"owned", coord.OwnedCount(),
				"fairShare", fairShare,
			)

			continue
		}

		r.logger.Debug("fair share not reached, rescanning",
			"workerID", coord.WorkerID(),
			"owned", coord.OwnedCount(),
			"fairShare", fairShare,
		)
		if !sleepCtx(ctx, r.cfg.ScanRetryDelay) {
			return nil, ctx.Err()
		}
	}
}

// renewHeld renews every cached partition. Lost leases leave the cache inside
// RenewPartitionOwnership. With strict set, a partition whose renewal failed
// on a store fault is dropped too, since its lease cannot be confirmed.
func (r *Rebalancer) renewHeld(ctx context.Context, coord *coordinator.Coordinator, strict bool) {
	for _, pid := range coord.OwnedPartitions() {
		_, err := coord.RenewPartitionOwnership(ctx, pid)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}

		r.logger.Warn("lease renewal failed", "partition", pid, "error", err)
		if strict {
			coord.Forget(pid)
		}
	}
}

// watchMembership returns ErrMembershipChanged once the active worker count
// differs from expected. Listing errors are logged and retried.
func (r *Rebalancer) watchMembership(ctx context.Context, coord *coordinator.Coordinator, expected int) error {
	ticker := time.NewTicker(r.cfg.MembershipWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		workers, err := coord.ListActiveWorkers(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("membership check failed", "error", err)

			continue
		}
		if len(workers) != expected {
			return fmt.Errorf("%w: %d -> %d active workers", ErrMembershipChanged, expected, len(workers))
		}
	}
}

// renewLoop extends every held lease each RenewalInterval and revokes the
// partitions whose lease was lost.
func (r *Rebalancer) renewLoop(ctx context.Context, coord *coordinator.Coordinator, proc PartitionProcessor) {
	ticker := time.NewTicker(r.cfg.RenewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		lost := false
		for _, pid := range coord.OwnedPartitions() {
			ok, err := coord.RenewPartitionOwnership(ctx, pid)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				r.logger.Warn("lease renewal failed", "partition", pid, "error", err)
				continue
			}
			if ok || coord.Owns(pid) {
				continue
			}

			lost = true
			proc.Revoke(pid)
		}

		if lost {
			r.notifyOwnership(coord.OwnedPartitions())
		}
	}
}

// stalenessLoop warns about catalog partitions whose lease has not been written
// within StalenessThreshold. It never reclaims anything.
func (r *Rebalancer) stalenessLoop(ctx context.Context, coord *coordinator.Coordinator, partitions []string) {
	ticker := time.NewTicker(r.cfg.StalenessCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, pid := range partitions {
			active, err := coord.IsPartitionActive(ctx, pid, r.cfg.StalenessThreshold)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				r.logger.Debug("staleness check failed", "partition", pid, "error", err)
				continue
			}
			if !active {
				r.logger.Warn("partition lease is stale", "partition", pid, "threshold", r.cfg.StalenessThreshold)
			}
		}
	}
}

func (r *Rebalancer) stopProcessor(ctx context.Context, coord *coordinator.Coordinator, proc PartitionProcessor) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StopTimeout)
	defer cancel()

	if err := proc.Stop(stopCtx); err != nil {
		r.logger.Warn("processor did not stop cleanly", "workerID", coord.WorkerID(), "error", err)
	}
}

// transitionState moves the cycle from one state to another. Staying in the
// same state is a no-op.
func (r *Rebalancer) transitionState(from, to State) {
	if from == to {
		return
	}
	if !isValidTransition(from, to) {
		r.logger.Error("invalid state transition attempted", "from", from.String(), "to", to.String())
		return
	}
	if !r.state.CompareAndSwap(int32(from), int32(to)) { //nolint:gosec // State values are a controlled enum
		r.logger.Error("state changed concurrently", "from", from.String(), "to", to.String(), "current", r.State().String())
		return
	}

	now := r.clock()
	elapsed := now.Sub(time.Unix(0, r.lastTransition.Swap(now.UnixNano())))

	r.logger.Debug("state transition", "workerID", r.WorkerID(), "from", from.String(), "to", to.String())
	r.metrics.RecordStateTransition(from, to, elapsed.Seconds())

	go func() {
		if err := r.hooks.OnStateChanged(r.hookCtx, from, to); err != nil {
			r.logger.Error("state change hook error", "from", from.String(), "to", to.String(), "error", err)
		}
	}()
}

func (r *Rebalancer) notifyOwnership(owned []string) {
	go func() {
		if err := r.hooks.OnOwnershipChanged(r.hookCtx, owned); err != nil {
			r.logger.Error("ownership hook error", "error", err)
		}
	}()
}

func (r *Rebalancer) reportError(err error) {
	go func() {
		if herr := r.hooks.OnError(r.hookCtx, err); herr != nil {
			r.logger.Error("error hook error", "error", herr)
		}
	}()
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
