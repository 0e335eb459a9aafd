package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/leash/internal/logging"
	"github.com/arloliu/leash/internal/metrics"
	"github.com/arloliu/leash/types"
)

// Processor reads owned partitions and dispatches their records to a handler.
//
// A Processor runs once: Start launches it, Stop (or cancelling the Start
// context) ends it, and Done is closed once every partition pump has exited
// and its handler Close returned.
type Processor struct {
	transport  Transport
	handler    PartitionHandler
	cfg        Config
	discoverer PartitionDiscoverer
	ownership  OwnershipStore
	logger     types.Logger
	metrics    types.ProcessorMetrics
	clock      func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// balanceMu serializes balance passes with StopPartition, so a partition
	// stopped while a pass is deciding grants is not restarted by that pass.
	balanceMu sync.Mutex
	pumps     *xsync.Map[string, *pump]
	finished  *xsync.Map[string, struct{}]
	wg        sync.WaitGroup

	retry *retryPolicy
}

// pump is the running reader of one partition.
type pump struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	reason CloseReason
}

func (p *pump) stop(reason CloseReason) {
	p.mu.Lock()
	p.reason = reason
	p.mu.Unlock()
	p.cancel()
}

func (p *pump) closeReason() CloseReason {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.reason
}

// Option configures a Processor.
type Option func(*Processor)

// WithDiscoverer replaces transport catalog discovery.
func WithDiscoverer(d PartitionDiscoverer) Option {
	return func(p *Processor) {
		if d != nil {
			p.discoverer = d
		}
	}
}

// WithOwnershipStore replaces the default private ownership store.
func WithOwnershipStore(s OwnershipStore) Option {
	return func(p *Processor) {
		if s != nil {
			p.ownership = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.ProcessorMetrics) Option {
	return func(p *Processor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewProcessor creates a processor over transport.
//
// Parameters:
//   - transport: Record source
//   - handler: Receives batches of owned partitions
//   - cfg: Processor settings; zero fields take defaults, OwnerID is required
//
// Returns:
//   - *Processor: Processor ready to Start
//   - error: Invalid configuration
//
// Example:
//
//	proc, err := stream.NewProcessor(transport, handler, stream.Config{OwnerID: "worker-1"})
//	if err != nil {
//	    return err
//	}
//	if err := proc.Start(ctx); err != nil {
//	    return err
//	}
//	defer proc.Stop(context.Background())
func NewProcessor(transport Transport, handler PartitionHandler, cfg Config, opts ...Option) (*Processor, error) {
	if transport == nil {
		return nil, errors.New("stream: transport is required")
	}
	if handler == nil {
		return nil, errors.New("stream: handler is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		transport:  transport,
		handler:    handler,
		cfg:        cfg,
		discoverer: PartitionDiscovererFunc(transport.ListPartitions),
		ownership:  NewMemoryOwnershipStore(cfg.OwnershipExpiration),
		logger:     logging.NewNop(),
		metrics:    metrics.NewNop(),
		clock:      time.Now,
		done:       make(chan struct{}),
		pumps:      xsync.NewMap[string, *pump](),
		finished:   xsync.NewMap[string, struct{}](),
		retry:      newRetryPolicy(cfg),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Start runs the first balance pass and launches the processor in the
// background. Cancelling ctx stops the processor like Stop does.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		if p.cancel == nil {
			return ErrProcessorStopped
		}

		return ErrAlreadyStarted
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.balance(runCtx)
	go p.run(runCtx)

	return nil
}

// Stop stops every partition pump and waits until they exit, or until ctx ends.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream: stop: %w", ctx.Err())
	}
}

// Done is closed after the processor stopped and every pump exited.
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// StopPartition stops reading partitionID with CloseReasonOwnershipLost and
// waits for its pump to exit. A partition that is not being read is ignored.
// A balance pass in progress completes first. Later passes start the
// partition again only if discovery and ownership still grant it.
func (p *Processor) StopPartition(partitionID string) {
	p.balanceMu.Lock()
	pp, ok := p.pumps.LoadAndDelete(partitionID)
	if ok {
		pp.stop(CloseReasonOwnershipLost)
	}
	p.balanceMu.Unlock()

	if ok {
		<-pp.done
	}
}

// Partitions returns the partitions currently being read, sorted.
func (p *Processor) Partitions() []string {
	out := make([]string, 0, p.pumps.Size())
	p.pumps.Range(func(id string, _ *pump) bool {
		out = append(out, id)
		return true
	})
	slices.Sort(out)

	return out
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.LoadBalancingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.pumps.Range(func(id string, pp *pump) bool {
				pp.stop(CloseReasonShutdown)
				return true
			})
			p.wg.Wait()
			p.logger.Debug("stream processor stopped", "owner", p.cfg.OwnerID)

			return
		case <-ticker.C:
			p.balance(ctx)
		}
	}
}

// balance reconciles running pumps with the partitions granted to this owner.
func (p *Processor) balance(ctx context.Context) {
	p.balanceMu.Lock()
	defer p.balanceMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	partitions, err := p.discoverer.DiscoverPartitions(ctx)
	if err != nil {
		p.logger.Warn("partition discovery failed", "owner", p.cfg.OwnerID, "error", err)
		return
	}
	ownerships, err := p.ownership.ListOwnership(ctx)
	if err != nil {
		p.logger.Warn("ownership listing failed", "owner", p.cfg.OwnerID, "error", err)
		return
	}

	claims := planClaims(p.cfg.OwnerID, partitions, ownerships, p.clock(), p.cfg.OwnershipExpiration)
	granted, err := p.ownership.ClaimOwnership(ctx, claims)
	if err != nil {
		p.logger.Warn("ownership claim failed", "owner", p.cfg.OwnerID, "error", err)
		return
	}

	grantedSet := make(map[string]struct{}, len(granted))
	for _, o := range granted {
		grantedSet[o.PartitionID] = struct{}{}
	}

	p.pumps.Range(func(id string, pp *pump) bool {
		if _, ok := grantedSet[id]; !ok {
			p.pumps.Delete(id)
			pp.stop(CloseReasonOwnershipLost)
		}

		return true
	})

	for _, o := range granted {
		if _, done := p.finished.Load(o.PartitionID); done {
			continue
		}
		if _, running := p.pumps.Load(o.PartitionID); running {
			continue
		}
		p.startPump(ctx, o.PartitionID)
	}
}

func (p *Processor) startPump(parent context.Context, partitionID string) {
	ctx, cancel := context.WithCancel(parent)
	pp := &pump{cancel: cancel, done: make(chan struct{}), reason: CloseReasonShutdown}
	p.pumps.Store(partitionID, pp)

	p.logger.Debug("partition pump starting", "owner", p.cfg.OwnerID, "partition", partitionID)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(pp.done)
		defer cancel()

		ended := p.runPump(ctx, partitionID)
		if ended {
			p.finished.Store(partitionID, struct{}{})
			p.pumps.Compute(partitionID, func(old *pump, loaded bool) (*pump, xsync.ComputeOp) {
				if loaded && old == pp {
					return nil, xsync.DeleteOp
				}

				return old, xsync.CancelOp
			})
		}

		reason := pp.closeReason()
		if ended {
			reason = CloseReasonEndOfPartition
		}
		p.closePartition(ctx, partitionID, reason)
	}()
}

// runPump reads partitionID until ctx ends, re-initializing after faults.
// It reports whether the partition reached its end.
func (p *Processor) runPump(ctx context.Context, partitionID string) bool {
	var delay time.Duration
	for {
		progressed, err := p.readPartition(ctx, partitionID)
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, ErrEndOfPartition) {
			p.logger.Info("partition fully read", "owner", p.cfg.OwnerID, "partition", partitionID)
			return true
		}

		p.reportError(ctx, partitionID, err)
		if progressed {
			delay = 0
		}
		delay = p.retry.next(delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// readPartition opens partitionID and processes batches until an error.
// progressed is true when at least one batch was handled successfully.
func (p *Processor) readPartition(ctx context.Context, partitionID string) (progressed bool, err error) {
	start, err := p.initialize(ctx, partitionID)
	if err != nil {
		return false, fmt.Errorf("initialize partition %s: %w", partitionID, err)
	}
	if start.IsZero() {
		start = p.cfg.DefaultStart
	}

	reader, err := p.transport.OpenReader(ctx, partitionID, start)
	if err != nil {
		return false, fmt.Errorf("open partition %s at %s: %w", partitionID, start, err)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			p.logger.Debug("partition reader close failed", "partition", partitionID, "error", cerr)
		}
	}()

	for {
		records, err := reader.ReadBatch(ctx, p.cfg.MaxBatchSize, p.cfg.MaxWaitTime)
		if ctx.Err() != nil {
			return progressed, ctx.Err()
		}
		end := errors.Is(err, ErrEndOfPartition)
		if err != nil && !end {
			return progressed, fmt.Errorf("read partition %s: %w", partitionID, err)
		}

		if len(records) > 0 || !end {
			if err := p.process(ctx, partitionID, records); err != nil {
				p.metrics.RecordProcessingError(partitionID)
				return progressed, fmt.Errorf("process partition %s: %w", partitionID, err)
			}
			p.metrics.RecordRecordsProcessed(partitionID, len(records))
			progressed = true
		}

		if end {
			return progressed, ErrEndOfPartition
		}
	}
}

func (p *Processor) initialize(ctx context.Context, partitionID string) (start StartPosition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return p.handler.Initialize(ctx, partitionID)
}

func (p *Processor) process(ctx context.Context, partitionID string, records []Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return p.handler.ProcessBatch(ctx, partitionID, records)
}

func (p *Processor) reportError(ctx context.Context, partitionID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("error handler panicked", "partition", partitionID, "panic", r)
		}
	}()

	p.handler.ProcessError(ctx, partitionID, err)
}

func (p *Processor) closePartition(ctx context.Context, partitionID string, reason CloseReason) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CloseTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("partition close panicked", "partition", partitionID, "panic", r)
		}
	}()

	if err := p.handler.Close(closeCtx, partitionID, reason); err != nil {
		p.logger.Warn("partition close failed", "partition", partitionID, "reason", reason.String(), "error", err)
	}
	p.logger.Debug("partition pump stopped", "owner", p.cfg.OwnerID, "partition", partitionID, "reason", reason.String())
}
