package pinned

import (
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/leash/checkpoint"
	"github.com/arloliu/leash/internal/logging"
	"github.com/arloliu/leash/internal/metrics"
	"github.com/arloliu/leash/stream"
	"github.com/arloliu/leash/types"
)

// DefaultCheckpointInterval is how often progress is persisted while a
// partition is being read.
const DefaultCheckpointInterval = 10 * time.Second

var (
	// ErrTransportRequired is returned by NewFactory without a transport.
	ErrTransportRequired = errors.New("pinned: transport is required")

	// ErrCheckpointStoreRequired is returned by NewFactory without a checkpoint store.
	ErrCheckpointStoreRequired = errors.New("pinned: checkpoint store is required")

	// ErrConsumerRequired is returned by NewFactory without a consumer.
	ErrConsumerRequired = errors.New("pinned: consumer is required")
)

// Factory builds pinned processors for the rebalancer.
type Factory struct {
	transport          stream.Transport
	checkpoints        checkpoint.Store
	consumer           Consumer
	streamCfg          stream.Config
	checkpointInterval time.Duration
	logger             types.Logger
	metrics            types.ProcessorMetrics
	clock              func() time.Time
}

// Compile-time assertion that Factory implements types.ProcessorFactory.
var _ types.ProcessorFactory = (*Factory)(nil)

// Option configures a Factory.
type Option func(*Factory)

// WithStreamConfig sets the stream processor settings. OwnerID is replaced by
// the worker ID of each processor.
func WithStreamConfig(cfg stream.Config) Option {
	return func(f *Factory) {
		f.streamCfg = cfg
	}
}

// WithCheckpointInterval sets how often progress is persisted. Zero or less
// persists after every batch.
func WithCheckpointInterval(d time.Duration) Option {
	return func(f *Factory) {
		f.checkpointInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.ProcessorMetrics) Option {
	return func(f *Factory) {
		if m != nil {
			f.metrics = m
		}
	}
}

// WithClock sets the time source used for fresh ownership and no-checkpoint starts.
func WithClock(clock func() time.Time) Option {
	return func(f *Factory) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// NewFactory creates a factory reading from transport.
//
// Parameters:
//   - transport: Record source shared by every processor
//   - checkpoints: Checkpoint store of the stream source
//   - consumer: Receives every record of the pinned partitions
//   - opts: Optional settings
//
// Returns:
//   - *Factory: Factory to pass to the rebalancer
//   - error: Missing collaborator or invalid stream settings
func NewFactory(transport stream.Transport, checkpoints checkpoint.Store, consumer Consumer, opts ...Option) (*Factory, error) {
	switch {
	case transport == nil:
		return nil, ErrTransportRequired
	case checkpoints == nil:
		return nil, ErrCheckpointStoreRequired
	case consumer == nil:
		return nil, ErrConsumerRequired
	}

	f := &Factory{
		transport:          transport,
		checkpoints:        checkpoints,
		consumer:           consumer,
		streamCfg:          stream.DefaultConfig(),
		checkpointInterval: DefaultCheckpointInterval,
		logger:             logging.NewNop(),
		metrics:            metrics.NewNop(),
		clock:              time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	check := f.streamCfg
	check.OwnerID = "validate"
	check.SetDefaults()
	if err := check.Validate(); err != nil {
		return nil, fmt.Errorf("pinned: %w", err)
	}

	return f, nil
}

// NewProcessor implements types.ProcessorFactory.
func (f *Factory) NewProcessor(workerID string, partitions []string) (types.PartitionProcessor, error) {
	return f.New(workerID, partitions)
}

// New returns a processor pinned to partitions.
func (f *Factory) New(workerID string, partitions []string) (*Processor, error) {
	for _, id := range partitions {
		if err := checkpoint.ValidatePartitionID(id); err != nil {
			return nil, fmt.Errorf("pinned: %w", err)
		}
	}

	cfg := f.streamCfg
	cfg.OwnerID = workerID
	pinned := newPinnedOwnership(workerID, partitions, f.clock)
	handler := &checkpointHandler{
		ownerID:     workerID,
		checkpoints: f.checkpoints,
		consumer:    f.consumer,
		interval:    f.checkpointInterval,
		logger:      f.logger,
		metrics:     f.metrics,
		clock:       f.clock,
		progress:    xsync.NewMap[string, *progress](),
	}

	proc, err := stream.NewProcessor(f.transport, handler, cfg,
		stream.WithDiscoverer(pinned),
		stream.WithOwnershipStore(pinned),
		stream.WithLogger(f.logger),
		stream.WithMetrics(f.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("pinned: %w", err)
	}

	return &Processor{workerID: workerID, pinned: pinned, proc: proc}, nil
}
