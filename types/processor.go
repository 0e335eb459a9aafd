package types

import "context"

// PartitionProcessor consumes a fixed set of partitions on behalf of one worker.
//
// The rebalancer creates one processor per rebalance cycle through a
// ProcessorFactory, runs it while the cycle is in StateRunning and stops it
// during teardown.
type PartitionProcessor interface {
	// Start begins consuming the pinned partitions and returns once consumption
	// is underway. The context bounds the processor's lifetime.
	Start(ctx context.Context) error

	// Stop stops consumption and waits for in-flight batches to finish and for
	// checkpoints to be flushed, bounded by the context deadline.
	Stop(ctx context.Context) error

	// Revoke removes a partition from the pinned set after its lease was lost
	// and stops reading it before returning.
	Revoke(partitionID string)

	// Done is closed when the processor stops on its own.
	Done() <-chan struct{}
}

// ProcessorFactory builds a processor pinned to the given partitions.
type ProcessorFactory interface {
	// NewProcessor creates a processor restricted to exactly the given partition ids.
	//
	// Parameters:
	//   - workerID: Identity of the owning worker
	//   - partitions: The owned partition ids
	//
	// Returns:
	//   - PartitionProcessor: A processor that has not been started
	//   - error: Construction error
	NewProcessor(workerID string, partitions []string) (PartitionProcessor, error)
}

// ProcessorFactoryFunc adapts a function to ProcessorFactory.
type ProcessorFactoryFunc func(workerID string, partitions []string) (PartitionProcessor, error)

// NewProcessor calls f(workerID, partitions).
func (f ProcessorFactoryFunc) NewProcessor(workerID string, partitions []string) (PartitionProcessor, error) {
	return f(workerID, partitions)
}
