package pinned

import (
	"context"

	"github.com/arloliu/leash/stream"
	"github.com/arloliu/leash/types"
)

// Processor is a stream.Processor pinned to the partitions of one worker.
type Processor struct {
	workerID string
	pinned   *pinnedOwnership
	proc     *stream.Processor
}

// Compile-time assertion that Processor implements types.PartitionProcessor.
var _ types.PartitionProcessor = (*Processor)(nil)

// Start begins reading the pinned partitions. The first balance pass runs
// before Start returns, so every pinned partition has a running pump.
func (p *Processor) Start(ctx context.Context) error {
	return p.proc.Start(ctx)
}

// Stop stops every pump, flushing checkpoints, bounded by ctx.
func (p *Processor) Stop(ctx context.Context) error {
	return p.proc.Stop(ctx)
}

// Revoke unpins partitionID and stops reading it. Its handler closes with
// stream.CloseReasonOwnershipLost.
func (p *Processor) Revoke(partitionID string) {
	if p.pinned.revoke(partitionID) {
		p.proc.StopPartition(partitionID)
	}
}

// Done is closed once the processor stopped.
func (p *Processor) Done() <-chan struct{} {
	return p.proc.Done()
}

// WorkerID returns the owner the processor reads for.
func (p *Processor) WorkerID() string {
	return p.workerID
}

// Partitions returns the pinned partitions.
func (p *Processor) Partitions() []string {
	return p.pinned.partitions()
}

// Reading returns the partitions with a running pump.
func (p *Processor) Reading() []string {
	return p.proc.Partitions()
}
