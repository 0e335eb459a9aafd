package pinned

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"

	"github.com/arloliu/leash/checkpoint"
	"github.com/arloliu/leash/stream"
	"github.com/arloliu/leash/types"
)

// Consumer receives the records of pinned partitions.
//
// Consume is called sequentially per partition and concurrently across
// partitions. A record with NoData set stands for an empty wait window. A
// returned error re-reads the partition from its last checkpoint.
type Consumer interface {
	Consume(ctx context.Context, record stream.Record) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, record stream.Record) error

// Consume calls f(ctx, record).
func (f ConsumerFunc) Consume(ctx context.Context, record stream.Record) error {
	return f(ctx, record)
}

// progress is the unpersisted position of one partition. It is only touched
// by that partition's pump.
type progress struct {
	sometimes rate.Sometimes
	position  string
	eventTime time.Time
	dirty     bool
}

// checkpointHandler resumes partitions from checkpoints and forwards records
// to the consumer.
type checkpointHandler struct {
	ownerID     string
	checkpoints checkpoint.Store
	consumer    Consumer
	interval    time.Duration
	logger      types.Logger
	metrics     types.ProcessorMetrics
	clock       func() time.Time

	progress *xsync.Map[string, *progress]
}

var _ stream.PartitionHandler = (*checkpointHandler)(nil)

func (h *checkpointHandler) newProgress() *progress {
	p := &progress{}
	if h.interval > 0 {
		p.sometimes = rate.Sometimes{Interval: h.interval}
	} else {
		p.sometimes = rate.Sometimes{Every: 1}
	}

	return p
}

// Initialize resumes after the stored checkpoint, or from now without one.
func (h *checkpointHandler) Initialize(ctx context.Context, partitionID string) (stream.StartPosition, error) {
	h.progress.Store(partitionID, h.newProgress())

	cp, found, err := h.checkpoints.Get(ctx, partitionID)
	if err != nil {
		return stream.StartPosition{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if !found {
		start := stream.FromTime(h.clock())
		h.logger.Debug("partition has no checkpoint", "worker", h.ownerID, "partition", partitionID, "start", start.String())

		return start, nil
	}

	h.logger.Debug("partition resuming from checkpoint", "worker", h.ownerID, "partition", partitionID,
		"position", cp.Position, "time", cp.Time)

	return stream.After(cp.Position), nil
}

// ProcessBatch forwards records, or a NoData marker for an empty batch, and
// persists progress when the checkpoint interval allows.
func (h *checkpointHandler) ProcessBatch(ctx context.Context, partitionID string, records []stream.Record) error {
	p, _ := h.progress.LoadOrStore(partitionID, h.newProgress())

	if len(records) == 0 {
		marker := stream.Record{PartitionID: partitionID, NoData: true, EnqueuedAt: h.clock()}
		if err := h.consumer.Consume(ctx, marker); err != nil {
			return fmt.Errorf("consume no-data marker: %w", err)
		}
		p.sometimes.Do(func() { h.flush(ctx, partitionID, p) })

		return nil
	}

	for _, rec := range records {
		if err := h.consumer.Consume(ctx, rec); err != nil {
			return fmt.Errorf("consume record at %s: %w", rec.Position, err)
		}
		p.position = rec.Position
		p.eventTime = rec.EnqueuedAt.UTC()
		p.dirty = true
	}

	p.sometimes.Do(func() { h.flush(ctx, partitionID, p) })

	return nil
}

// ProcessError logs a partition-local fault. The processor re-initializes the
// partition afterwards.
func (h *checkpointHandler) ProcessError(_ context.Context, partitionID string, err error) {
	if errors.Is(err, context.Canceled) {
		h.logger.Debug("partition processing cancelled", "worker", h.ownerID, "partition", partitionID)
		return
	}

	h.logger.Warn("partition processing failed", "worker", h.ownerID, "partition", partitionID, "error", err)
}

// Close persists pending progress. A failed write is logged; the partition
// resumes from the previous checkpoint wherever it is read next.
func (h *checkpointHandler) Close(ctx context.Context, partitionID string, reason stream.CloseReason) error {
	p, ok := h.progress.LoadAndDelete(partitionID)
	if ok {
		h.flush(ctx, partitionID, p)
	}

	h.logger.Debug("partition closed", "worker", h.ownerID, "partition", partitionID, "reason", reason.String())

	return nil
}

func (h *checkpointHandler) flush(ctx context.Context, partitionID string, p *progress) {
	if !p.dirty {
		return
	}

	err := h.checkpoints.Set(ctx, partitionID, p.position, p.eventTime)
	h.metrics.RecordCheckpoint(partitionID, err == nil)
	if err != nil {
		h.logger.Warn("checkpoint write failed", "worker", h.ownerID, "partition", partitionID,
			"position", p.position, "error", err)

		return
	}
	p.dirty = false
}
