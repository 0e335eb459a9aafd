package stream

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"
)

// MemoryTransport is an in-process Transport with a fixed partition set.
// Positions are 1-based sequence numbers per partition.
type MemoryTransport struct {
	mu         sync.Mutex
	partitions []string
	logs       map[string][]Record
	faults     map[string]error
	closed     map[string]bool
	notify     chan struct{}
	clock      func() time.Time
}

// Compile-time assertion that MemoryTransport implements Transport.
var _ Transport = (*MemoryTransport)(nil)

// NewMemoryTransport creates a transport with the given partitions.
func NewMemoryTransport(partitions ...string) *MemoryTransport {
	t := &MemoryTransport{
		partitions: slices.Clone(partitions),
		logs:       make(map[string][]Record, len(partitions)),
		faults:     make(map[string]error),
		closed:     make(map[string]bool),
		notify:     make(chan struct{}),
		clock:      time.Now,
	}
	for _, id := range partitions {
		t.logs[id] = nil
	}

	return t
}

// Append adds records with the given payloads to partitionID and returns the
// position of the last one.
func (t *MemoryTransport) Append(partitionID string, payloads ...[]byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	log, ok := t.logs[partitionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPartition, partitionID)
	}
	if t.closed[partitionID] {
		return "", fmt.Errorf("stream: partition %s is closed", partitionID)
	}
	for _, data := range payloads {
		log = append(log, Record{
			PartitionID: partitionID,
			Position:    strconv.Itoa(len(log) + 1),
			Data:        slices.Clone(data),
			EnqueuedAt:  t.clock(),
		})
	}
	t.logs[partitionID] = log
	t.wake()

	return strconv.Itoa(len(log)), nil
}

// ClosePartition marks partitionID closed; readers get ErrEndOfPartition once
// they read past its last record.
func (t *MemoryTransport) ClosePartition(partitionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed[partitionID] = true
	t.wake()
}

// InjectFault makes the next ReadBatch on partitionID fail with err.
func (t *MemoryTransport) InjectFault(partitionID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.faults[partitionID] = err
	t.wake()
}

// wake releases blocked readers. Caller holds t.mu.
func (t *MemoryTransport) wake() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// ListPartitions implements Transport.
func (t *MemoryTransport) ListPartitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return slices.Clone(t.partitions), nil
}

// OpenReader implements Transport.
func (t *MemoryTransport) OpenReader(ctx context.Context, partitionID string, start StartPosition) (PartitionReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	log, ok := t.logs[partitionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, partitionID)
	}

	var next int
	switch start.Kind {
	case PositionEarliest:
		next = 0
	case PositionAfter:
		n, err := strconv.Atoi(start.Position)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("stream: invalid position %q", start.Position)
		}
		next = min(n, len(log))
	case PositionFromTime:
		next = len(log)
		for i, rec := range log {
			if !rec.EnqueuedAt.Before(start.Time) {
				next = i
				break
			}
		}
	default:
		next = len(log)
	}

	return &memoryReader{transport: t, partitionID: partitionID, next: next}, nil
}

type memoryReader struct {
	transport   *MemoryTransport
	partitionID string
	next        int
}

// ReadBatch implements PartitionReader.
func (r *memoryReader) ReadBatch(ctx context.Context, maxRecords int, maxWait time.Duration) ([]Record, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for {
		t := r.transport
		t.mu.Lock()
		if err, ok := t.faults[r.partitionID]; ok {
			delete(t.faults, r.partitionID)
			t.mu.Unlock()

			return nil, err
		}
		log := t.logs[r.partitionID]
		if r.next < len(log) {
			end := min(len(log), r.next+maxRecords)
			batch := slices.Clone(log[r.next:end])
			r.next = end
			t.mu.Unlock()

			return batch, nil
		}
		if t.closed[r.partitionID] {
			t.mu.Unlock()
			return nil, ErrEndOfPartition
		}
		notify := t.notify
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return []Record{}, nil
		case <-notify:
		}
	}
}

// Close implements PartitionReader.
func (r *memoryReader) Close() error {
	return nil
}
