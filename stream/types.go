package stream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors returned by the processor and transports.
var (
	// ErrProcessorStopped is returned by Start on a processor that already ran.
	ErrProcessorStopped = errors.New("stream: processor stopped")

	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("stream: processor already started")

	// ErrEndOfPartition is returned by PartitionReader.ReadBatch when the
	// partition is closed and fully read.
	ErrEndOfPartition = errors.New("stream: end of partition")

	// ErrUnknownPartition is returned when opening a partition the transport does not have.
	ErrUnknownPartition = errors.New("stream: unknown partition")

	// ErrHandlerPanic wraps a panic recovered from handler code.
	ErrHandlerPanic = errors.New("stream: handler panic")
)

// Record is one event read from a partition.
type Record struct {
	// PartitionID is the partition the record was read from.
	PartitionID string
	// Position is the transport-specific position (sequence number) of the record.
	Position string
	// Data is the record payload.
	Data []byte
	// EnqueuedAt is when the transport accepted the record.
	EnqueuedAt time.Time
	// NoData marks a synthetic record standing for "no data within the wait window".
	NoData bool
}

// PositionKind selects how a reader picks its first record.
type PositionKind int

const (
	// PositionDefault defers to the processor's configured default start.
	PositionDefault PositionKind = iota
	// PositionEarliest starts at the oldest retained record.
	PositionEarliest
	// PositionLatest starts after the newest record at open time.
	PositionLatest
	// PositionAfter starts right after a known position.
	PositionAfter
	// PositionFromTime starts at the first record enqueued at or after a time.
	PositionFromTime
)

// StartPosition is where a partition reader begins.
type StartPosition struct {
	Kind     PositionKind
	Position string
	Time     time.Time
}

// Earliest starts at the oldest retained record.
func Earliest() StartPosition { return StartPosition{Kind: PositionEarliest} }

// Latest starts with records enqueued after the reader opens.
func Latest() StartPosition { return StartPosition{Kind: PositionLatest} }

// After resumes right after position.
func After(position string) StartPosition {
	return StartPosition{Kind: PositionAfter, Position: position}
}

// FromTime starts at the first record enqueued at or after t.
func FromTime(t time.Time) StartPosition {
	return StartPosition{Kind: PositionFromTime, Time: t}
}

// IsZero reports whether s defers to the default start position.
func (s StartPosition) IsZero() bool {
	return s.Kind == PositionDefault
}

// String returns a readable form for logs.
func (s StartPosition) String() string {
	switch s.Kind {
	case PositionEarliest:
		return "earliest"
	case PositionLatest:
		return "latest"
	case PositionAfter:
		return "after:" + s.Position
	case PositionFromTime:
		return "from:" + s.Time.UTC().Format(time.RFC3339Nano)
	default:
		return "default"
	}
}

// CloseReason tells a handler why a partition stopped being read.
type CloseReason int

const (
	// CloseReasonShutdown means the processor is stopping.
	CloseReasonShutdown CloseReason = iota
	// CloseReasonOwnershipLost means the partition is no longer owned by this processor.
	CloseReasonOwnershipLost
	// CloseReasonEndOfPartition means the partition was closed and fully read.
	CloseReasonEndOfPartition
)

// String returns the reason name.
func (r CloseReason) String() string {
	switch r {
	case CloseReasonShutdown:
		return "shutdown"
	case CloseReasonOwnershipLost:
		return "ownership_lost"
	case CloseReasonEndOfPartition:
		return "end_of_partition"
	default:
		return fmt.Sprintf("CloseReason(%d)", int(r))
	}
}

// Ownership is one partition ownership entry of an OwnershipStore.
type Ownership struct {
	PartitionID  string
	OwnerID      string
	LastModified time.Time
}

// Transport delivers records per partition.
type Transport interface {
	// ListPartitions returns the full partition catalog of the stream.
	ListPartitions(ctx context.Context) ([]string, error)

	// OpenReader opens a reader positioned at start. start is never the zero value.
	OpenReader(ctx context.Context, partitionID string, start StartPosition) (PartitionReader, error)
}

// PartitionReader reads one partition sequentially.
type PartitionReader interface {
	// ReadBatch returns up to maxRecords records, waiting at most maxWait for
	// the first one. An empty result means no data arrived within maxWait.
	ReadBatch(ctx context.Context, maxRecords int, maxWait time.Duration) ([]Record, error)

	// Close releases the reader.
	Close() error
}

// PartitionDiscoverer lists the partitions a processor may read.
type PartitionDiscoverer interface {
	DiscoverPartitions(ctx context.Context) ([]string, error)
}

// PartitionDiscovererFunc adapts a function to PartitionDiscoverer.
type PartitionDiscovererFunc func(ctx context.Context) ([]string, error)

// DiscoverPartitions implements PartitionDiscoverer.
func (f PartitionDiscovererFunc) DiscoverPartitions(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// OwnershipStore records which processor owns which partition.
type OwnershipStore interface {
	// ListOwnership returns the current ownership entries.
	ListOwnership(ctx context.Context) ([]Ownership, error)

	// ClaimOwnership attempts every claim and returns the granted ones with
	// refreshed LastModified times.
	ClaimOwnership(ctx context.Context, claims []Ownership) ([]Ownership, error)
}

// PartitionHandler receives the records of owned partitions.
//
// Methods for one partition are never called concurrently; methods for
// different partitions are.
type PartitionHandler interface {
	// Initialize is called before a partition is (re)opened and returns where to
	// start reading. The zero StartPosition selects the processor default.
	Initialize(ctx context.Context, partitionID string) (StartPosition, error)

	// ProcessBatch handles one batch. An empty batch means no data arrived
	// within the wait window. A returned error re-initializes the partition.
	ProcessBatch(ctx context.Context, partitionID string, records []Record) error

	// ProcessError observes a partition-local fault.
	ProcessError(ctx context.Context, partitionID string, err error)

	// Close is called once a partition pump exits.
	Close(ctx context.Context, partitionID string, reason CloseReason) error
}
