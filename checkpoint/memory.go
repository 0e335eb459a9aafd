package checkpoint

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryStore keeps checkpoints in process memory. Several MemoryStores can
// share one backing map through Shared to simulate workers reading each
// other's checkpoints.
type MemoryStore struct {
	keys    keyspace
	records *xsync.Map[string, Checkpoint]
	clock   func() time.Time
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store for the given source fingerprint.
func NewMemoryStore(sourceID string) *MemoryStore {
	return &MemoryStore{
		keys:    keyspace{prefix: DefaultPrefix, source: sourceID},
		records: xsync.NewMap[string, Checkpoint](),
		clock:   time.Now,
	}
}

// Shared returns a store for sourceID backed by the same records as s.
func (s *MemoryStore) Shared(sourceID string) *MemoryStore {
	return &MemoryStore{
		keys:    keyspace{prefix: s.keys.prefix, source: sourceID},
		records: s.records,
		clock:   s.clock,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, partitionID string) (Checkpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, false, err
	}
	cp, ok := s.records.Load(s.keys.key(partitionID))

	return cp, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, partitionID, position string, eventTime time.Time) error {
	if err := ValidatePartitionID(partitionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.records.Store(s.keys.key(partitionID), Checkpoint{
		PartitionID: partitionID,
		Position:    position,
		Time:        eventTime.UTC(),
		UpdatedAt:   s.clock().UTC(),
	})

	return nil
}

// ResetAll implements Store.
func (s *MemoryStore) ResetAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.records.Range(func(key string, _ Checkpoint) bool {
		if s.keys.foreign(key) {
			s.records.Delete(key)
		}

		return true
	})

	return nil
}

// Len returns the number of stored checkpoints across all sources.
func (s *MemoryStore) Len() int {
	return s.records.Size()
}
