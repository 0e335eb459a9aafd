package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leash/internal/kvutil"
	"github.com/arloliu/leash/internal/natsutil"
)

// NATSStore keeps checkpoints in a JetStream KeyValue bucket, one entry per
// partition. Writes are last-writer-wins; only the partition owner writes.
type NATSStore struct {
	kv    jetstream.KeyValue
	keys  keyspace
	clock func() time.Time
}

// BucketSpec describes the KV bucket opened by OpenNATSStore.
type BucketSpec = kvutil.BucketSpec

// Compile-time assertion that NATSStore implements Store.
var _ Store = (*NATSStore)(nil)

// NewNATSStore wraps an existing bucket for the given source fingerprint.
func NewNATSStore(kv jetstream.KeyValue, sourceID string) *NATSStore {
	return &NATSStore{
		kv:    kv,
		keys:  keyspace{prefix: DefaultPrefix, source: sourceID},
		clock: time.Now,
	}
}

// OpenNATSStore creates or opens the bucket described by spec.
//
// Example:
//
//	store, err := checkpoint.OpenNATSStore(ctx, js, checkpoint.BucketSpec{Name: "leash-checkpoints"},
//	    checkpoint.SourceID("jetstream", "EVENTS"))
func OpenNATSStore(ctx context.Context, js jetstream.JetStream, spec BucketSpec, sourceID string) (*NATSStore, error) {
	kv, err := kvutil.Ensure(ctx, js, spec)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint bucket: %w", err)
	}

	return NewNATSStore(kv, sourceID), nil
}

// Get implements Store.
func (s *NATSStore) Get(ctx context.Context, partitionID string) (Checkpoint, bool, error) {
	if err := ValidatePartitionID(partitionID); err != nil {
		return Checkpoint{}, false, err
	}

	entry, err := s.kv.Get(ctx, s.keys.key(partitionID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, natsutil.Wrap("get checkpoint "+partitionID, err)
	}

	cp, err := decode(entry.Value())
	if err != nil {
		return Checkpoint{}, false, err
	}

	return cp, true, nil
}

// Set implements Store.
func (s *NATSStore) Set(ctx context.Context, partitionID, position string, eventTime time.Time) error {
	if err := ValidatePartitionID(partitionID); err != nil {
		return err
	}

	raw, err := encode(Checkpoint{
		PartitionID: partitionID,
		Position:    position,
		Time:        eventTime.UTC(),
		UpdatedAt:   s.clock().UTC(),
	})
	if err != nil {
		return err
	}

	if _, err := s.kv.Put(ctx, s.keys.key(partitionID), raw); err != nil {
		return natsutil.Wrap("set checkpoint "+partitionID, err)
	}

	return nil
}

// ResetAll implements Store.
func (s *NATSStore) ResetAll(ctx context.Context) error {
	lister, err := s.kv.ListKeysFiltered(ctx, s.keys.prefix+".>")
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil
	}
	if err != nil {
		return natsutil.Wrap("list checkpoints", err)
	}
	defer lister.Stop() //nolint:errcheck

	var foreign []string
	for key := range lister.Keys() {
		if s.keys.foreign(key) {
			foreign = append(foreign, key)
		}
	}

	for _, key := range foreign {
		if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return natsutil.Wrap("delete checkpoint "+key, err)
		}
	}

	return nil
}
