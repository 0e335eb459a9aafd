package pinned

import (
	"context"
	"slices"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/leash/stream"
)

// pinnedOwnership is both the partition discoverer and the ownership store of
// a pinned processor.
type pinnedOwnership struct {
	ownerID string
	owned   *xsync.Map[string, struct{}]
	clock   func() time.Time
}

var (
	_ stream.PartitionDiscoverer = (*pinnedOwnership)(nil)
	_ stream.OwnershipStore      = (*pinnedOwnership)(nil)
)

func newPinnedOwnership(ownerID string, partitions []string, clock func() time.Time) *pinnedOwnership {
	owned := xsync.NewMap[string, struct{}]()
	for _, id := range partitions {
		owned.Store(id, struct{}{})
	}

	return &pinnedOwnership{ownerID: ownerID, owned: owned, clock: clock}
}

// partitions returns the pinned set in catalog order.
func (o *pinnedOwnership) partitions() []string {
	ids := make([]string, 0, o.owned.Size())
	o.owned.Range(func(id string, _ struct{}) bool {
		ids = append(ids, id)
		return true
	})
	slices.SortFunc(ids, stream.ComparePartitionIDs)

	return ids
}

// revoke removes partitionID and reports whether it was pinned.
func (o *pinnedOwnership) revoke(partitionID string) bool {
	_, ok := o.owned.LoadAndDelete(partitionID)
	return ok
}

// DiscoverPartitions returns the pinned set, ignoring the transport catalog.
func (o *pinnedOwnership) DiscoverPartitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return o.partitions(), nil
}

// ListOwnership reports the owner as the fresh holder of every pinned partition.
func (o *pinnedOwnership) ListOwnership(ctx context.Context) ([]stream.Ownership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := o.clock()
	ids := o.partitions()
	out := make([]stream.Ownership, 0, len(ids))
	for _, id := range ids {
		out = append(out, stream.Ownership{PartitionID: id, OwnerID: o.ownerID, LastModified: now})
	}

	return out, nil
}

// ClaimOwnership approves every claim on a pinned partition.
func (o *pinnedOwnership) ClaimOwnership(ctx context.Context, claims []stream.Ownership) ([]stream.Ownership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := o.clock()
	granted := make([]stream.Ownership, 0, len(claims))
	for _, claim := range claims {
		if _, ok := o.owned.Load(claim.PartitionID); !ok {
			continue
		}
		claim.OwnerID = o.ownerID
		claim.LastModified = now
		granted = append(granted, claim)
	}

	return granted, nil
}
