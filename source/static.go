package source

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/arloliu/leash/types"
)

// Static implements a partition catalog with a fixed list of partition ids.
type Static struct {
	mu         sync.RWMutex
	partitions []string
}

var _ types.PartitionCatalog = (*Static)(nil)

// NewStatic creates a new static partition catalog.
//
// The catalog returns a fixed list of partition ids in the given order, which
// is also the order the rebalancer scans them in.
//
// Parameters:
//   - partitions: Fixed list of partition ids
//
// Returns:
//   - *Static: Initialized static catalog
//
// Example:
//
//	catalog := source.NewStatic([]string{"0", "1", "2", "3"})
//	rb, err := leash.NewRebalancer(&cfg, store, catalog, factory)
//	if err != nil { /* handle */ }
func NewStatic(partitions []string) *Static {
	return &Static{
		partitions: slices.Clone(partitions),
	}
}

// NewNumbered creates a static catalog of the ids "0" through "n-1".
func NewNumbered(n int) *Static {
	ids := make([]string, 0, max(n, 0))
	for i := range n {
		ids = append(ids, strconv.Itoa(i))
	}

	return &Static{partitions: ids}
}

// ListPartitions returns the static list of partition ids.
//
// Returns:
//   - []string: The fixed list of partition ids
//   - error: Always nil (never fails)
func (s *Static) ListPartitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.partitions), nil
}

// Update replaces the partition list.
//
// The rebalancer reads the catalog once per cycle, so the new list takes
// effect on the next rebalance.
//
// Parameters:
//   - partitions: New list of partition ids
func (s *Static) Update(partitions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partitions = slices.Clone(partitions)
}
