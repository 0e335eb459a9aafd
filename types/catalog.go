package types

import "context"

// PartitionCatalog provides the full list of partition ids of the stream.
//
// The catalog is fetched once per rebalance cycle and treated as static for the
// rest of that cycle. The order of the returned ids is the scan order used during
// acquisition, so implementations should return a stable order.
type PartitionCatalog interface {
	// ListPartitions returns every partition id of the stream.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//
	// Returns:
	//   - []string: Partition ids in catalog order
	//   - error: Transient query error (the caller retries)
	ListPartitions(ctx context.Context) ([]string, error)
}
