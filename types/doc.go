// Package types provides core type definitions and interfaces for the leash library.
//
// This package contains shared types that are used across multiple packages in the
// library. By keeping these types in a separate package, we avoid import cycles
// between the root leash package and its internal implementations.
//
// Key types:
//   - State: Rebalance cycle state
//   - PartitionCatalog: Source of the stream's partition ids
//   - PartitionProcessor: Stream processor pinned to an owned partition set
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
