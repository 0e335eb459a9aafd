// Package source provides partition catalogs for the rebalancer.
//
// The package includes:
//
//   - Static: Fixed list of partition ids
//   - Transport: Catalog queried from a stream transport
//
// Custom catalogs can be implemented by satisfying the types.PartitionCatalog interface.
package source
