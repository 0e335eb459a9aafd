// Package stream is a partitioned event-stream processor.
//
// A Processor reads every partition it owns with one pump goroutine per
// partition and hands batches of records to a PartitionHandler. Which
// partitions it owns is decided by a periodic balance pass built from two
// pluggable hooks:
//
//   - PartitionDiscoverer lists the partitions the processor may read
//     (defaults to the transport's full catalog)
//   - OwnershipStore lists and grants ownership claims (defaults to an
//     in-process store shared by cooperating processors)
//
// Replacing both hooks lets an outer coordinator pin a processor to a fixed
// partition set, which is what package pinned does.
//
// # Transports
//
// Records come from a Transport: MemoryTransport (tests and simulations),
// JetStreamTransport (one subject per partition, read through ordered
// consumers) and KinesisTransport (one shard per partition, polled with
// GetRecords).
//
// # Faults
//
// Errors returned or panics raised by the handler, and transport read errors,
// are reported through PartitionHandler.ProcessError. The pump then
// re-initializes the partition after a jittered backoff, which resumes from the
// handler's start position (normally its last checkpoint). A fault never stops
// other partitions or the processor.
package stream
