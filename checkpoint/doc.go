// Package checkpoint persists per-partition read progress.
//
// A checkpoint records the last processed position of a partition and the
// event time of that position. Workers read it once when they start reading a
// partition and write it periodically while they make progress. Checkpoints are
// independent of ownership leases and survive hand-offs between workers.
//
// Every store is bound to a stream source fingerprint (see SourceID). Keys are
// laid out as
//
//	{prefix}.{sourceID}.{partitionID}
//
// so ResetAll can discard checkpoints written for a different source without
// reading their payloads.
package checkpoint
