// Package coordinator implements partition ownership on top of a lease.Store.
//
// A Coordinator is bound to one worker. It publishes the worker's liveness
// record, scans the liveness records of all workers (deleting stale ones as it
// goes), and claims and renews per-partition ownership leases. It also keeps a
// local cache of the partitions the worker believes it owns; the cache is
// rebuilt by the rebalancer at the start of every cycle and is never shared.
//
// # Key Layout
//
//	{livenessPrefix}.{workerID}      liveness record, refreshed by its worker
//	{ownershipPrefix}.{partitionID}  ownership lease
//
// Worker and partition IDs must not contain '.'.
//
// # Liveness
//
// A worker is active while the last write to its liveness record is no older
// than LivenessTTL. Whichever worker observes a stale record during
// ListActiveWorkers deletes it.
package coordinator
