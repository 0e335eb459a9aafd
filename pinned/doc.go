// Package pinned restricts a stream.Processor to a fixed set of partitions.
//
// The rebalancer decides which partitions a worker owns through leases. The
// processor built here sees only those partitions: discovery returns the pinned
// set, every ownership listing reports the worker as the fresh owner, and every
// claim on a pinned partition is approved. The stream processor's own balancing
// therefore never competes with other workers.
//
// Records are forwarded to a Consumer. Progress is persisted to a
// checkpoint.Store periodically and once more when a partition closes, and a
// partition resumes after its last checkpoint, or from the current time when
// it has none.
//
// Example:
//
//	factory, err := pinned.NewFactory(transport, checkpoints, consumer,
//	    pinned.WithCheckpointInterval(10*time.Second),
//	    pinned.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	rb, err := leash.NewRebalancer(&cfg, store, catalog, factory)
package pinned
