// Package heartbeat keeps a worker's liveness record fresh.
//
// A Publisher calls its Registrar (normally the worker's coordinator) once on
// Start and then at a fixed interval until Stop. Peers treat a worker as active
// while its liveness record was written within the liveness TTL, so a crashed
// worker drops out of the active set one TTL after its last refresh.
//
// # Publisher Lifecycle
//
//  1. Create publisher with New(registrar, workerID, interval)
//  2. Start publishing with Start(ctx); the first refresh is synchronous
//  3. Stop publishing with Stop(); the record is left to expire
//
// Example:
//
//	publisher := heartbeat.New(coord, "worker-1", 15*time.Second)
//	if err := publisher.Start(ctx); err != nil {
//	    return err
//	}
//	defer publisher.Stop()
//
// # Failures
//
// A failed periodic refresh is logged and counted; the publisher keeps trying
// on the next tick. Missing several ticks in a row makes peers see the worker
// as gone, which triggers a rebalance on their side.
package heartbeat
