// Package leash spreads the partitions of a stream across a dynamic set of
// workers by leasing them in a shared key-value store.
//
// There is no leader. Every worker registers a liveness record, counts the
// active workers M, and leases floor(N/M) of the N catalog partitions with
// conditional writes. A lease is exclusive until it expires, so two workers
// never read the same partition at the same time. When the active worker count
// changes, every worker cancels its cycle and acquires again.
//
// # Quick Start
//
//	import (
//	    "github.com/arloliu/leash"
//	    "github.com/arloliu/leash/checkpoint"
//	    "github.com/arloliu/leash/lease"
//	    "github.com/arloliu/leash/pinned"
//	    "github.com/arloliu/leash/source"
//	)
//
//	store, err := lease.OpenNATSStore(ctx, js, lease.BucketSpec{Name: "orders-leases"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	factory, err := pinned.NewFactory(transport, checkpoints, consumer)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg := leash.DefaultConfig()
//	rb, err := leash.NewRebalancer(&cfg, store, source.NewTransport(transport), factory)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := rb.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer rb.Stop(context.Background())
//
// # Rebalance cycle
//
// A worker moves through a state machine:
//
//	Init → Registering → Acquiring → Running
//
// Running ends in CancelledByMembershipChange when the membership watch sees a
// different worker count, after which the cycle starts over in Registering.
// Stop moves the worker through CancelledByShutdown to Stopped.
//
// Partitions beyond floor(N/M) stay unowned until the worker count changes.
// A worker that sees zero active workers, its own record included, reports a
// coordination outage through Hooks.OnError and retries after
// Config.OutageRetryDelay.
//
// # Packages
//
//   - lease: Lease store contract with memory, NATS KV and S3 backends
//   - checkpoint: Per-partition checkpoint stores
//   - stream: Partition processor runtime with JetStream, Kinesis and memory transports
//   - pinned: Processor factory that reads exactly the leased partitions
//   - source: Partition catalogs
//   - testing: Embedded NATS and clock helpers for tests
package leash
