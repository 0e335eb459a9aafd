// Package testutil provides shared helpers for multi-worker integration tests.
//
// It contains:
//   - WorkerCluster: several rebalancers sharing one lease store and one stream
//   - StateTracker: records the state transitions of a worker
//   - Ownership invariants: disjointness and fair-share checks
//   - Wait helpers built on Rebalancer.WaitState
//
// For embedded NATS servers, use the github.com/arloliu/leash/testing package.
package testutil
