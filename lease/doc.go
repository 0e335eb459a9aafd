// Package lease provides the shared lease store used for partition ownership and
// worker liveness.
//
// A Store keeps one record per key. Records optionally carry a time-bounded lease
// (holder id plus expiry) that is only ever granted through conditional writes,
// so at most one holder has a valid lease on a key at any time. Keys are
// dot-separated token paths built with Key, for example "ownership.7" or
// "liveness.worker-3".
//
// Three backends are provided:
//   - MemoryStore: in-process store for tests and simulations
//   - NATSStore: NATS JetStream KeyValue, using revision-checked updates
//   - S3Store: S3 objects, using If-None-Match / If-Match conditional writes
//
// "Lease already held" is ordinary control flow: AcquireLease and RenewLease
// report it as false with a nil error. Errors are reserved for store faults.
package lease
