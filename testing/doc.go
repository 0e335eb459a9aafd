// Package testing provides test utilities for the leash library.
//
// This package offers helpers for setting up test environments, particularly
// embedded NATS servers for lease, checkpoint and transport tests. It follows
// Go's convention of providing testing utilities in a dedicated package
// (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single NATS server with JetStream
//   - CreateJetStreamKV: Convenience wrapper for KV bucket creation
//   - CreateStream: Convenience wrapper for stream creation
//   - Clock: Manually advanced clock for lease expiry tests
//   - NewTestLogger: Logger writing to testing.T
//
// Example usage:
//
//	import (
//	    "testing"
//	    leashtest "github.com/arloliu/leash/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := leashtest.StartEmbeddedNATS(t)
//	    kv := leashtest.CreateJetStreamKV(t, nc, "leases")
//	}
package testing
