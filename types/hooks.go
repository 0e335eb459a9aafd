package types

import "context"

// Hooks defines callbacks for rebalancer lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// so they never block the rebalance cycle. Hooks receive the rebalancer's
// lifecycle context, which is cancelled during shutdown. Hook errors are
// logged and otherwise ignored.
//
// Example:
//
//	hooks := &leash.Hooks{
//	    OnOwnershipChanged: func(ctx context.Context, owned []string) error {
//	        ownedGauge.Set(float64(len(owned)))
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnOwnershipChanged is called after acquisition completes with the full owned set,
	// and again whenever a partition is dropped because its lease was lost.
	OnOwnershipChanged func(ctx context.Context, owned []string) error

	// OnStateChanged is called when the rebalance cycle transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnError is called when a recoverable error occurs, including coordination outages.
	OnError func(ctx context.Context, err error) error
}
