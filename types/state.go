package types

// State represents the position of a worker within its rebalance cycle.
//
// A cycle follows the progression:
//
//	StateRegistering → StateAcquiring → StateRunning
//
// and ends in one of the cancelled states. A membership change loops back to
// StateRegistering with fresh numbers, shutdown moves on to StateStopped:
//
//	StateRunning → StateCancelledByMembershipChange → StateRegistering
//	StateRunning → StateCancelledByShutdown → StateStopped
type State int

const (
	// StateInit is the initial state before Start is called.
	StateInit State = iota

	// StateRegistering indicates the worker is registering itself and discovering
	// the partition catalog and the active worker count.
	StateRegistering

	// StateAcquiring indicates the worker is claiming its fair share of partitions.
	StateAcquiring

	// StateRunning indicates the pinned stream processor is consuming the owned partitions.
	StateRunning

	// StateCancelledByMembershipChange indicates the cycle was cancelled because
	// the active worker count changed.
	StateCancelledByMembershipChange

	// StateCancelledByShutdown indicates the cycle was cancelled by an operator stop.
	StateCancelledByShutdown

	// StateStopped is the terminal state after shutdown completed.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateRegistering:
		return "Registering"
	case StateAcquiring:
		return "Acquiring"
	case StateRunning:
		return "Running"
	case StateCancelledByMembershipChange:
		return "CancelledByMembershipChange"
	case StateCancelledByShutdown:
		return "CancelledByShutdown"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsCancelled reports whether the state ends a rebalance cycle.
func (s State) IsCancelled() bool {
	return s == StateCancelledByMembershipChange || s == StateCancelledByShutdown
}
