package leash

// validTransitions lists the states reachable from each state.
//
//	Init → Registering → Acquiring → Running
//	                         │           │
//	                         └───────────┴→ CancelledByMembershipChange → Registering
//
// A cycle that fails while Acquiring restarts in Registering. Every
// non-terminal state may move to CancelledByShutdown, which ends in Stopped.
var validTransitions = map[State][]State{
	StateInit:                        {StateRegistering, StateCancelledByShutdown},
	StateRegistering:                 {StateAcquiring, StateCancelledByShutdown},
	StateAcquiring:                   {StateRunning, StateCancelledByMembershipChange, StateRegistering, StateCancelledByShutdown},
	StateRunning:                     {StateCancelledByMembershipChange, StateCancelledByShutdown},
	StateCancelledByMembershipChange: {StateRegistering, StateCancelledByShutdown},
	StateCancelledByShutdown:         {StateStopped},
	StateStopped:                     {},
}

// isValidTransition validates that a state transition is allowed.
//
// Returns:
//   - bool: true if transition is valid, false otherwise
func isValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}
