package leash

import "github.com/arloliu/leash/types"

// Re-export types from the types package.
//
// Internal packages depend on `types` rather than on the root package, which
// keeps them free of import cycles while users can still write `leash.State`,
// `leash.Logger` and so on.
type (
	State       = types.State
	OutageError = types.OutageError
)

// Re-export interfaces from the types package for convenience.
type (
	PartitionCatalog   = types.PartitionCatalog
	PartitionProcessor = types.PartitionProcessor
	ProcessorFactory   = types.ProcessorFactory
	MetricsCollector   = types.MetricsCollector
	Logger             = types.Logger
	Hooks              = types.Hooks
)

// ProcessorFactoryFunc adapts a function to ProcessorFactory.
type ProcessorFactoryFunc = types.ProcessorFactoryFunc

// Re-export State constants from the types package.
const (
	StateInit                        = types.StateInit
	StateRegistering                 = types.StateRegistering
	StateAcquiring                   = types.StateAcquiring
	StateRunning                     = types.StateRunning
	StateCancelledByMembershipChange = types.StateCancelledByMembershipChange
	StateCancelledByShutdown         = types.StateCancelledByShutdown
	StateStopped                     = types.StateStopped
)
