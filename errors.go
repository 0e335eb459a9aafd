package leash

import "github.com/arloliu/leash/types"

// Sentinel errors returned by the Rebalancer.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrLeaseStoreRequired is returned when the lease store is nil.
	ErrLeaseStoreRequired = types.ErrLeaseStoreRequired

	// ErrPartitionCatalogRequired is returned when the partition catalog is nil.
	ErrPartitionCatalogRequired = types.ErrPartitionCatalogRequired

	// ErrProcessorFactoryRequired is returned when the processor factory is nil.
	ErrProcessorFactoryRequired = types.ErrProcessorFactoryRequired

	// ErrAlreadyStarted is returned when Start is called on a started rebalancer.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when Stop is called on a rebalancer that is not running.
	ErrNotStarted = types.ErrNotStarted

	// ErrInvalidWorkerID is returned when a worker ID is empty or contains '.'.
	ErrInvalidWorkerID = types.ErrInvalidWorkerID

	// ErrIDClaimFailed is returned when no stable worker ID could be claimed.
	ErrIDClaimFailed = types.ErrIDClaimFailed

	// ErrIDLost is reported through Hooks.OnError when another process took
	// over the stable worker ID. The rebalancer shuts down.
	ErrIDLost = types.ErrIDLost

	// ErrCoordinationOutage is reported through Hooks.OnError when the worker
	// cannot see any active worker, itself included.
	ErrCoordinationOutage = types.ErrCoordinationOutage

	// ErrMembershipChanged is the cause of a cycle cancelled by the membership watch.
	ErrMembershipChanged = types.ErrMembershipChanged

	// ErrProcessorExited is the cause of a cycle whose processor stopped on its own.
	ErrProcessorExited = types.ErrProcessorExited
)

// IsCoordinationOutage reports whether err is a coordination outage.
func IsCoordinationOutage(err error) bool {
	return types.IsCoordinationOutage(err)
}
