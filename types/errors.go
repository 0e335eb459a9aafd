package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the leash library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// Components wrap external errors with context using fmt.Errorf("%s: %w", msg, err).

// Rebalancer errors - Public API errors returned by the Rebalancer.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrLeaseStoreRequired is returned when the lease store is nil.
	ErrLeaseStoreRequired = errors.New("lease store is required")

	// ErrPartitionCatalogRequired is returned when the partition catalog is nil.
	ErrPartitionCatalogRequired = errors.New("partition catalog is required")

	// ErrProcessorFactoryRequired is returned when the processor factory is nil.
	ErrProcessorFactoryRequired = errors.New("processor factory is required")

	// ErrAlreadyStarted is returned when Start is called on an already running rebalancer.
	ErrAlreadyStarted = errors.New("rebalancer already started")

	// ErrNotStarted is returned when Stop is called on a rebalancer that hasn't been started.
	ErrNotStarted = errors.New("rebalancer not started")

	// ErrInvalidWorkerID is returned when a worker ID is empty or malformed.
	ErrInvalidWorkerID = errors.New("invalid worker ID")

	// ErrIDClaimFailed is returned when stable ID claiming fails.
	ErrIDClaimFailed = errors.New("failed to claim stable worker ID")

	// ErrIDLost is reported when the lease of a claimed stable ID was taken over.
	ErrIDLost = errors.New("stable worker ID lease lost")

	// ErrStoreUnavailable marks store errors caused by connectivity problems.
	// Callers treat them as transient and retry on the next period.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Cycle errors - Conditions that end a single rebalance cycle.
var (
	// ErrCoordinationOutage is returned when the active worker scan observes no workers,
	// not even the local one. The cycle is aborted and restarted after a delay.
	ErrCoordinationOutage = errors.New("coordination outage: no active workers visible")

	// ErrMembershipChanged is the cancellation cause used when the active worker
	// count differs from the count the cycle started with.
	ErrMembershipChanged = errors.New("active worker membership changed")

	// ErrProcessorExited is the cancellation cause used when the pinned processor
	// stops on its own while the cycle is running.
	ErrProcessorExited = errors.New("partition processor exited unexpectedly")
)

// OutageError describes a coordination outage observed during discovery.
type OutageError struct {
	// WorkerID is the worker that observed the outage.
	WorkerID string
	// Partitions is the catalog size of the aborted cycle.
	Partitions int
}

// Error implements the error interface.
func (e *OutageError) Error() string {
	return fmt.Sprintf("%s (worker=%s, partitions=%d)", ErrCoordinationOutage, e.WorkerID, e.Partitions)
}

// Unwrap returns ErrCoordinationOutage so errors.Is matches the sentinel.
func (e *OutageError) Unwrap() error {
	return ErrCoordinationOutage
}

// IsCoordinationOutage reports whether err is, or wraps, a coordination outage.
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error classifies as a coordination outage
func IsCoordinationOutage(err error) bool {
	return errors.Is(err, ErrCoordinationOutage)
}
