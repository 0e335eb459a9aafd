package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	RebalancerMetrics
	CoordinatorMetrics
	WorkerMetrics
	ProcessorMetrics
}

// RebalancerMetrics defines metrics for the rebalance cycle.
type RebalancerMetrics interface {
	// RecordStateTransition records a rebalance cycle state transition.
	//
	// Parameters:
	//   - from: Previous state
	//   - to: New state
	//   - duration: Seconds spent in the previous state
	RecordStateTransition(from, to State, duration float64)

	// RecordRebalance records the start of a new rebalance cycle.
	//
	// Parameters:
	//   - reason: Why the cycle started ("startup", "membership_change", "outage", "fault")
	RecordRebalance(reason string)

	// RecordFairShare sets the target partition count of the current cycle (gauge metric).
	RecordFairShare(count int)

	// RecordAcquisitionDuration records how long acquisition took in seconds.
	RecordAcquisitionDuration(duration float64)

	// RecordCoordinationOutage records a cycle that observed zero active workers.
	RecordCoordinationOutage()
}

// CoordinatorMetrics defines metrics for lease operations.
type CoordinatorMetrics interface {
	// RecordPartitionClaim records a claim attempt.
	//
	// Parameters:
	//   - partitionID: The partition being claimed
	//   - success: true if the lease was obtained
	RecordPartitionClaim(partitionID string, success bool)

	// RecordLeaseRenewal records a renewal attempt.
	//
	// Parameters:
	//   - partitionID: The partition being renewed
	//   - success: true if the lease was extended
	RecordLeaseRenewal(partitionID string, success bool)

	// RecordActiveWorkers sets the observed active worker count (gauge metric).
	RecordActiveWorkers(count int)

	// RecordOwnedPartitions sets the number of partitions owned locally (gauge metric).
	RecordOwnedPartitions(count int)

	// RecordPartitionStaleness sets seconds since a partition's lease was last written (gauge metric).
	RecordPartitionStaleness(partitionID string, seconds float64)

	// RecordStaleWorkerCollected records a liveness record garbage-collected during a scan.
	RecordStaleWorkerCollected()
}

// WorkerMetrics defines metrics for individual worker heartbeat operations.
type WorkerMetrics interface {
	// RecordHeartbeat records a liveness registration attempt.
	//
	// Parameters:
	//   - workerID: The ID of the worker registering itself
	//   - success: true if the liveness record was written
	RecordHeartbeat(workerID string, success bool)
}

// ProcessorMetrics defines metrics for the pinned stream processor.
type ProcessorMetrics interface {
	// RecordRecordsProcessed adds processed records for a partition.
	RecordRecordsProcessed(partitionID string, count int)

	// RecordProcessingError records a partition-local processing fault.
	RecordProcessingError(partitionID string)

	// RecordCheckpoint records a checkpoint write attempt.
	RecordCheckpoint(partitionID string, success bool)
}
