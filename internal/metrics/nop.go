package metrics

import "github.com/arloliu/leash/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	rb, err := leash.NewRebalancer(&cfg, store, catalog, factory, leash.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RebalancerMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State, _ /* duration */ float64) {
}

// RecordRebalance discards the rebalance metric.
func (n *NopMetrics) RecordRebalance(_ /* reason */ string) {}

// RecordFairShare discards the fair share metric.
func (n *NopMetrics) RecordFairShare(_ /* count */ int) {}

// RecordAcquisitionDuration discards the acquisition duration metric.
func (n *NopMetrics) RecordAcquisitionDuration(_ /* duration */ float64) {}

// RecordCoordinationOutage discards the outage metric.
func (n *NopMetrics) RecordCoordinationOutage() {}

// CoordinatorMetrics implementation

// RecordPartitionClaim discards the claim metric.
func (n *NopMetrics) RecordPartitionClaim(_ /* partitionID */ string, _ /* success */ bool) {}

// RecordLeaseRenewal discards the renewal metric.
func (n *NopMetrics) RecordLeaseRenewal(_ /* partitionID */ string, _ /* success */ bool) {}

// RecordActiveWorkers discards the active worker metric.
func (n *NopMetrics) RecordActiveWorkers(_ /* count */ int) {}

// RecordOwnedPartitions discards the owned partition metric.
func (n *NopMetrics) RecordOwnedPartitions(_ /* count */ int) {}

// RecordPartitionStaleness discards the staleness metric.
func (n *NopMetrics) RecordPartitionStaleness(_ /* partitionID */ string, _ /* seconds */ float64) {}

// RecordStaleWorkerCollected discards the garbage collection metric.
func (n *NopMetrics) RecordStaleWorkerCollected() {}

// WorkerMetrics implementation

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* workerID */ string, _ /* success */ bool) {}

// ProcessorMetrics implementation

// RecordRecordsProcessed discards the processed records metric.
func (n *NopMetrics) RecordRecordsProcessed(_ /* partitionID */ string, _ /* count */ int) {}

// RecordProcessingError discards the processing error metric.
func (n *NopMetrics) RecordProcessingError(_ /* partitionID */ string) {}

// RecordCheckpoint discards the checkpoint metric.
func (n *NopMetrics) RecordCheckpoint(_ /* partitionID */ string, _ /* success */ bool) {}
