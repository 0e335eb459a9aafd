package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leash/types"
)

func TestNopMetrics(t *testing.T) {
	m := NewNop()
	require.IsType(t, &NopMetrics{}, m)

	require.NotPanics(t, func() {
		m.RecordStateTransition(types.StateInit, types.StateRegistering, 1.5)
		m.RecordStateTransition(types.State(999), types.State(1000), -1.0)
		m.RecordRebalance("startup")
		m.RecordFairShare(4)
		m.RecordAcquisitionDuration(0.25)
		m.RecordCoordinationOutage()
		m.RecordPartitionClaim("0", true)
		m.RecordLeaseRenewal("0", false)
		m.RecordActiveWorkers(-1)
		m.RecordOwnedPartitions(0)
		m.RecordPartitionStaleness("3", 12.5)
		m.RecordStaleWorkerCollected()
		m.RecordHeartbeat("worker-0", true)
		m.RecordRecordsProcessed("1", 10)
		m.RecordProcessingError("1")
		m.RecordCheckpoint("1", true)
	})
}
