package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/leash/types"
)

func TestPrometheusCollector_LazyRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Empty(t, families, "nothing should be registered before first use")

	p.RecordActiveWorkers(3)

	families, err = reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestPrometheusCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "")
	require.Equal(t, "leash", p.namespace)

	p.RecordPartitionClaim("0", true)
	p.RecordPartitionClaim("1", true)
	p.RecordPartitionClaim("2", false)
	p.RecordLeaseRenewal("0", true)
	p.RecordActiveWorkers(2)
	p.RecordOwnedPartitions(4)
	p.RecordFairShare(4)
	p.RecordPartitionStaleness("5", 42)
	p.RecordStateTransition(types.StateAcquiring, types.StateRunning, 0.5)
	p.RecordRebalance("membership_change")
	p.RecordCoordinationOutage()
	p.RecordHeartbeat("worker-0", true)
	p.RecordRecordsProcessed("0", 7)
	p.RecordProcessingError("0")
	p.RecordCheckpoint("0", false)

	require.InDelta(t, 2, testutil.ToFloat64(p.claims.WithLabelValues("success")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.claims.WithLabelValues("failure")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.renewals.WithLabelValues("success")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(p.activeWorkers), 0)
	require.InDelta(t, 4, testutil.ToFloat64(p.ownedPartitions), 0)
	require.InDelta(t, 4, testutil.ToFloat64(p.fairShare), 0)
	require.InDelta(t, 42, testutil.ToFloat64(p.staleness.WithLabelValues("5")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.stateTransitions.WithLabelValues("Acquiring", "Running")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.rebalances.WithLabelValues("membership_change")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.outages), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.heartbeats.WithLabelValues("success")), 0)
	require.InDelta(t, 7, testutil.ToFloat64(p.recordsProcessed.WithLabelValues("0")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.processingErrors.WithLabelValues("0")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.checkpoints.WithLabelValues("0", "failure")), 0)
}
