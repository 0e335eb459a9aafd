package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/leash/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so constructing a
// collector that is never used leaves the registry untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	// Rebalancer metrics
	stateTransitions    *prometheus.CounterVec
	stateDuration       *prometheus.HistogramVec
	rebalances          *prometheus.CounterVec
	fairShare           prometheus.Gauge
	acquisitionDuration prometheus.Histogram
	outages             prometheus.Counter

	// Coordinator metrics
	claims          *prometheus.CounterVec
	renewals        *prometheus.CounterVec
	activeWorkers   prometheus.Gauge
	ownedPartitions prometheus.Gauge
	staleness       *prometheus.GaugeVec
	staleCollected  prometheus.Counter

	// Worker metrics
	heartbeats *prometheus.CounterVec

	// Processor metrics
	recordsProcessed *prometheus.CounterVec
	processingErrors *prometheus.CounterVec
	checkpoints      *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "leash" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "leash"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalancer",
			Name:      "state_transitions_total",
			Help:      "Total rebalance cycle state transitions.",
		}, []string{"from", "to"})
		p.stateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "rebalancer",
			Name:      "state_duration_seconds",
			Help:      "Time spent in a state before transitioning out of it.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms .. ~43m
		}, []string{"state"})
		p.rebalances = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalancer",
			Name:      "cycles_total",
			Help:      "Total rebalance cycles by reason (startup,membership_change,outage,fault).",
		}, []string{"reason"})
		p.fairShare = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "rebalancer",
			Name:      "fair_share",
			Help:      "Target partition count of the current rebalance cycle.",
		})
		p.acquisitionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "rebalancer",
			Name:      "acquisition_duration_seconds",
			Help:      "Time taken to acquire the fair share of partitions.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		})
		p.outages = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalancer",
			Name:      "coordination_outages_total",
			Help:      "Cycles aborted because no active worker was visible.",
		})

		p.claims = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "partition_claims_total",
			Help:      "Partition claim attempts by result (success,failure).",
		}, []string{"result"})
		p.renewals = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "lease_renewals_total",
			Help:      "Lease renewal attempts by result (success,failure).",
		}, []string{"result"})
		p.activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "active_workers",
			Help:      "Active worker count observed by the last liveness scan.",
		})
		p.ownedPartitions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "owned_partitions",
			Help:      "Partitions currently owned by this worker.",
		})
		p.staleness = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "partition_staleness_seconds",
			Help:      "Seconds since a partition's ownership lease was last written.",
		}, []string{"partition"})
		p.staleCollected = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "stale_workers_collected_total",
			Help:      "Stale liveness records deleted during active worker scans.",
		})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "heartbeats_total",
			Help:      "Liveness registrations by result (success,failure).",
		}, []string{"result"})

		p.recordsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "records_processed_total",
			Help:      "Records forwarded to the downstream consumer.",
		}, []string{"partition"})
		p.processingErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "processing_errors_total",
			Help:      "Partition-local processing faults.",
		}, []string{"partition"})
		p.checkpoints = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "processor",
			Name:      "checkpoints_total",
			Help:      "Checkpoint writes by result (success,failure).",
		}, []string{"partition", "result"})

		p.reg.MustRegister(
			p.stateTransitions,
			p.stateDuration,
			p.rebalances,
			p.fairShare,
			p.acquisitionDuration,
			p.outages,
			p.claims,
			p.renewals,
			p.activeWorkers,
			p.ownedPartitions,
			p.staleness,
			p.staleCollected,
			p.heartbeats,
			p.recordsProcessed,
			p.processingErrors,
			p.checkpoints,
		)
	})
}

func result(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}

// RebalancerMetrics implementation

// RecordStateTransition counts the transition and observes time spent in the previous state.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State, duration float64) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	p.stateDuration.WithLabelValues(from.String()).Observe(duration)
}

// RecordRebalance counts a new rebalance cycle.
func (p *PrometheusCollector) RecordRebalance(reason string) {
	p.ensureRegistered()
	p.rebalances.WithLabelValues(reason).Inc()
}

// RecordFairShare sets the fair share gauge.
func (p *PrometheusCollector) RecordFairShare(count int) {
	p.ensureRegistered()
	p.fairShare.Set(float64(count))
}

// RecordAcquisitionDuration observes acquisition latency in seconds.
func (p *PrometheusCollector) RecordAcquisitionDuration(duration float64) {
	p.ensureRegistered()
	p.acquisitionDuration.Observe(duration)
}

// RecordCoordinationOutage counts an aborted cycle.
func (p *PrometheusCollector) RecordCoordinationOutage() {
	p.ensureRegistered()
	p.outages.Inc()
}

// CoordinatorMetrics implementation

// RecordPartitionClaim counts a claim attempt.
func (p *PrometheusCollector) RecordPartitionClaim(_ string, success bool) {
	p.ensureRegistered()
	p.claims.WithLabelValues(result(success)).Inc()
}

// RecordLeaseRenewal counts a renewal attempt.
func (p *PrometheusCollector) RecordLeaseRenewal(_ string, success bool) {
	p.ensureRegistered()
	p.renewals.WithLabelValues(result(success)).Inc()
}

// RecordActiveWorkers sets the active worker gauge.
func (p *PrometheusCollector) RecordActiveWorkers(count int) {
	p.ensureRegistered()
	p.activeWorkers.Set(float64(count))
}

// RecordOwnedPartitions sets the owned partition gauge.
func (p *PrometheusCollector) RecordOwnedPartitions(count int) {
	p.ensureRegistered()
	p.ownedPartitions.Set(float64(count))
}

// RecordPartitionStaleness sets the per-partition staleness gauge.
func (p *PrometheusCollector) RecordPartitionStaleness(partitionID string, seconds float64) {
	p.ensureRegistered()
	p.staleness.WithLabelValues(partitionID).Set(seconds)
}

// RecordStaleWorkerCollected counts a garbage-collected liveness record.
func (p *PrometheusCollector) RecordStaleWorkerCollected() {
	p.ensureRegistered()
	p.staleCollected.Inc()
}

// WorkerMetrics implementation

// RecordHeartbeat counts a liveness registration. The worker id is not a label
// to keep series cardinality bounded across restarts.
func (p *PrometheusCollector) RecordHeartbeat(_ string, success bool) {
	p.ensureRegistered()
	p.heartbeats.WithLabelValues(result(success)).Inc()
}

// ProcessorMetrics implementation

// RecordRecordsProcessed adds processed records for a partition.
func (p *PrometheusCollector) RecordRecordsProcessed(partitionID string, count int) {
	p.ensureRegistered()
	p.recordsProcessed.WithLabelValues(partitionID).Add(float64(count))
}

// RecordProcessingError counts a partition-local fault.
func (p *PrometheusCollector) RecordProcessingError(partitionID string) {
	p.ensureRegistered()
	p.processingErrors.WithLabelValues(partitionID).Inc()
}

// RecordCheckpoint counts a checkpoint write.
func (p *PrometheusCollector) RecordCheckpoint(partitionID string, success bool) {
	p.ensureRegistered()
	p.checkpoints.WithLabelValues(partitionID, result(success)).Inc()
}

