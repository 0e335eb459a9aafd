package testutil

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leash"
	"github.com/arloliu/leash/checkpoint"
	"github.com/arloliu/leash/lease"
	"github.com/arloliu/leash/pinned"
	"github.com/arloliu/leash/source"
	"github.com/arloliu/leash/stream"
)

// IntegrationTestConfig returns rebalancer timings for multi-worker tests.
func IntegrationTestConfig() leash.Config {
	cfg := leash.TestConfig()
	cfg.MembershipWatchInterval = 100 * time.Millisecond
	cfg.ScanRetryDelay = 50 * time.Millisecond

	return cfg
}

// CreateTestPartitions returns the partition ids "0" through "n-1".
func CreateTestPartitions(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}

	return ids
}

// StateTracker records the state transitions of one worker.
type StateTracker struct {
	WorkerID string

	t      *testing.T
	mu     sync.Mutex
	states []leash.State
}

// NewStateTracker creates a tracker for workerID.
func NewStateTracker(t *testing.T, workerID string) *StateTracker {
	return &StateTracker{WorkerID: workerID, t: t}
}

// Hook returns an OnStateChanged hook feeding the tracker.
func (st *StateTracker) Hook() func(context.Context, leash.State, leash.State) error {
	return func(_ context.Context, from, to leash.State) error {
		st.t.Logf("%s: %s -> %s", st.WorkerID, from, to)

		st.mu.Lock()
		st.states = append(st.states, to)
		st.mu.Unlock()

		return nil
	}
}

// HasState reports whether the worker entered state.
func (st *StateTracker) HasState(state leash.State) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	return slices.Contains(st.states, state)
}

// States returns the recorded states in order.
func (st *StateTracker) States() []leash.State {
	st.mu.Lock()
	defer st.mu.Unlock()

	return slices.Clone(st.states)
}

// Read is one record delivered to a worker.
type Read struct {
	WorkerID string
	Position string
	Payload  string
}

// RecordingConsumer collects the records delivered to every worker of a cluster.
type RecordingConsumer struct {
	mu    sync.Mutex
	reads map[string][]Read
}

// NewRecordingConsumer creates an empty consumer.
func NewRecordingConsumer() *RecordingConsumer {
	return &RecordingConsumer{reads: make(map[string][]Read)}
}

// ForWorker returns a pinned consumer that tags records with workerID.
func (c *RecordingConsumer) ForWorker(workerID string) pinned.Consumer {
	return pinned.ConsumerFunc(func(_ context.Context, rec stream.Record) error {
		if rec.NoData {
			return nil
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.reads[rec.PartitionID] = append(c.reads[rec.PartitionID], Read{
			WorkerID: workerID,
			Position: rec.Position,
			Payload:  string(rec.Data),
		})

		return nil
	})
}

// Reads returns the records delivered for partitionID.
func (c *RecordingConsumer) Reads(partitionID string) []Read {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.reads[partitionID])
}

// Payloads returns the distinct payloads delivered for partitionID.
func (c *RecordingConsumer) Payloads(partitionID string) []string {
	reads := c.Reads(partitionID)
	out := make([]string, 0, len(reads))
	for _, r := range reads {
		if !slices.Contains(out, r.Payload) {
			out = append(out, r.Payload)
		}
	}

	return out
}

// WorkerCluster runs several rebalancers against one lease store, one
// in-memory stream and one checkpoint table.
type WorkerCluster struct {
	Config      leash.Config
	Store       lease.Store
	Partitions  []string
	Transport   *stream.MemoryTransport
	Checkpoints *checkpoint.MemoryStore
	Consumer    *RecordingConsumer

	Workers       []*leash.Rebalancer
	StateTrackers []*StateTracker

	t *testing.T
}

// NewWorkerCluster creates an empty cluster over store with numPartitions partitions.
func NewWorkerCluster(t *testing.T, store lease.Store, numPartitions int) *WorkerCluster {
	partitions := CreateTestPartitions(numPartitions)

	wc := &WorkerCluster{
		Config:      IntegrationTestConfig(),
		Store:       store,
		Partitions:  partitions,
		Transport:   stream.NewMemoryTransport(partitions...),
		Checkpoints: checkpoint.NewMemoryStore("cluster"),
		Consumer:    NewRecordingConsumer(),
		t:           t,
	}
	t.Cleanup(wc.StopWorkers)

	return wc
}

// AddWorker creates worker "worker-<n>". It is started by StartWorkers.
//
// Optional logger can be passed to enable debug logging for troubleshooting:
//
//	cluster.AddWorker(leashtest.NewTestLogger(t))
func (wc *WorkerCluster) AddWorker(logger ...leash.Logger) *leash.Rebalancer {
	workerID := fmt.Sprintf("worker-%d", len(wc.Workers))
	tracker := NewStateTracker(wc.t, workerID)

	factory, err := pinned.NewFactory(wc.Transport, wc.Checkpoints, wc.Consumer.ForWorker(workerID),
		pinned.WithStreamConfig(stream.Config{
			MaxBatchSize:          50,
			MaxWaitTime:           20 * time.Millisecond,
			LoadBalancingInterval: 50 * time.Millisecond,
			OwnershipExpiration:   time.Minute,
			CloseTimeout:          time.Second,
			RetryBase:             10 * time.Millisecond,
			RetryCap:              100 * time.Millisecond,
		}),
		pinned.WithCheckpointInterval(wc.Config.CheckpointInterval),
	)
	require.NoError(wc.t, err, "failed to create factory for %s", workerID)

	opts := []leash.Option{
		leash.WithWorkerID(workerID),
		leash.WithHooks(&leash.Hooks{OnStateChanged: tracker.Hook()}),
	}
	if len(logger) > 0 && logger[0] != nil {
		opts = append(opts, leash.WithLogger(logger[0]))
	}

	rb, err := leash.NewRebalancer(&wc.Config, wc.Store, source.NewStatic(wc.Partitions), factory, opts...)
	require.NoError(wc.t, err, "failed to create %s", workerID)

	wc.Workers = append(wc.Workers, rb)
	wc.StateTrackers = append(wc.StateTrackers, tracker)

	return rb
}

// StartWorkers starts every worker that has not been started yet.
func (wc *WorkerCluster) StartWorkers(ctx context.Context) {
	for i, rb := range wc.Workers {
		if rb.State() != leash.StateInit {
			continue
		}
		require.NoError(wc.t, rb.Start(ctx), "worker %d failed to start", i)
	}
}

// StopWorker stops worker i and waits for it to shut down.
func (wc *WorkerCluster) StopWorker(i int) {
	require.Less(wc.t, i, len(wc.Workers), "invalid worker index")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rb := wc.Workers[i]
	require.NoError(wc.t, rb.Stop(ctx), "failed to stop worker %d", i)
	wc.t.Logf("Stopped worker %d (%s)", i, rb.WorkerID())
}

// StopWorkers stops every running worker. Stop errors are logged, not fatal.
func (wc *WorkerCluster) StopWorkers() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i, rb := range wc.Workers {
		switch rb.State() {
		case leash.StateInit, leash.StateStopped:
			continue
		}
		if err := rb.Stop(ctx); err != nil {
			wc.t.Logf("Worker %d stop error (non-fatal): %v", i, err)
		}
	}
}

// ActiveWorkers returns the workers that are started and not stopped.
func (wc *WorkerCluster) ActiveWorkers() []*leash.Rebalancer {
	active := make([]*leash.Rebalancer, 0, len(wc.Workers))
	for _, rb := range wc.Workers {
		switch rb.State() {
		case leash.StateInit, leash.StateCancelledByShutdown, leash.StateStopped:
			continue
		}
		active = append(active, rb)
	}

	return active
}

// Ownership returns the owned partitions of every active worker keyed by worker id.
func (wc *WorkerCluster) Ownership() map[string][]string {
	out := make(map[string][]string)
	for _, rb := range wc.ActiveWorkers() {
		out[rb.WorkerID()] = rb.OwnedPartitions()
	}

	return out
}

// WaitForFairShare waits until every active worker is Running and owns
// floor(partitions/active) partitions.
func (wc *WorkerCluster) WaitForFairShare(timeout time.Duration) {
	wc.t.Helper()

	require.Eventually(wc.t, func() bool {
		active := wc.ActiveWorkers()
		if len(active) == 0 {
			return false
		}
		share := len(wc.Partitions) / len(active)
		for _, rb := range active {
			if rb.State() != leash.StateRunning || len(rb.OwnedPartitions()) != share {
				return false
			}
		}

		return OwnershipDisjoint(wc.Ownership())
	}, timeout, 50*time.Millisecond, "workers did not converge on their fair share")

	for id, owned := range wc.Ownership() {
		wc.t.Logf("%s owns %v", id, owned)
	}
}

// Append writes one payload to every partition and returns the payload.
func (wc *WorkerCluster) Append(seq int) string {
	payload := fmt.Sprintf("event-%d", seq)
	for _, pid := range wc.Partitions {
		_, err := wc.Transport.Append(pid, []byte(payload))
		require.NoError(wc.t, err)
	}

	return payload
}

// VerifyStateTransition verifies that at least one worker entered state.
func (wc *WorkerCluster) VerifyStateTransition(state leash.State) {
	for _, tracker := range wc.StateTrackers {
		if tracker.HasState(state) {
			wc.t.Logf("%s went through %s", tracker.WorkerID, state)
			return
		}
	}
	require.Failf(wc.t, "missing state transition", "no worker entered %s", state)
}
