package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	leashtest "github.com/arloliu/leash/testing"
)

// recordingHandler keeps everything the processor hands it. It resumes each
// partition after the last record it processed, like a checkpointing handler.
type recordingHandler struct {
	mu       sync.Mutex
	records  map[string][]Record
	empties  map[string]int
	inits    map[string]int
	errs     map[string][]error
	closes   map[string][]CloseReason
	failNext map[string]error
	panicOn  map[string]bool
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		records:  make(map[string][]Record),
		empties:  make(map[string]int),
		inits:    make(map[string]int),
		errs:     make(map[string][]error),
		closes:   make(map[string][]CloseReason),
		failNext: make(map[string]error),
		panicOn:  make(map[string]bool),
	}
}

func (h *recordingHandler) Initialize(_ context.Context, partitionID string) (StartPosition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.inits[partitionID]++
	recs := h.records[partitionID]
	if len(recs) == 0 {
		return Earliest(), nil
	}

	return After(recs[len(recs)-1].Position), nil
}

func (h *recordingHandler) ProcessBatch(_ context.Context, partitionID string, records []Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.panicOn[partitionID] && len(records) > 0 {
		delete(h.panicOn, partitionID)
		panic("handler exploded")
	}
	if err, ok := h.failNext[partitionID]; ok && len(records) > 0 {
		delete(h.failNext, partitionID)
		return err
	}
	if len(records) == 0 {
		h.empties[partitionID]++
		return nil
	}
	h.records[partitionID] = append(h.records[partitionID], records...)

	return nil
}

func (h *recordingHandler) ProcessError(_ context.Context, partitionID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.errs[partitionID] = append(h.errs[partitionID], err)
}

func (h *recordingHandler) Close(_ context.Context, partitionID string, reason CloseReason) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closes[partitionID] = append(h.closes[partitionID], reason)

	return nil
}

func (h *recordingHandler) count(partitionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.records[partitionID])
}

func (h *recordingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, recs := range h.records {
		n += len(recs)
	}

	return n
}

func (h *recordingHandler) errorsFor(partitionID string) []error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Clone(h.errs[partitionID])
}

func (h *recordingHandler) closesFor(partitionID string) []CloseReason {
	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Clone(h.closes[partitionID])
}

func testConfig(ownerID string) Config {
	return Config{
		OwnerID:               ownerID,
		MaxBatchSize:          10,
		MaxWaitTime:           20 * time.Millisecond,
		LoadBalancingInterval: 50 * time.Millisecond,
		OwnershipExpiration:   300 * time.Millisecond,
		RetryBase:             10 * time.Millisecond,
		RetryCap:              50 * time.Millisecond,
		RetrySeed:             1,
	}
}

func appendN(t *testing.T, transport *MemoryTransport, partitionID string, n int) {
	t.Helper()
	for i := range n {
		_, err := transport.Append(partitionID, fmt.Appendf(nil, "%s-%d", partitionID, i))
		require.NoError(t, err)
	}
}

func TestNewProcessor_Validation(t *testing.T) {
	transport := NewMemoryTransport("0")
	handler := newRecordingHandler()

	_, err := NewProcessor(nil, handler, testConfig("a"))
	require.Error(t, err)
	_, err = NewProcessor(transport, nil, testConfig("a"))
	require.Error(t, err)
	_, err = NewProcessor(transport, handler, Config{})
	require.Error(t, err, "owner id required")

	cfg := testConfig("a")
	cfg.OwnershipExpiration = cfg.LoadBalancingInterval
	_, err = NewProcessor(transport, handler, cfg)
	require.Error(t, err)
}

func TestProcessor_ReadsAllPartitions(t *testing.T) {
	transport := NewMemoryTransport("0", "1", "2")
	for _, id := range []string{"0", "1", "2"} {
		appendN(t, transport, id, 25)
	}
	handler := newRecordingHandler()

	proc, err := NewProcessor(transport, handler, testConfig("a"), WithLogger(leashtest.NewTestLogger(t)))
	require.NoError(t, err)
	require.NoError(t, proc.Start(t.Context()))
	require.Equal(t, []string{"0", "1", "2"}, proc.Partitions())

	require.Eventually(t, func() bool { return handler.total() == 75 }, 5*time.Second, 10*time.Millisecond)

	appendN(t, transport, "1", 5)
	require.Eventually(t, func() bool { return handler.count("1") == 30 }, 5*time.Second, 10*time.Millisecond)

	handler.mu.Lock()
	require.Equal(t, "30", handler.records["1"][29].Position, "records arrive in order")
	handler.mu.Unlock()

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return handler.empties["0"] > 0
	}, 5*time.Second, 10*time.Millisecond, "idle partitions get empty batches")

	require.NoError(t, proc.Stop(t.Context()))
	<-proc.Done()
	for _, id := range []string{"0", "1", "2"} {
		require.Equal(t, []CloseReason{CloseReasonShutdown}, handler.closesFor(id))
	}
	t.Logf("✅ processor read every partition and closed them on shutdown")
}

func TestProcessor_FaultIsolation(t *testing.T) {
	t.Run("handler error reinitializes the partition only", func(t *testing.T) {
		transport := NewMemoryTransport("0", "1")
		handler := newRecordingHandler()
		boom := errors.New("consumer failed")
		handler.failNext["0"] = boom

		proc, err := NewProcessor(transport, handler, testConfig("a"))
		require.NoError(t, err)
		require.NoError(t, proc.Start(t.Context()))
		defer func() { _ = proc.Stop(t.Context()) }()

		appendN(t, transport, "0", 10)
		appendN(t, transport, "1", 10)

		require.Eventually(t, func() bool {
			return handler.count("0") == 10 && handler.count("1") == 10
		}, 5*time.Second, 10*time.Millisecond)

		errs := handler.errorsFor("0")
		require.Len(t, errs, 1)
		require.ErrorIs(t, errs[0], boom)
		require.Empty(t, handler.errorsFor("1"))

		handler.mu.Lock()
		require.Equal(t, 2, handler.inits["0"], "partition re-initialized after the fault")
		require.Equal(t, 1, handler.inits["1"])
		handler.mu.Unlock()
	})

	t.Run("handler panic is recovered", func(t *testing.T) {
		transport := NewMemoryTransport("0")
		handler := newRecordingHandler()
		handler.panicOn["0"] = true

		proc, err := NewProcessor(transport, handler, testConfig("a"))
		require.NoError(t, err)
		require.NoError(t, proc.Start(t.Context()))
		defer func() { _ = proc.Stop(t.Context()) }()

		appendN(t, transport, "0", 3)
		require.Eventually(t, func() bool { return handler.count("0") == 3 }, 5*time.Second, 10*time.Millisecond)

		errs := handler.errorsFor("0")
		require.Len(t, errs, 1)
		require.ErrorIs(t, errs[0], ErrHandlerPanic)
		t.Logf("✅ panic reported through ProcessError and partition resumed")
	})

	t.Run("transport fault is retried", func(t *testing.T) {
		transport := NewMemoryTransport("0")
		handler := newRecordingHandler()

		proc, err := NewProcessor(transport, handler, testConfig("a"))
		require.NoError(t, err)
		require.NoError(t, proc.Start(t.Context()))
		defer func() { _ = proc.Stop(t.Context()) }()

		transport.InjectFault("0", errors.New("connection reset"))
		appendN(t, transport, "0", 4)

		require.Eventually(t, func() bool { return handler.count("0") == 4 }, 5*time.Second, 10*time.Millisecond)
		require.Len(t, handler.errorsFor("0"), 1)
	})
}

func TestProcessor_StopPartition(t *testing.T) {
	t.Run("stopped partition is restarted while still granted", func(t *testing.T) {
		transport := NewMemoryTransport("0", "1")
		handler := newRecordingHandler()

		proc, err := NewProcessor(transport, handler, testConfig("a"))
		require.NoError(t, err)
		require.NoError(t, proc.Start(t.Context()))
		defer func() { _ = proc.Stop(t.Context()) }()

		proc.StopPartition("1")
		require.Equal(t, []CloseReason{CloseReasonOwnershipLost}, handler.closesFor("1"))

		require.Eventually(t, func() bool {
			return slices.Equal(proc.Partitions(), []string{"0", "1"})
		}, 5*time.Second, 10*time.Millisecond)

		proc.StopPartition("9")
	})

	t.Run("partition dropped from discovery is closed", func(t *testing.T) {
		transport := NewMemoryTransport("0", "1")
		handler := newRecordingHandler()

		var (
			mu      sync.Mutex
			allowed = []string{"0", "1"}
		)
		discoverer := PartitionDiscovererFunc(func(context.Context) ([]string, error) {
			mu.Lock()
			defer mu.Unlock()
			return slices.Clone(allowed), nil
		})

		proc, err := NewProcessor(transport, handler, testConfig("a"), WithDiscoverer(discoverer))
		require.NoError(t, err)
		require.NoError(t, proc.Start(t.Context()))
		defer func() { _ = proc.Stop(t.Context()) }()
		require.Equal(t, []string{"0", "1"}, proc.Partitions())

		mu.Lock()
		allowed = []string{"0"}
		mu.Unlock()

		require.Eventually(t, func() bool {
			return slices.Equal(handler.closesFor("1"), []CloseReason{CloseReasonOwnershipLost})
		}, 5*time.Second, 10*time.Millisecond)
		require.Equal(t, []string{"0"}, proc.Partitions())
		require.Empty(t, handler.closesFor("0"))
	})
}

// claimHookStore runs onClaim after the given ClaimOwnership call, before
// the grant is returned to the balance pass.
type claimHookStore struct {
	OwnershipStore
	calls   atomic.Int32
	at      int32
	onClaim func()
}

func (s *claimHookStore) ClaimOwnership(ctx context.Context, claims []Ownership) ([]Ownership, error) {
	granted, err := s.OwnershipStore.ClaimOwnership(ctx, claims)
	if s.calls.Add(1) == s.at {
		s.onClaim()
	}

	return granted, err
}

func TestProcessor_StopDuringBalance(t *testing.T) {
	transport := NewMemoryTransport("0", "1")
	handler := newRecordingHandler()

	var (
		mu      sync.Mutex
		allowed = []string{"0", "1"}
	)
	discoverer := PartitionDiscovererFunc(func(context.Context) ([]string, error) {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(allowed), nil
	})

	var proc *Processor
	stopped := make(chan struct{})
	store := &claimHookStore{
		OwnershipStore: NewMemoryOwnershipStore(time.Minute),
		at:             2,
		onClaim: func() {
			// The grant for "0" is already decided when it is withdrawn.
			mu.Lock()
			allowed = []string{"1"}
			mu.Unlock()
			go func() {
				proc.StopPartition("0")
				close(stopped)
			}()
			time.Sleep(50 * time.Millisecond)
		},
	}

	proc, err := NewProcessor(transport, handler, testConfig("a"), WithDiscoverer(discoverer), WithOwnershipStore(store))
	require.NoError(t, err)
	require.NoError(t, proc.Start(t.Context()))
	defer func() { _ = proc.Stop(t.Context()) }()
	require.Equal(t, []string{"0", "1"}, proc.Partitions())

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("StopPartition did not return")
	}

	require.Equal(t, []string{"1"}, proc.Partitions())
	require.Never(t, func() bool {
		return slices.Contains(proc.Partitions(), "0")
	}, 300*time.Millisecond, 10*time.Millisecond, "stopped partition was read again")
	require.Equal(t, []CloseReason{CloseReasonOwnershipLost}, handler.closesFor("0"))

	t.Logf("✅ a partition stopped during a balance pass stays stopped")
}

func TestProcessor_EndOfPartition(t *testing.T) {
	transport := NewMemoryTransport("0")
	appendN(t, transport, "0", 2)
	transport.ClosePartition("0")
	handler := newRecordingHandler()

	proc, err := NewProcessor(transport, handler, testConfig("a"))
	require.NoError(t, err)
	require.NoError(t, proc.Start(t.Context()))
	defer func() { _ = proc.Stop(t.Context()) }()

	require.Eventually(t, func() bool {
		return slices.Equal(handler.closesFor("0"), []CloseReason{CloseReasonEndOfPartition})
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, handler.count("0"))

	require.Never(t, func() bool { return len(handler.closesFor("0")) > 1 }, 200*time.Millisecond, 20*time.Millisecond,
		"finished partition is not restarted")
}

func TestProcessor_NativeOwnershipHandover(t *testing.T) {
	transport := NewMemoryTransport("0", "1", "2", "3")
	shared := NewMemoryOwnershipStore(300 * time.Millisecond)
	first := newRecordingHandler()
	second := newRecordingHandler()

	procA, err := NewProcessor(transport, first, testConfig("a"), WithOwnershipStore(shared))
	require.NoError(t, err)
	require.NoError(t, procA.Start(t.Context()))
	require.Len(t, procA.Partitions(), 4)

	procB, err := NewProcessor(transport, second, testConfig("b"), WithOwnershipStore(shared))
	require.NoError(t, err)
	require.NoError(t, procB.Start(t.Context()))
	defer func() { _ = procB.Stop(t.Context()) }()
	require.Empty(t, procB.Partitions(), "fresh ownership is not stolen")

	require.NoError(t, procA.Stop(t.Context()))

	require.Eventually(t, func() bool { return len(procB.Partitions()) == 4 }, 5*time.Second, 20*time.Millisecond)
	t.Logf("✅ partitions moved to the remaining processor after ownership expired")
}

func TestProcessor_Lifecycle(t *testing.T) {
	transport := NewMemoryTransport("0")
	proc, err := NewProcessor(transport, newRecordingHandler(), testConfig("a"))
	require.NoError(t, err)

	require.NoError(t, proc.Stop(t.Context()), "stop before start is a no-op")
	require.NoError(t, proc.Start(t.Context()))
	require.ErrorIs(t, proc.Start(t.Context()), ErrAlreadyStarted)
	require.NoError(t, proc.Stop(t.Context()))
	require.ErrorIs(t, proc.Start(t.Context()), ErrProcessorStopped)

	select {
	case <-proc.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestProcessor_ContextCancelStops(t *testing.T) {
	transport := NewMemoryTransport("0")
	handler := newRecordingHandler()
	proc, err := NewProcessor(transport, handler, testConfig("a"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, proc.Start(ctx))
	cancel()

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop after context cancellation")
	}
	require.Equal(t, []CloseReason{CloseReasonShutdown}, handler.closesFor("0"))
}
