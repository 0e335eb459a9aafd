package main

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leash"
	"github.com/arloliu/leash/checkpoint"
	"github.com/arloliu/leash/pinned"
	"github.com/arloliu/leash/source"
	"github.com/arloliu/leash/stream"
	leashtest "github.com/arloliu/leash/testing"
)

type collectingConsumer struct {
	mu      sync.Mutex
	records map[string][]string
}

func (c *collectingConsumer) Consume(_ context.Context, rec stream.Record) error {
	if rec.NoData {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.PartitionID] = append(c.records[rec.PartitionID], string(rec.Data))

	return nil
}

func (c *collectingConsumer) payloads(partitionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.records[partitionID])
}

func TestOpenBackends_NATS(t *testing.T) {
	ns, nc := leashtest.StartEmbeddedNATS(t)
	js := leashtest.CreateStream(t, nc, "ORDERS", "orders.>")

	cfg, err := parseWorkerConfig(fmt.Appendf(nil, `
nats:
  url: %s
checkpoints:
  backend: nats
  bucket: orders-checkpoints
transport:
  jetstream:
    stream: ORDERS
    subjectPrefix: orders
    partitions: 2
`, ns.ClientURL()))
	require.NoError(t, err)
	cfg.Config = leash.TestConfig()

	b, err := openBackends(t.Context(), cfg, leashtest.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(b.Close)

	partitions, err := b.transport.ListPartitions(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"0", "1"}, partitions)

	require.NoError(t, b.checkpoints.Set(t.Context(), "9", "3", time.Now()))
	cp, found, err := b.checkpoints.Get(t.Context(), "9")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "3", cp.Position)

	// A checkpoint left behind by a worker configured for another stream.
	previous, err := checkpoint.OpenNATSStore(t.Context(), js, checkpoint.BucketSpec{Name: "orders-checkpoints"},
		checkpoint.SourceID(transportJS, "PAYMENTS", "payments"))
	require.NoError(t, err)
	require.NoError(t, previous.Set(t.Context(), "0", "42", time.Now()))

	require.NoError(t, resetForeignCheckpoints(t.Context(), b.checkpoints, cfg.sourceID(), leashtest.NewTestLogger(t)))
	_, found, err = previous.Get(t.Context(), "0")
	require.NoError(t, err)
	require.False(t, found, "checkpoints of another source are removed at startup")
	_, found, err = b.checkpoints.Get(t.Context(), "9")
	require.NoError(t, err)
	require.True(t, found)

	consumer := &collectingConsumer{records: make(map[string][]string)}
	factory, err := pinned.NewFactory(b.transport, b.checkpoints, consumer,
		pinned.WithStreamConfig(stream.Config{
			MaxBatchSize:          50,
			MaxWaitTime:           50 * time.Millisecond,
			LoadBalancingInterval: 100 * time.Millisecond,
			OwnershipExpiration:   time.Minute,
			CloseTimeout:          time.Second,
			RetryBase:             10 * time.Millisecond,
			RetryCap:              100 * time.Millisecond,
		}),
		pinned.WithCheckpointInterval(cfg.CheckpointInterval),
	)
	require.NoError(t, err)

	rb, err := leash.NewRebalancer(&cfg.Config, b.leases, source.NewTransport(b.transport), factory,
		leash.WithWorkerID("worker-0"),
		leash.WithLogger(leashtest.NewTestLogger(t)),
		leash.WithHooks(newHooks(leashtest.NewTestLogger(t))),
	)
	require.NoError(t, err)
	require.NoError(t, rb.Start(t.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rb.Stop(ctx)
	})

	require.NoError(t, <-rb.WaitState(leash.StateRunning, 10*time.Second))
	require.Equal(t, []string{"0", "1"}, rb.OwnedPartitions())

	// Pumps start from the current time; publish until a message lands on each partition.
	require.Eventually(t, func() bool {
		for _, pid := range partitions {
			if _, err := js.Publish(t.Context(), "orders."+pid, []byte("order-"+pid)); err != nil {
				return false
			}
		}

		return slices.Contains(consumer.payloads("0"), "order-0") &&
			slices.Contains(consumer.payloads("1"), "order-1")
	}, 10*time.Second, 100*time.Millisecond)

	require.NoError(t, rb.Stop(t.Context()))

	cp, found, err = b.checkpoints.Get(t.Context(), "0")
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, cp.Position)

	t.Logf("✅ worker wiring reads JetStream partitions under NATS leases")
}

func TestResetForeignCheckpoints(t *testing.T) {
	current := checkpoint.NewMemoryStore(checkpoint.SourceID(transportJS, "ORDERS", "orders"))
	previous := current.Shared(checkpoint.SourceID(transportKDS, "orders"))

	require.NoError(t, current.Set(t.Context(), "0", "7", time.Now()))
	require.NoError(t, previous.Set(t.Context(), "0", "shardId-000000000000:49", time.Now()))
	require.NoError(t, previous.Set(t.Context(), "1", "shardId-000000000001:12", time.Now()))
	require.Equal(t, 3, current.Len())

	require.NoError(t, resetForeignCheckpoints(t.Context(), current, "orders", leashtest.NewTestLogger(t)))
	require.Equal(t, 1, current.Len())

	cp, found, err := current.Get(t.Context(), "0")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "7", cp.Position)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.Error(t, resetForeignCheckpoints(ctx, current, "orders", leashtest.NewTestLogger(t)))
}

func TestLoggingConsumer(t *testing.T) {
	c := newLoggingConsumer(leashtest.NewTestLogger(t))

	require.NoError(t, c.Consume(t.Context(), stream.Record{PartitionID: "0", NoData: true}))
	require.NoError(t, c.Consume(t.Context(), stream.Record{PartitionID: "0", Position: "1", Data: []byte("x")}))
}
