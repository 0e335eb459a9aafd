package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	ktypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/stretchr/testify/require"
)

// fakeKinesis serves shards from memory. Iterators are "shard/offset" and
// sequence numbers are 1-based offsets.
type fakeKinesis struct {
	mu       sync.Mutex
	shards   []string
	records  map[string][]ktypes.Record
	closed   map[string]bool
	pageSize int

	listCalls      []*kinesis.ListShardsInput
	iteratorInputs []*kinesis.GetShardIteratorInput
}

func newFakeKinesis(shards ...string) *fakeKinesis {
	return &fakeKinesis{
		shards:   shards,
		records:  make(map[string][]ktypes.Record),
		closed:   make(map[string]bool),
		pageSize: 2,
	}
}

func (f *fakeKinesis) put(shard string, at time.Time, payloads ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range payloads {
		seq := strconv.Itoa(len(f.records[shard]) + 1)
		f.records[shard] = append(f.records[shard], ktypes.Record{
			SequenceNumber:              aws.String(seq),
			Data:                        []byte(p),
			ApproximateArrivalTimestamp: aws.Time(at),
		})
	}
}

func (f *fakeKinesis) ListShards(_ context.Context, params *kinesis.ListShardsInput, _ ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls = append(f.listCalls, params)
	if params.NextToken != nil && params.StreamName != nil {
		return nil, errors.New("StreamName and NextToken are mutually exclusive")
	}

	from := 0
	if params.NextToken != nil {
		from, _ = strconv.Atoi(aws.ToString(params.NextToken))
	}
	to := min(from+f.pageSize, len(f.shards))

	out := &kinesis.ListShardsOutput{}
	for _, id := range f.shards[from:to] {
		out.Shards = append(out.Shards, ktypes.Shard{ShardId: aws.String(id)})
	}
	if to < len(f.shards) {
		out.NextToken = aws.String(strconv.Itoa(to))
	}

	return out, nil
}

func (f *fakeKinesis) GetShardIterator(_ context.Context, params *kinesis.GetShardIteratorInput, _ ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.iteratorInputs = append(f.iteratorInputs, params)
	shard := aws.ToString(params.ShardId)
	recs := f.records[shard]

	var offset int
	switch params.ShardIteratorType {
	case ktypes.ShardIteratorTypeTrimHorizon:
		offset = 0
	case ktypes.ShardIteratorTypeLatest:
		offset = len(recs)
	case ktypes.ShardIteratorTypeAfterSequenceNumber:
		n, err := strconv.Atoi(aws.ToString(params.StartingSequenceNumber))
		if err != nil {
			return nil, err
		}
		offset = n
	case ktypes.ShardIteratorTypeAtTimestamp:
		offset = len(recs)
		for i, r := range recs {
			if !r.ApproximateArrivalTimestamp.Before(aws.ToTime(params.Timestamp)) {
				offset = i
				break
			}
		}
	default:
		return nil, fmt.Errorf("unsupported iterator type %s", params.ShardIteratorType)
	}

	return &kinesis.GetShardIteratorOutput{ShardIterator: aws.String(fmt.Sprintf("%s/%d", shard, offset))}, nil
}

func (f *fakeKinesis) GetRecords(_ context.Context, params *kinesis.GetRecordsInput, _ ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	shard, off, _ := strings.Cut(aws.ToString(params.ShardIterator), "/")
	offset, _ := strconv.Atoi(off)
	recs := f.records[shard]
	end := min(len(recs), offset+int(aws.ToInt32(params.Limit)))

	out := &kinesis.GetRecordsOutput{Records: recs[offset:end]}
	if !f.closed[shard] || end < len(recs) {
		out.NextShardIterator = aws.String(fmt.Sprintf("%s/%d", shard, end))
	}

	return out, nil
}

func TestKinesisTransport_ListPartitions(t *testing.T) {
	api := newFakeKinesis("shardId-003", "shardId-001", "shardId-002", "shardId-000", "shardId-004")
	transport, err := NewKinesisTransport(api, KinesisConfig{StreamName: "events"})
	require.NoError(t, err)

	ids, err := transport.ListPartitions(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"shardId-000", "shardId-001", "shardId-002", "shardId-003", "shardId-004"}, ids)
	require.Len(t, api.listCalls, 3, "five shards over pages of two")
	require.Equal(t, "events", aws.ToString(api.listCalls[0].StreamName))

	_, err = NewKinesisTransport(api, KinesisConfig{})
	require.Error(t, err)
}

func TestKinesisTransport_Reader(t *testing.T) {
	api := newFakeKinesis("shardId-000")
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	api.put("shardId-000", base, "a", "b")
	api.put("shardId-000", base.Add(time.Minute), "c")

	transport, err := NewKinesisTransport(api, KinesisConfig{StreamName: "events", PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	ctx := t.Context()

	read := func(t *testing.T, start StartPosition) []Record {
		t.Helper()
		reader, err := transport.OpenReader(ctx, "shardId-000", start)
		require.NoError(t, err)
		defer reader.Close()

		records, err := reader.ReadBatch(ctx, 10, 20*time.Millisecond)
		require.NoError(t, err)

		return records
	}

	t.Run("iterator types", func(t *testing.T) {
		require.Equal(t, []string{"1", "2", "3"}, positions(read(t, Earliest())))
		require.Equal(t, []string{"3"}, positions(read(t, After("2"))))
		require.Equal(t, []string{"3"}, positions(read(t, FromTime(base.Add(30*time.Second)))))
		require.Empty(t, read(t, Latest()))

		last := api.iteratorInputs[len(api.iteratorInputs)-1]
		require.Equal(t, ktypes.ShardIteratorTypeLatest, last.ShardIteratorType)
		require.Equal(t, "events", aws.ToString(last.StreamName))
	})

	t.Run("record fields", func(t *testing.T) {
		records := read(t, Earliest())
		require.Equal(t, "shardId-000", records[0].PartitionID)
		require.Equal(t, "a", string(records[0].Data))
		require.True(t, base.Equal(records[0].EnqueuedAt))
	})

	t.Run("polls until records arrive", func(t *testing.T) {
		reader, err := transport.OpenReader(ctx, "shardId-000", Latest())
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			api.put("shardId-000", time.Now(), "d")
		}()

		records, err := reader.ReadBatch(ctx, 10, 2*time.Second)
		require.NoError(t, err)
		require.Equal(t, []string{"4"}, positions(records))
	})

	t.Run("closed shard ends the partition", func(t *testing.T) {
		reader, err := transport.OpenReader(ctx, "shardId-000", After("3"))
		require.NoError(t, err)

		api.mu.Lock()
		api.closed["shardId-000"] = true
		api.mu.Unlock()

		records, err := reader.ReadBatch(ctx, 10, time.Second)
		require.NoError(t, err)
		require.Equal(t, []string{"4"}, positions(records))

		_, err = reader.ReadBatch(ctx, 10, time.Second)
		require.ErrorIs(t, err, ErrEndOfPartition)
	})

	t.Logf("✅ kinesis reader honors iterator types and shard end")
}
