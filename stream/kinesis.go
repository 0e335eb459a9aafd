package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	ktypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

// KinesisAPI is the subset of the Kinesis client the transport uses.
type KinesisAPI interface {
	ListShards(ctx context.Context, params *kinesis.ListShardsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
	GetShardIterator(ctx context.Context, params *kinesis.GetShardIteratorInput, optFns ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, params *kinesis.GetRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error)
}

// Compile-time assertion that the SDK client satisfies KinesisAPI.
var _ KinesisAPI = (*kinesis.Client)(nil)

// maxGetRecordsLimit is the Kinesis upper bound for GetRecords.Limit.
const maxGetRecordsLimit = 10000

// KinesisConfig describes the Kinesis stream to read.
type KinesisConfig struct {
	// StreamName is the stream name.
	StreamName string `yaml:"streamName"`

	// PollInterval is the pause between empty GetRecords calls. Kinesis allows
	// five GetRecords calls per second per shard.
	PollInterval time.Duration `yaml:"pollInterval"`
}

// Validate checks the required fields.
func (c KinesisConfig) Validate() error {
	if c.StreamName == "" {
		return errors.New("stream: kinesis stream name is required")
	}

	return nil
}

// KinesisTransport reads Kinesis shards, one shard per partition.
type KinesisTransport struct {
	api KinesisAPI
	cfg KinesisConfig
}

// Compile-time assertion that KinesisTransport implements Transport.
var _ Transport = (*KinesisTransport)(nil)

// NewKinesisTransport creates a transport over api.
//
// Example:
//
//	awsCfg, _ := config.LoadDefaultConfig(ctx)
//	transport, err := stream.NewKinesisTransport(kinesis.NewFromConfig(awsCfg),
//	    stream.KinesisConfig{StreamName: "events"})
func NewKinesisTransport(api KinesisAPI, cfg KinesisConfig) (*KinesisTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return &KinesisTransport{api: api, cfg: cfg}, nil
}

// ListPartitions implements Transport. Shard IDs are returned sorted.
func (t *KinesisTransport) ListPartitions(ctx context.Context) ([]string, error) {
	var (
		ids       []string
		nextToken *string
	)
	for {
		input := &kinesis.ListShardsInput{NextToken: nextToken}
		if nextToken == nil {
			input.StreamName = aws.String(t.cfg.StreamName)
		}

		out, err := t.api.ListShards(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list shards of %s: %w", t.cfg.StreamName, err)
		}
		for _, shard := range out.Shards {
			ids = append(ids, aws.ToString(shard.ShardId))
		}

		nextToken = out.NextToken
		if nextToken == nil {
			break
		}
	}
	slices.Sort(ids)

	return ids, nil
}

// OpenReader implements Transport.
func (t *KinesisTransport) OpenReader(ctx context.Context, partitionID string, start StartPosition) (PartitionReader, error) {
	input := &kinesis.GetShardIteratorInput{
		StreamName: aws.String(t.cfg.StreamName),
		ShardId:    aws.String(partitionID),
	}
	switch start.Kind {
	case PositionEarliest:
		input.ShardIteratorType = ktypes.ShardIteratorTypeTrimHorizon
	case PositionAfter:
		input.ShardIteratorType = ktypes.ShardIteratorTypeAfterSequenceNumber
		input.StartingSequenceNumber = aws.String(start.Position)
	case PositionFromTime:
		input.ShardIteratorType = ktypes.ShardIteratorTypeAtTimestamp
		input.Timestamp = aws.Time(start.Time)
	default:
		input.ShardIteratorType = ktypes.ShardIteratorTypeLatest
	}

	out, err := t.api.GetShardIterator(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get shard iterator for %s: %w", partitionID, err)
	}

	return &kinesisReader{
		api:          t.api,
		partitionID:  partitionID,
		iterator:     out.ShardIterator,
		pollInterval: t.cfg.PollInterval,
	}, nil
}

type kinesisReader struct {
	api          KinesisAPI
	partitionID  string
	iterator     *string
	pollInterval time.Duration
}

// ReadBatch implements PartitionReader. Empty responses are retried every
// PollInterval until maxWait elapses.
func (r *kinesisReader) ReadBatch(ctx context.Context, maxRecords int, maxWait time.Duration) ([]Record, error) {
	deadline := time.Now().Add(maxWait)
	limit := int32(min(max(maxRecords, 1), maxGetRecordsLimit)) //nolint:gosec // bounded above

	for {
		if r.iterator == nil {
			return nil, ErrEndOfPartition
		}

		out, err := r.api.GetRecords(ctx, &kinesis.GetRecordsInput{
			ShardIterator: r.iterator,
			Limit:         aws.Int32(limit),
		})
		if err != nil {
			return nil, fmt.Errorf("get records from %s: %w", r.partitionID, err)
		}
		r.iterator = out.NextShardIterator

		if len(out.Records) > 0 {
			records := make([]Record, 0, len(out.Records))
			for _, rec := range out.Records {
				records = append(records, Record{
					PartitionID: r.partitionID,
					Position:    aws.ToString(rec.SequenceNumber),
					Data:        rec.Data,
					EnqueuedAt:  aws.ToTime(rec.ApproximateArrivalTimestamp),
				})
			}

			return records, nil
		}
		if r.iterator == nil {
			return nil, ErrEndOfPartition
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return []Record{}, nil
		}

		timer := time.NewTimer(min(r.pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Close implements PartitionReader.
func (r *kinesisReader) Close() error {
	return nil
}
