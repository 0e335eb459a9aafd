package stream

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leash/internal/natsutil"
)

// JetStreamConfig describes how partitions map onto a JetStream stream.
type JetStreamConfig struct {
	// Stream is the JetStream stream name.
	Stream string `yaml:"stream"`

	// SubjectPrefix is the subject prefix; partition p lives on "{prefix}.{p}".
	SubjectPrefix string `yaml:"subjectPrefix"`

	// Partitions fixes the catalog to "0".."Partitions-1". Zero discovers the
	// catalog from the subjects present in the stream.
	Partitions int `yaml:"partitions"`
}

// Validate checks the required fields.
func (c JetStreamConfig) Validate() error {
	if c.Stream == "" {
		return errors.New("stream: jetstream stream name is required")
	}
	if c.SubjectPrefix == "" {
		return errors.New("stream: jetstream subject prefix is required")
	}
	if c.Partitions < 0 {
		return errors.New("stream: jetstream partitions must not be negative")
	}

	return nil
}

// JetStreamTransport reads partitions from subjects of a JetStream stream.
//
// Each reader is an ordered consumer filtered to one partition subject, so no
// durable consumer state is created; progress lives in checkpoints.
type JetStreamTransport struct {
	js  jetstream.JetStream
	cfg JetStreamConfig
}

// Compile-time assertion that JetStreamTransport implements Transport.
var _ Transport = (*JetStreamTransport)(nil)

// NewJetStreamTransport creates a transport over js.
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	transport, err := stream.NewJetStreamTransport(js, stream.JetStreamConfig{
//	    Stream:        "EVENTS",
//	    SubjectPrefix: "events",
//	    Partitions:    16,
//	})
func NewJetStreamTransport(js jetstream.JetStream, cfg JetStreamConfig) (*JetStreamTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &JetStreamTransport{js: js, cfg: cfg}, nil
}

// Subject returns the subject of partitionID.
func (t *JetStreamTransport) Subject(partitionID string) string {
	return t.cfg.SubjectPrefix + "." + partitionID
}

// ListPartitions implements Transport.
func (t *JetStreamTransport) ListPartitions(ctx context.Context) ([]string, error) {
	if t.cfg.Partitions > 0 {
		ids := make([]string, t.cfg.Partitions)
		for i := range ids {
			ids[i] = strconv.Itoa(i)
		}

		return ids, nil
	}

	s, err := t.js.Stream(ctx, t.cfg.Stream)
	if err != nil {
		return nil, natsutil.Wrap("lookup stream "+t.cfg.Stream, err)
	}
	info, err := s.Info(ctx, jetstream.WithSubjectFilter(t.cfg.SubjectPrefix+".>"))
	if err != nil {
		return nil, natsutil.Wrap("stream info "+t.cfg.Stream, err)
	}

	ids := make([]string, 0, len(info.State.Subjects))
	for subject := range info.State.Subjects {
		if id, ok := strings.CutPrefix(subject, t.cfg.SubjectPrefix+"."); ok && !strings.Contains(id, ".") {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, ComparePartitionIDs)

	return ids, nil
}

// OpenReader implements Transport.
func (t *JetStreamTransport) OpenReader(ctx context.Context, partitionID string, start StartPosition) (PartitionReader, error) {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{t.Subject(partitionID)},
	}
	switch start.Kind {
	case PositionEarliest:
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	case PositionAfter:
		seq, err := strconv.ParseUint(start.Position, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stream: invalid jetstream position %q: %w", start.Position, err)
		}
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = seq + 1
	case PositionFromTime:
		at := start.Time
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		cfg.OptStartTime = &at
	default:
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	}

	cons, err := t.js.OrderedConsumer(ctx, t.cfg.Stream, cfg)
	if err != nil {
		return nil, natsutil.Wrap("create ordered consumer for "+partitionID, err)
	}

	return &jetStreamReader{cons: cons, partitionID: partitionID}, nil
}

type jetStreamReader struct {
	cons        jetstream.Consumer
	partitionID string
}

// ReadBatch implements PartitionReader.
func (r *jetStreamReader) ReadBatch(ctx context.Context, maxRecords int, maxWait time.Duration) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := r.cons.Fetch(maxRecords, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		return nil, natsutil.Wrap("fetch "+r.partitionID, err)
	}

	records := make([]Record, 0, maxRecords)
	for msg := range batch.Messages() {
		md, err := msg.Metadata()
		if err != nil {
			return nil, fmt.Errorf("stream: message metadata: %w", err)
		}
		records = append(records, Record{
			PartitionID: r.partitionID,
			Position:    strconv.FormatUint(md.Sequence.Stream, 10),
			Data:        msg.Data(),
			EnqueuedAt:  md.Timestamp,
		})
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		return records, natsutil.Wrap("fetch "+r.partitionID, err)
	}

	return records, nil
}

// Close implements PartitionReader. Ordered consumers are ephemeral and are
// removed by the server once inactive.
func (r *jetStreamReader) Close() error {
	return nil
}

// ComparePartitionIDs orders numeric IDs numerically and everything else
// lexically, numeric IDs first.
func ComparePartitionIDs(a, b string) int {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return cmp.Compare(an, bn)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
