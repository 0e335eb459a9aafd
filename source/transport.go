package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/leash/stream"
	"github.com/arloliu/leash/types"
)

// Transport is a partition catalog backed by a stream transport, such as the
// subjects of a JetStream stream or the shards of a Kinesis stream.
type Transport struct {
	transport stream.Transport
}

var _ types.PartitionCatalog = (*Transport)(nil)

// ErrEmptyCatalog is returned when the transport reports no partitions.
var ErrEmptyCatalog = errors.New("source: transport reported no partitions")

// NewTransport creates a catalog that queries transport on every call.
//
// Example:
//
//	transport, _ := stream.NewKinesisTransport(client, stream.KinesisConfig{StreamName: "events"})
//	catalog := source.NewTransport(transport)
func NewTransport(transport stream.Transport) *Transport {
	return &Transport{transport: transport}
}

// ListPartitions returns the transport catalog. An empty catalog is reported
// as ErrEmptyCatalog so the rebalancer retries instead of idling a cycle.
func (s *Transport) ListPartitions(ctx context.Context) ([]string, error) {
	ids, err := s.transport.ListPartitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("source: list transport partitions: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrEmptyCatalog
	}

	return ids, nil
}
