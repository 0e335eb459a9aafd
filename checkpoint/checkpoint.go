package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// DefaultPrefix is the key prefix of checkpoint records.
const DefaultPrefix = "checkpoints"

// ErrInvalidCheckpoint is returned for empty or malformed partition IDs and
// undecodable records.
var ErrInvalidCheckpoint = errors.New("checkpoint: invalid checkpoint")

// Checkpoint is the persisted progress of one partition.
type Checkpoint struct {
	// PartitionID is the partition the checkpoint belongs to.
	PartitionID string `json:"partitionId"`
	// Position is the transport-specific position of the last processed record.
	Position string `json:"position"`
	// Time is the event time of the last processed record, in UTC.
	Time time.Time `json:"time,omitzero"`
	// UpdatedAt is when the checkpoint was written.
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Store reads and writes checkpoints for one stream source.
type Store interface {
	// Get returns the checkpoint of partitionID; found is false when none exists.
	Get(ctx context.Context, partitionID string) (cp Checkpoint, found bool, err error)

	// Set records position and its event time as the progress of partitionID.
	Set(ctx context.Context, partitionID, position string, eventTime time.Time) error

	// ResetAll deletes every checkpoint written for a different source.
	ResetAll(ctx context.Context) error
}

// SourceID fingerprints a stream source description, such as the transport
// kind and stream name, into a short key token. Checkpoints from sources with
// different fingerprints never mix.
//
// Example:
//
//	checkpoint.SourceID("jetstream", "EVENTS", "events.*") // "9f0c2a1e33b7d410"
func SourceID(parts ...string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(strings.Join(parts, "\x00")))
}

// ValidatePartitionID checks that id is usable as a key token in every backend.
func ValidatePartitionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty partition id", ErrInvalidCheckpoint)
	}
	for i := range len(id) {
		c := id[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return fmt.Errorf("%w: partition id %q", ErrInvalidCheckpoint, id)
		}
	}

	return nil
}

// keyspace builds and parses checkpoint keys.
type keyspace struct {
	prefix string
	source string
}

func (k keyspace) key(partitionID string) string {
	return k.prefix + "." + k.source + "." + partitionID
}

// foreign reports whether key is a checkpoint key of a different source.
func (k keyspace) foreign(key string) bool {
	rest, ok := strings.CutPrefix(key, k.prefix+".")
	if !ok {
		return false
	}
	source, _, ok := strings.Cut(rest, ".")

	return ok && source != k.source
}

func encode(cp Checkpoint) ([]byte, error) {
	raw, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode: %w", err)
	}

	return raw, nil
}

func decode(raw []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
	}

	return cp, nil
}
