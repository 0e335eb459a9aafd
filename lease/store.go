package lease

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when no record exists at a key.
	ErrNotFound = errors.New("lease: record not found")

	// ErrNotHolder is returned by a guarded Put when the caller does not hold the lease.
	ErrNotHolder = errors.New("lease: caller does not hold the lease")

	// ErrConflict is returned when a conditional write lost a race with a concurrent writer.
	ErrConflict = errors.New("lease: concurrent modification")

	// ErrInvalidKey is returned for empty keys or keys with empty tokens.
	ErrInvalidKey = errors.New("lease: invalid key")
)

// Record is a stored record together with its lease metadata.
type Record struct {
	// Key is the record key.
	Key string
	// Value is the application payload. Listings from backends that cannot
	// return payloads cheaply leave it nil.
	Value []byte
	// Holder is the current or last lease holder; empty if never leased.
	Holder string
	// ExpiresAt is when the lease stops being valid.
	ExpiresAt time.Time
	// LastModified is the time of the most recent write to the record.
	LastModified time.Time
	// Version is a backend-specific version token (revision, ETag).
	Version string
}

// Leased reports whether the record carries a lease that is still valid at now.
func (r Record) Leased(now time.Time) bool {
	return r.Holder != "" && now.Before(r.ExpiresAt)
}

// Store is the narrow contract the coordinator needs from shared storage.
//
// All operations may fail transiently; callers retry with backoff. Contention is
// not an error: AcquireLease and RenewLease return false, TryCreateIfAbsent
// returns false when the key already exists.
type Store interface {
	// TryCreateIfAbsent creates an empty record at key only if none exists.
	// Among concurrent callers exactly one observes true.
	TryCreateIfAbsent(ctx context.Context, key string) (bool, error)

	// AcquireLease grants the lease on key to holderID for ttl when no other
	// holder has a valid lease. Re-acquiring a lease the caller already holds
	// succeeds and extends it. The record is created if missing.
	AcquireLease(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error)

	// RenewLease extends the lease for ttl only if holderID is the current holder.
	// It returns false when another holder took the lease or the record is gone.
	RenewLease(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error)

	// Put writes value at key and refreshes its last-modified time, keeping lease
	// metadata. With a non-empty holderID the write only succeeds while holderID
	// holds a valid lease (ErrNotHolder otherwise).
	Put(ctx context.Context, key string, value []byte, holderID string) error

	// Get returns the record at key or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// ListByPrefix lazily yields every record whose key starts with prefix + ".".
	// Iteration stops at the first error, which is yielded with a zero Record.
	ListByPrefix(ctx context.Context, prefix string) iter.Seq2[Record, error]

	// LastModified returns the last write time of key or ErrNotFound.
	LastModified(ctx context.Context, key string) (time.Time, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIfVersion removes key only while its Version still equals version.
	// It returns ErrConflict when the record was rewritten or removed since
	// version was read.
	DeleteIfVersion(ctx context.Context, key, version string) error
}

// Key joins tokens into a store key.
//
// Example:
//
//	lease.Key("ownership", "7") // "ownership.7"
func Key(tokens ...string) string {
	return strings.Join(tokens, ".")
}

// LastToken returns the final token of a key, for example the partition id of
// an ownership key.
func LastToken(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}

	return key
}

// ValidateKey checks that key is non-empty and has no empty tokens.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	for token := range strings.SplitSeq(key, ".") {
		if token == "" {
			return ErrInvalidKey
		}
	}

	return nil
}

// validateLeaseArgs checks the common arguments of lease operations.
func validateLeaseArgs(key, holderID string, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if holderID == "" {
		return errors.New("lease: holder id is required")
	}
	if ttl <= 0 {
		return errors.New("lease: ttl must be positive")
	}

	return nil
}
