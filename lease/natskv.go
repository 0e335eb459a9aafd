package lease

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leash/internal/kvutil"
	"github.com/arloliu/leash/internal/natsutil"
)

// maxWriteAttempts bounds read-modify-write retries of unguarded puts.
const maxWriteAttempts = 3

// NATSStore is a Store backed by a NATS JetStream KeyValue bucket.
//
// Each key maps to one KV entry holding a JSON envelope. Leases are granted with
// Create (absent key) or Update against the revision that was read, so a lost
// race surfaces as a revision conflict and is reported as contention.
type NATSStore struct {
	kv    jetstream.KeyValue
	clock func() time.Time
}

// NATSOption configures a NATSStore.
type NATSOption func(*NATSStore)

// WithNATSClock sets the time source used for expiry decisions.
func WithNATSClock(clock func() time.Time) NATSOption {
	return func(s *NATSStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// BucketSpec describes the KV bucket opened by OpenNATSStore.
type BucketSpec = kvutil.BucketSpec

// Compile-time assertion that NATSStore implements Store.
var _ Store = (*NATSStore)(nil)

// NewNATSStore wraps an existing KV bucket.
//
// The bucket should keep a history of 1 and no TTL: liveness and lease expiry are
// decided from the stored timestamps.
func NewNATSStore(kv jetstream.KeyValue, opts ...NATSOption) *NATSStore {
	s := &NATSStore{kv: kv, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// OpenNATSStore creates or opens the bucket described by spec and wraps it.
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	store, err := lease.OpenNATSStore(ctx, js, lease.BucketSpec{Name: "leash-leases"})
func OpenNATSStore(ctx context.Context, js jetstream.JetStream, spec BucketSpec, opts ...NATSOption) (*NATSStore, error) {
	kv, err := kvutil.Ensure(ctx, js, spec)
	if err != nil {
		return nil, fmt.Errorf("open lease bucket: %w", err)
	}

	return NewNATSStore(kv, opts...), nil
}

// TryCreateIfAbsent implements Store.
func (s *NATSStore) TryCreateIfAbsent(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	env := envelope{}
	raw, err := env.encode()
	if err != nil {
		return false, err
	}

	if _, err := s.kv.Create(ctx, encodeKey(key), raw); err != nil {
		if natsutil.IsConflict(err) {
			return false, nil
		}

		return false, natsutil.Wrap("create "+key, err)
	}

	return true, nil
}

// AcquireLease implements Store.
func (s *NATSStore) AcquireLease(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	if err := validateLeaseArgs(key, holderID, ttl); err != nil {
		return false, err
	}

	env, revision, err := s.read(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		env = envelope{}
	case err != nil:
		return false, err
	}

	if !env.acquire(holderID, s.clock(), ttl) {
		return false, nil
	}

	if err := s.write(ctx, key, &env, revision); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// RenewLease implements Store.
func (s *NATSStore) RenewLease(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	if err := validateLeaseArgs(key, holderID, ttl); err != nil {
		return false, err
	}

	env, revision, err := s.read(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !env.renew(holderID, s.clock(), ttl) {
		return false, nil
	}

	if err := s.write(ctx, key, &env, revision); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Put implements Store.
func (s *NATSStore) Put(ctx context.Context, key string, value []byte, holderID string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	for range maxWriteAttempts {
		env, revision, err := s.read(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			env = envelope{}
		case err != nil:
			return err
		}

		if holderID != "" && (revision == 0 || !env.heldBy(holderID, s.clock())) {
			return ErrNotHolder
		}

		env.Data = value
		err = s.write(ctx, key, &env, revision)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if holderID != "" {
			// The lease record changed under us; the caller must revalidate ownership.
			return err
		}
	}

	return fmt.Errorf("put %s: %w", key, ErrConflict)
}

// Get implements Store.
func (s *NATSStore) Get(ctx context.Context, key string) (Record, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Record{}, ErrNotFound
		}

		return Record{}, natsutil.Wrap("get "+key, err)
	}

	return entryRecord(key, entry)
}

// ListByPrefix implements Store.
//
// The listing is a watch over prefix.> that yields the current value of every
// matching key and stops once the initial snapshot has been delivered.
func (s *NATSStore) ListByPrefix(ctx context.Context, prefix string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		watcher, err := s.kv.Watch(watchCtx, encodeKey(prefix)+".>", jetstream.IgnoreDeletes())
		if err != nil {
			yield(Record{}, natsutil.Wrap("watch "+prefix, err))
			return
		}
		defer watcher.Stop() //nolint:errcheck

		for {
			select {
			case <-ctx.Done():
				yield(Record{}, ctx.Err())
				return
			case entry, ok := <-watcher.Updates():
				if !ok || entry == nil {
					// nil marks the end of the initial snapshot
					return
				}

				rec, err := entryRecord(decodeKey(entry.Key()), entry)
				if !yield(rec, err) || err != nil {
					return
				}
			}
		}
	}
}

// LastModified implements Store.
func (s *NATSStore) LastModified(ctx context.Context, key string) (time.Time, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return time.Time{}, ErrNotFound
		}

		return time.Time{}, natsutil.Wrap("get "+key, err)
	}

	return entry.Created(), nil
}

// Delete implements Store.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, encodeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return natsutil.Wrap("delete "+key, err)
	}

	return nil
}

// DeleteIfVersion implements Store. The delete is conditioned on the entry
// revision, so a write that landed after version was read fails it.
func (s *NATSStore) DeleteIfVersion(ctx context.Context, key, version string) error {
	revision, err := strconv.ParseUint(version, 10, 64)
	if err != nil || revision == 0 {
		return fmt.Errorf("delete %s: invalid revision %q: %w", key, version, ErrConflict)
	}

	err = s.kv.Delete(ctx, encodeKey(key), jetstream.LastRevision(revision))
	if natsutil.IsConflict(err) {
		return fmt.Errorf("delete %s: %w", key, ErrConflict)
	}

	return natsutil.Wrap("delete "+key, err)
}

// read returns the decoded envelope and its revision, or ErrNotFound.
func (s *NATSStore) read(ctx context.Context, key string) (envelope, uint64, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return envelope{}, 0, ErrNotFound
		}

		return envelope{}, 0, natsutil.Wrap("get "+key, err)
	}

	env, err := decodeEnvelope(entry.Value())
	if err != nil {
		return envelope{}, 0, err
	}

	return env, entry.Revision(), nil
}

// write stores env conditionally: Create when revision is 0, Update otherwise.
// Lost races are reported as ErrConflict.
func (s *NATSStore) write(ctx context.Context, key string, env *envelope, revision uint64) error {
	raw, err := env.encode()
	if err != nil {
		return err
	}

	k := encodeKey(key)
	if revision == 0 {
		_, err = s.kv.Create(ctx, k, raw)
	} else {
		_, err = s.kv.Update(ctx, k, raw, revision)
	}

	if natsutil.IsConflict(err) {
		return fmt.Errorf("write %s: %w", key, ErrConflict)
	}

	return natsutil.Wrap("write "+key, err)
}

func entryRecord(key string, entry jetstream.KeyValueEntry) (Record, error) {
	env, err := decodeEnvelope(entry.Value())
	if err != nil {
		return Record{}, err
	}

	return env.record(key, entry.Created(), strconv.FormatUint(entry.Revision(), 10)), nil
}

// encodeKey escapes every token of key into the NATS KV key alphabet.
// Bytes outside [-_/a-zA-Z0-9] become "=XX" so the mapping is reversible.
func encodeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := range len(key) {
		c := key[i]
		if c == '.' || isKeyByte(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "=%02X", c)
	}

	return b.String()
}

// decodeKey reverses encodeKey.
func decodeKey(key string) string {
	if !strings.Contains(key, "=") {
		return key
	}

	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		if key[i] == '=' && i+2 < len(key) {
			if v, err := strconv.ParseUint(key[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2

				continue
			}
		}
		b.WriteByte(key[i])
	}

	return b.String()
}

func isKeyByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '_' || c == '/'
}
