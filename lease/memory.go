package lease

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
//
// It implements the same lease semantics as the shared backends and is safe for
// concurrent use, which makes it suitable for simulating many workers in one
// test process.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]*memoryRecord
	clock    func() time.Time
	revision uint64
}

type memoryRecord struct {
	env      envelope
	modified time.Time
	revision uint64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the time source used for expiry decisions and
// last-modified timestamps.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
//
// Example:
//
//	clock := leashtest.NewClock(time.Now())
//	store := lease.NewMemoryStore(lease.WithMemoryClock(clock.Now))
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*memoryRecord),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// TryCreateIfAbsent implements Store.
func (s *MemoryStore) TryCreateIfAbsent(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.write(key, &memoryRecord{})

	return true, nil
}

// AcquireLease implements Store.
func (s *MemoryStore) AcquireLease(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	if err := validateLeaseArgs(key, holderID, ttl); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &memoryRecord{}
	}
	next := rec.env
	if !next.acquire(holderID, s.clock(), ttl) {
		return false, nil
	}
	rec.env = next
	s.write(key, rec)

	return true, nil
}

// RenewLease implements Store.
func (s *MemoryStore) RenewLease(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	if err := validateLeaseArgs(key, holderID, ttl); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return false, nil
	}
	next := rec.env
	if !next.renew(holderID, s.clock(), ttl) {
		return false, nil
	}
	rec.env = next
	s.write(key, rec)

	return true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, holderID string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if holderID != "" && (!ok || !rec.env.heldBy(holderID, s.clock())) {
		return ErrNotHolder
	}
	if !ok {
		rec = &memoryRecord{}
	}
	rec.env.Data = slices.Clone(value)
	s.write(key, rec)

	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}

	return rec.snapshot(key), nil
}

// ListByPrefix implements Store. The key set is captured when iteration starts;
// each record is read as it is yielded, so records deleted mid-iteration are skipped.
func (s *MemoryStore) ListByPrefix(ctx context.Context, prefix string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		s.mu.Lock()
		keys := make([]string, 0, len(s.records))
		for key := range s.records {
			if strings.HasPrefix(key, prefix+".") {
				keys = append(keys, key)
			}
		}
		s.mu.Unlock()
		slices.Sort(keys)

		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}

			s.mu.Lock()
			rec, ok := s.records[key]
			var snap Record
			if ok {
				snap = rec.snapshot(key)
			}
			s.mu.Unlock()

			if !ok {
				continue
			}
			if !yield(snap, nil) {
				return
			}
		}
	}
}

// LastModified implements Store.
func (s *MemoryStore) LastModified(ctx context.Context, key string) (time.Time, error) {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}

	return rec.LastModified, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)

	return nil
}

// DeleteIfVersion implements Store.
func (s *MemoryStore) DeleteIfVersion(ctx context.Context, key, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || strconv.FormatUint(rec.revision, 10) != version {
		return fmt.Errorf("delete %s: %w", key, ErrConflict)
	}
	delete(s.records, key)

	return nil
}

// Len returns the number of records in the store.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// write stores rec under key with a fresh revision and timestamp. Caller holds s.mu.
func (s *MemoryStore) write(key string, rec *memoryRecord) {
	s.revision++
	rec.revision = s.revision
	rec.modified = s.clock()
	s.records[key] = rec
}

func (r *memoryRecord) snapshot(key string) Record {
	out := r.env.record(key, r.modified, strconv.FormatUint(r.revision, 10))
	out.Value = slices.Clone(out.Value)

	return out
}
