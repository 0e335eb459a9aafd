package lease

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leash/internal/objstore"
	leashtest "github.com/arloliu/leash/testing"
)

const testTTL = 60 * time.Second

type storeFactory func(t *testing.T, clock *leashtest.Clock) Store

// runStoreSuite checks the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore storeFactory) {
	t.Helper()

	t.Run("create if absent", func(t *testing.T) {
		store := newStore(t, leashtest.NewClock(time.Now()))

		created, err := store.TryCreateIfAbsent(t.Context(), "ownership.0")
		require.NoError(t, err)
		require.True(t, created)

		created, err = store.TryCreateIfAbsent(t.Context(), "ownership.0")
		require.NoError(t, err)
		require.False(t, created, "second create must report the existing record")

		rec, err := store.Get(t.Context(), "ownership.0")
		require.NoError(t, err)
		require.Empty(t, rec.Holder)
	})

	t.Run("contended acquire succeeds only after expiry", func(t *testing.T) {
		clock := leashtest.NewClock(time.Now())
		store := newStore(t, clock)
		ctx := t.Context()

		ok, err := store.AcquireLease(ctx, "ownership.1", "worker-a", testTTL)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.AcquireLease(ctx, "ownership.1", "worker-b", testTTL)
		require.NoError(t, err)
		require.False(t, ok, "lease held by worker-a")

		ok, err = store.AcquireLease(ctx, "ownership.1", "worker-a", testTTL)
		require.NoError(t, err)
		require.True(t, ok, "holder may re-acquire its own lease")

		clock.Advance(testTTL + time.Second)

		ok, err = store.AcquireLease(ctx, "ownership.1", "worker-b", testTTL)
		require.NoError(t, err)
		require.True(t, ok, "expired lease is claimable")

		ok, err = store.RenewLease(ctx, "ownership.1", "worker-a", testTTL)
		require.NoError(t, err)
		require.False(t, ok, "former holder cannot renew")

		rec, err := store.Get(ctx, "ownership.1")
		require.NoError(t, err)
		require.Equal(t, "worker-b", rec.Holder)
		require.True(t, rec.Leased(clock.Now()))
	})

	t.Run("renewal keeps the lease across many periods", func(t *testing.T) {
		clock := leashtest.NewClock(time.Now())
		store := newStore(t, clock)
		ctx := t.Context()

		ok, err := store.AcquireLease(ctx, "ownership.2", "worker-a", testTTL)
		require.NoError(t, err)
		require.True(t, ok)

		for range 20 {
			clock.Advance(testTTL / 3)

			ok, err = store.RenewLease(ctx, "ownership.2", "worker-a", testTTL)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = store.AcquireLease(ctx, "ownership.2", "worker-b", testTTL)
			require.NoError(t, err)
			require.False(t, ok)
		}
	})

	t.Run("renew of missing record", func(t *testing.T) {
		store := newStore(t, leashtest.NewClock(time.Now()))

		ok, err := store.RenewLease(t.Context(), "ownership.missing", "worker-a", testTTL)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("guarded put", func(t *testing.T) {
		clock := leashtest.NewClock(time.Now())
		store := newStore(t, clock)
		ctx := t.Context()

		ok, err := store.AcquireLease(ctx, "ownership.3", "worker-a", testTTL)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, store.Put(ctx, "ownership.3", []byte("touch"), "worker-a"))
		require.ErrorIs(t, store.Put(ctx, "ownership.3", []byte("steal"), "worker-b"), ErrNotHolder)
		require.ErrorIs(t, store.Put(ctx, "ownership.absent", []byte("x"), "worker-a"), ErrNotHolder)

		rec, err := store.Get(ctx, "ownership.3")
		require.NoError(t, err)
		require.Equal(t, "worker-a", rec.Holder, "put keeps lease metadata")
		require.Equal(t, "touch", string(rec.Value))

		clock.Advance(testTTL + time.Second)
		require.ErrorIs(t, store.Put(ctx, "ownership.3", []byte("late"), "worker-a"), ErrNotHolder)
	})

	t.Run("unguarded put and get", func(t *testing.T) {
		store := newStore(t, leashtest.NewClock(time.Now()))
		ctx := t.Context()

		require.NoError(t, store.Put(ctx, "liveness.worker-a", []byte(`{"workerId":"worker-a"}`), ""))
		require.NoError(t, store.Put(ctx, "liveness.worker-a", []byte(`{"workerId":"worker-a","n":2}`), ""))

		rec, err := store.Get(ctx, "liveness.worker-a")
		require.NoError(t, err)
		require.JSONEq(t, `{"workerId":"worker-a","n":2}`, string(rec.Value))
		require.False(t, rec.LastModified.IsZero())
	})

	t.Run("list by prefix", func(t *testing.T) {
		store := newStore(t, leashtest.NewClock(time.Now()))
		ctx := t.Context()

		for _, id := range []string{"worker-a", "worker-b", "worker-c"} {
			require.NoError(t, store.Put(ctx, Key("liveness", id), []byte(id), ""))
		}
		_, err := store.TryCreateIfAbsent(ctx, "ownership.0")
		require.NoError(t, err)
		_, err = store.TryCreateIfAbsent(ctx, "livenessx.other")
		require.NoError(t, err)

		var keys []string
		for rec, err := range store.ListByPrefix(ctx, "liveness") {
			require.NoError(t, err)
			keys = append(keys, rec.Key)
			require.False(t, rec.LastModified.IsZero())
		}
		require.ElementsMatch(t, []string{"liveness.worker-a", "liveness.worker-b", "liveness.worker-c"}, keys)

		count := 0
		for range store.ListByPrefix(ctx, "liveness") {
			count++
			break
		}
		require.Equal(t, 1, count, "iteration stops when the consumer breaks")

		for _, err := range store.ListByPrefix(ctx, "empty") {
			require.NoError(t, err)
			t.Fatal("no records expected under an unused prefix")
		}
	})

	t.Run("delete and last modified", func(t *testing.T) {
		store := newStore(t, leashtest.NewClock(time.Now()))
		ctx := t.Context()

		_, err := store.LastModified(ctx, "ownership.9")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.Put(ctx, "ownership.9", nil, ""))
		modified, err := store.LastModified(ctx, "ownership.9")
		require.NoError(t, err)
		require.False(t, modified.IsZero())

		require.NoError(t, store.Delete(ctx, "ownership.9"))
		require.NoError(t, store.Delete(ctx, "ownership.9"), "deleting twice is not an error")

		_, err = store.Get(ctx, "ownership.9")
		require.ErrorIs(t, err, ErrNotFound)

		created, err := store.TryCreateIfAbsent(ctx, "ownership.9")
		require.NoError(t, err)
		require.True(t, created, "deleted key can be created again")
	})

	t.Run("conditional delete", func(t *testing.T) {
		store := newStore(t, leashtest.NewClock(time.Now()))
		ctx := t.Context()

		require.NoError(t, store.Put(ctx, "liveness.w1", []byte("{}"), ""))
		stale, err := store.Get(ctx, "liveness.w1")
		require.NoError(t, err)
		require.NotEmpty(t, stale.Version)

		// A refresh between read and delete invalidates the version.
		require.NoError(t, store.Put(ctx, "liveness.w1", []byte("{}"), ""))
		err = store.DeleteIfVersion(ctx, "liveness.w1", stale.Version)
		require.ErrorIs(t, err, ErrConflict)
		_, err = store.Get(ctx, "liveness.w1")
		require.NoError(t, err, "refreshed record must survive")

		current, err := store.Get(ctx, "liveness.w1")
		require.NoError(t, err)
		require.NoError(t, store.DeleteIfVersion(ctx, "liveness.w1", current.Version))
		_, err = store.Get(ctx, "liveness.w1")
		require.ErrorIs(t, err, ErrNotFound)

		err = store.DeleteIfVersion(ctx, "liveness.w1", current.Version)
		require.ErrorIs(t, err, ErrConflict, "a removed record no longer matches")
	})

	t.Run("mutual exclusion under concurrent acquire", func(t *testing.T) {
		store := newStore(t, leashtest.NewClock(time.Now()))
		ctx := t.Context()

		const workers = 16
		var winners atomic.Int32
		var wg sync.WaitGroup
		errs := make(chan error, workers)

		for i := range workers {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()

				ok, err := store.AcquireLease(ctx, "ownership.race", fmt.Sprintf("worker-%d", id), testTTL)
				if err != nil {
					errs <- err
					return
				}
				if ok {
					winners.Add(1)
				}
			}(i)
		}

		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		require.Equal(t, int32(1), winners.Load(), "exactly one worker may hold the lease")
	})

	t.Run("invalid arguments", func(t *testing.T) {
		store := newStore(t, leashtest.NewClock(time.Now()))
		ctx := t.Context()

		_, err := store.TryCreateIfAbsent(ctx, "")
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = store.AcquireLease(ctx, "ownership..0", "worker-a", testTTL)
		require.ErrorIs(t, err, ErrInvalidKey)
		_, err = store.AcquireLease(ctx, "ownership.0", "", testTTL)
		require.Error(t, err)
		_, err = store.RenewLease(ctx, "ownership.0", "worker-a", 0)
		require.Error(t, err)
		require.False(t, errors.Is(err, ErrNotFound))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(_ *testing.T, clock *leashtest.Clock) Store {
		return NewMemoryStore(WithMemoryClock(clock.Now))
	})
}

func TestNATSStore(t *testing.T) {
	_, nc := leashtest.StartEmbeddedNATS(t)

	var n atomic.Int32
	runStoreSuite(t, func(t *testing.T, clock *leashtest.Clock) Store {
		kv := leashtest.CreateJetStreamKV(t, nc, fmt.Sprintf("leases-%d", n.Add(1)))
		return NewNATSStore(kv, WithNATSClock(clock.Now))
	})
}

func TestS3Store(t *testing.T) {
	runStoreSuite(t, func(_ *testing.T, clock *leashtest.Clock) Store {
		return NewS3Store(objstore.NewFake(clock.Now), "leases", "leash/", WithS3Clock(clock.Now))
	})
}
