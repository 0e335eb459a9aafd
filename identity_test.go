package leash

import (
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leash/lease"
	leashtest "github.com/arloliu/leash/testing"
)

func TestResolveWorkerID(t *testing.T) {
	ctx := t.Context()

	t.Run("uuid", func(t *testing.T) {
		a, err := ResolveWorkerID(ctx, IdentityConfig{Source: IdentityUUID}, nil, nil)
		require.NoError(t, err)
		b, err := ResolveWorkerID(ctx, IdentityConfig{}, nil, nil)
		require.NoError(t, err)

		require.Len(t, a.ID, 36)
		require.NotEqual(t, a.ID, b.ID)
		require.False(t, a.Stable())
		require.NoError(t, a.Release(ctx))
	})

	t.Run("hostname", func(t *testing.T) {
		id, err := ResolveWorkerID(ctx, IdentityConfig{Source: IdentityHostname}, nil, nil)
		require.NoError(t, err)

		require.True(t, strings.HasSuffix(id.ID, "-"+strconv.Itoa(os.Getpid())))
		require.NotContains(t, id.ID, ".")
	})

	t.Run("static", func(t *testing.T) {
		id, err := ResolveWorkerID(ctx, IdentityConfig{Source: IdentityStatic, Static: "ingest-3"}, nil, nil)
		require.NoError(t, err)
		require.Equal(t, "ingest-3", id.ID)

		_, err = ResolveWorkerID(ctx, IdentityConfig{Source: IdentityStatic, Static: "a.b"}, nil, nil)
		require.ErrorIs(t, err, ErrInvalidWorkerID)
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := ResolveWorkerID(ctx, IdentityConfig{Source: "dns"}, nil, nil)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("stable needs a store", func(t *testing.T) {
		_, err := ResolveWorkerID(ctx, IdentityConfig{Source: IdentityStable, Prefix: "w", Max: 1, TTL: time.Minute}, nil, nil)
		require.ErrorIs(t, err, ErrLeaseStoreRequired)
	})

	t.Run("stable claims the lowest free ID", func(t *testing.T) {
		store := lease.NewMemoryStore()
		cfg := IdentityConfig{Source: IdentityStable, Prefix: "w", Min: 0, Max: 1, TTL: time.Minute}
		logger := leashtest.NewTestLogger(t)

		first, err := ResolveWorkerID(ctx, cfg, store, logger)
		require.NoError(t, err)
		require.Equal(t, "w-0", first.ID)
		require.True(t, first.Stable())

		second, err := ResolveWorkerID(ctx, cfg, store, logger)
		require.NoError(t, err)
		require.Equal(t, "w-1", second.ID)

		_, err = ResolveWorkerID(ctx, cfg, store, logger)
		require.ErrorIs(t, err, ErrIDClaimFailed)

		require.NoError(t, first.Release(ctx))
		require.NoError(t, first.Release(ctx))

		third, err := ResolveWorkerID(ctx, cfg, store, logger)
		require.NoError(t, err)
		require.Equal(t, "w-0", third.ID)

		require.NoError(t, second.Release(ctx))
		require.NoError(t, third.Release(ctx))
		t.Logf("✅ stable IDs claimed in order and reused after release")
	})
}

func TestSanitizeID(t *testing.T) {
	require.Equal(t, "host-example-com", sanitizeID("host.example.com"))
	require.Equal(t, "node_1-a", sanitizeID("node_1-a"))
	require.Equal(t, "a-b-c", sanitizeID("a/b c"))
}
