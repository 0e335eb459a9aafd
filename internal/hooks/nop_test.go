package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leash/types"
)

func TestNewNop(t *testing.T) {
	h := NewNop()
	ctx := t.Context()

	require.NoError(t, h.OnOwnershipChanged(ctx, []string{"0", "1"}))
	require.NoError(t, h.OnStateChanged(ctx, types.StateInit, types.StateRegistering))
	require.NoError(t, h.OnError(ctx, errors.New("boom")))
}

func TestFill(t *testing.T) {
	t.Run("nil hooks", func(t *testing.T) {
		h := Fill(nil)
		require.NotNil(t, h.OnOwnershipChanged)
		require.NotNil(t, h.OnStateChanged)
		require.NotNil(t, h.OnError)
	})

	t.Run("keeps provided callbacks", func(t *testing.T) {
		called := false
		h := Fill(&types.Hooks{
			OnError: func(_ context.Context, _ error) error {
				called = true
				return nil
			},
		})

		require.NotNil(t, h.OnStateChanged)
		require.NoError(t, h.OnError(t.Context(), errors.New("boom")))
		require.True(t, called)
	})
}
