package natsutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/leash/types"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", nats.ErrTimeout, true},
		{"wrapped no servers", fmt.Errorf("get: %w", nats.ErrNoServers), true},
		{"connection refused text", errors.New("dial tcp: connection refused"), true},
		{"store unavailable", types.ErrStoreUnavailable, true},
		{"key not found", jetstream.ErrKeyNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}

func TestIsConflict(t *testing.T) {
	require.True(t, IsConflict(jetstream.ErrKeyExists))
	require.True(t, IsConflict(fmt.Errorf("update: %w", jetstream.ErrKeyExists)))
	require.True(t, IsConflict(&jetstream.APIError{ErrorCode: jetstream.JSErrCodeStreamWrongLastSequence, Code: 400}))
	require.False(t, IsConflict(&jetstream.APIError{ErrorCode: jetstream.JSErrCodeStreamNotFound, Code: 404}))
	require.False(t, IsConflict(nil))
}

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap("get", nil))

	err := Wrap("get", nats.ErrTimeout)
	require.ErrorIs(t, err, types.ErrStoreUnavailable)
	require.ErrorIs(t, err, nats.ErrTimeout)

	err = Wrap("get", errors.New("bad value"))
	require.NotErrorIs(t, err, types.ErrStoreUnavailable)
	require.Contains(t, err.Error(), "get: bad value")
}
