package lease

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyHelpers(t *testing.T) {
	require.Equal(t, "ownership.7", Key("ownership", "7"))
	require.Equal(t, "7", LastToken("ownership.7"))
	require.Equal(t, "plain", LastToken("plain"))

	require.NoError(t, ValidateKey("liveness.worker-1"))
	require.ErrorIs(t, ValidateKey(""), ErrInvalidKey)
	require.ErrorIs(t, ValidateKey("liveness."), ErrInvalidKey)
	require.ErrorIs(t, ValidateKey(".liveness"), ErrInvalidKey)
}

func TestEncodeKeyRoundTrip(t *testing.T) {
	tests := []struct {
		key     string
		encoded string
	}{
		{"ownership.0", "ownership.0"},
		{"liveness.host:1234", "liveness.host=3A1234"},
		{"liveness.a=b", "liveness.a=3Db"},
		{"ownership.shardId-000000000001", "ownership.shardId-000000000001"},
		{"liveness.wörker", "liveness.w=C3=B6rker"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.Equal(t, tt.encoded, encodeKey(tt.key))
			require.Equal(t, tt.key, decodeKey(tt.encoded))
		})
	}
}
