package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOwnershipDisjoint(t *testing.T) {
	require.True(t, OwnershipDisjoint(map[string][]string{
		"w1": {"0", "1"},
		"w2": {"2", "3"},
	}))
	require.False(t, OwnershipDisjoint(map[string][]string{
		"w1": {"0", "1"},
		"w2": {"1", "2"},
	}))
	require.True(t, OwnershipDisjoint(nil))
}

func TestAssertOwnershipConsistent_Passes(t *testing.T) {
	ownership := map[string][]string{
		"w1": {"0", "1"},
		"w2": {"2", "3"},
		"w3": {"4", "5"},
	}
	// One partition of seven is left over.
	AssertOwnershipConsistent(t, ownership, 7)
}
