package testutil

import (
	"testing"
)

// OwnershipDisjoint reports whether no partition appears under more than one worker.
func OwnershipDisjoint(ownership map[string][]string) bool {
	seen := make(map[string]struct{})
	for _, owned := range ownership {
		for _, pid := range owned {
			if _, ok := seen[pid]; ok {
				return false
			}
			seen[pid] = struct{}{}
		}
	}

	return true
}

// AssertOwnershipConsistent verifies that ownership is disjoint and that every
// worker holds exactly floor(numPartitions/workers) partitions.
//
// Parameters:
//   - t: testing handle
//   - ownership: map of workerID -> owned partition ids
//   - numPartitions: number of partitions in the catalog
func AssertOwnershipConsistent(t *testing.T, ownership map[string][]string, numPartitions int) {
	t.Helper()

	if len(ownership) == 0 {
		t.Fatalf("no workers in ownership map")
	}

	seen := make(map[string]string, numPartitions)
	share := numPartitions / len(ownership)
	for worker, owned := range ownership {
		if len(owned) != share {
			t.Fatalf("worker %s owns %d partitions, fair share is %d", worker, len(owned), share)
		}
		for _, pid := range owned {
			if other, ok := seen[pid]; ok {
				t.Fatalf("partition %s owned by both %s and %s", pid, other, worker)
			}
			seen[pid] = worker
		}
	}
}
