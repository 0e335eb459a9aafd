package stream

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryOwnershipStore is an in-process OwnershipStore. Processors sharing one
// store split the partitions between them; a claim is granted when the
// partition is unowned, already owned by the claimant, or its entry expired.
type MemoryOwnershipStore struct {
	mu         sync.Mutex
	entries    map[string]Ownership
	expiration time.Duration
	clock      func() time.Time
}

// Compile-time assertion that MemoryOwnershipStore implements OwnershipStore.
var _ OwnershipStore = (*MemoryOwnershipStore)(nil)

// NewMemoryOwnershipStore creates an empty store whose entries expire after
// expiration without a refreshing claim.
func NewMemoryOwnershipStore(expiration time.Duration) *MemoryOwnershipStore {
	return &MemoryOwnershipStore{
		entries:    make(map[string]Ownership),
		expiration: expiration,
		clock:      time.Now,
	}
}

// ListOwnership implements OwnershipStore.
func (s *MemoryOwnershipStore) ListOwnership(ctx context.Context) ([]Ownership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Ownership, 0, len(s.entries))
	for _, o := range s.entries {
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b Ownership) int { return strings.Compare(a.PartitionID, b.PartitionID) })

	return out, nil
}

// ClaimOwnership implements OwnershipStore.
func (s *MemoryOwnershipStore) ClaimOwnership(ctx context.Context, claims []Ownership) ([]Ownership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	granted := make([]Ownership, 0, len(claims))
	for _, claim := range claims {
		current, ok := s.entries[claim.PartitionID]
		if ok && current.OwnerID != claim.OwnerID && now.Sub(current.LastModified) <= s.expiration {
			continue
		}
		claim.LastModified = now
		s.entries[claim.PartitionID] = claim
		granted = append(granted, claim)
	}

	return granted, nil
}

// planClaims decides which partitions ownerID should claim this pass.
//
// Every owner with a fresh entry counts toward the share, which is
// ceil(partitions / owners). Fresh entries of ownerID are renewed first, then
// free or expired partitions are added in catalog order up to the share.
// Partitions held by others are never stolen.
func planClaims(ownerID string, partitions []string, ownerships []Ownership, now time.Time, expiration time.Duration) []Ownership {
	if len(partitions) == 0 {
		return nil
	}

	fresh := make(map[string]Ownership, len(ownerships))
	owners := map[string]struct{}{ownerID: {}}
	for _, o := range ownerships {
		if now.Sub(o.LastModified) <= expiration {
			fresh[o.PartitionID] = o
			owners[o.OwnerID] = struct{}{}
		}
	}
	share := (len(partitions) + len(owners) - 1) / len(owners)

	claims := make([]Ownership, 0, share)
	for _, id := range partitions {
		if o, ok := fresh[id]; ok && o.OwnerID == ownerID {
			claims = append(claims, Ownership{PartitionID: id, OwnerID: ownerID})
		}
	}
	for _, id := range partitions {
		if len(claims) >= share {
			break
		}
		if _, taken := fresh[id]; !taken {
			claims = append(claims, Ownership{PartitionID: id, OwnerID: ownerID})
		}
	}

	return claims
}
