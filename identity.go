package leash

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/arloliu/leash/internal/coordinator"
	"github.com/arloliu/leash/internal/logging"
	"github.com/arloliu/leash/internal/stableid"
	"github.com/arloliu/leash/lease"
)

// WorkerIdentity is a resolved worker ID. A stable identity stays leased in
// the lease store until Release.
type WorkerIdentity struct {
	// ID is the worker ID.
	ID string

	claimer *stableid.Claimer
}

// Stable reports whether the ID is a leased pool ID.
func (w *WorkerIdentity) Stable() bool {
	return w.claimer != nil
}

// Lost returns a channel closed when another process took over the stable ID.
// It is nil for other sources, so receiving from it blocks forever.
func (w *WorkerIdentity) Lost() <-chan struct{} {
	if w.claimer == nil {
		return nil
	}

	return w.claimer.Lost()
}

// Release frees a stable ID immediately. It is a no-op for other sources.
func (w *WorkerIdentity) Release(ctx context.Context) error {
	if w.claimer == nil {
		return nil
	}
	if err := w.claimer.Release(ctx); err != nil && !errors.Is(err, stableid.ErrNotClaimed) {
		return err
	}

	return nil
}

// ResolveWorkerID produces the worker ID selected by cfg.
//
// Parameters:
//   - ctx: Context for claiming a stable ID
//   - cfg: Identity configuration
//   - store: Lease store used by the "stable" source (may be nil otherwise)
//   - logger: Logger for claim diagnostics (nil for none)
//
// Returns:
//   - *WorkerIdentity: The resolved identity; stable IDs are renewed in the background
//   - error: ErrInvalidWorkerID for unusable IDs, ErrIDClaimFailed when the pool is exhausted
func ResolveWorkerID(ctx context.Context, cfg IdentityConfig, store lease.Store, logger Logger) (*WorkerIdentity, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var id string
	switch cfg.Source {
	case "", IdentityUUID:
		id = uuid.NewString()
	case IdentityHostname:
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		id = sanitizeID(host) + "-" + strconv.Itoa(os.Getpid())
	case IdentityStatic:
		id = cfg.Static
	case IdentityStable:
		if store == nil {
			return nil, ErrLeaseStoreRequired
		}
		claimer := stableid.NewClaimer(store, cfg.Prefix, cfg.Min, cfg.Max, cfg.TTL, logger)
		claimed, err := claimer.Claim(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIDClaimFailed, err)
		}
		if err := claimer.StartRenewal(); err != nil {
			_ = claimer.Release(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("%w: %w", ErrIDClaimFailed, err)
		}

		return &WorkerIdentity{ID: claimed, claimer: claimer}, nil
	default:
		return nil, fmt.Errorf("%w: unknown identity source %q", ErrInvalidConfig, cfg.Source)
	}

	if err := coordinator.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWorkerID, id)
	}

	return &WorkerIdentity{ID: id}, nil
}

// sanitizeID replaces characters that are not valid in a key token.
func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}
