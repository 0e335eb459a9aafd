package hooks

import (
	"context"

	"github.com/arloliu/leash/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// NewNop creates a new no-op hooks implementation.
func NewNop() *types.Hooks {
	h := &NopHooks{}

	return &types.Hooks{
		OnOwnershipChanged: h.OnOwnershipChanged,
		OnStateChanged:     h.OnStateChanged,
		OnError:            h.OnError,
	}
}

// Fill returns a copy of hooks with every nil callback replaced by a no-op.
func Fill(hooks *types.Hooks) *types.Hooks {
	filled := NewNop()
	if hooks == nil {
		return filled
	}
	if hooks.OnOwnershipChanged != nil {
		filled.OnOwnershipChanged = hooks.OnOwnershipChanged
	}
	if hooks.OnStateChanged != nil {
		filled.OnStateChanged = hooks.OnStateChanged
	}
	if hooks.OnError != nil {
		filled.OnError = hooks.OnError
	}

	return filled
}

// OnOwnershipChanged is a no-op implementation.
func (h *NopHooks) OnOwnershipChanged(_ context.Context, _ []string) error {
	return nil
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.State) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
