package quota

import (
	"context"

	"github.com/google/uuid"

	"github.com/toolforge-platform/toolforge/internal/capability"
)

// LimitStore reads the limit configuration rows the resolver consults.
type LimitStore interface {
	GetUserOverride(ctx context.Context, userID uuid.UUID, cap capability.Capability) (*UserOverride, error)
	GetGlobalLimit(ctx context.Context, cap capability.Capability) (*GlobalLimit, error)
}

// Resolver determines the effective daily limit for a (user, capability)
// pair: per-user override first, then the global default, then the
// hardcoded fallback. The result is snapshotted onto the ledger row at
// creation and not re-resolved for the rest of the day.
type Resolver struct {
	store    LimitStore
	fallback Limit
}

// NewResolver creates a Resolver. fallbackPerDay is the limit applied
// when no override or global row exists; values below 1 fall back to
// FallbackDailyLimit.
func NewResolver(store LimitStore, fallbackPerDay int) *Resolver {
	if fallbackPerDay < 1 {
		fallbackPerDay = FallbackDailyLimit
	}
	return &Resolver{store: store, fallback: Limited(fallbackPerDay)}
}

// Resolve returns the effective limit for the pair. Missing rows are
// not errors; only a store failure produces one.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, cap capability.Capability) (Limit, error) {
	override, err := r.store.GetUserOverride(ctx, userID, cap)
	if err != nil {
		return Limit{}, err
	}
	if override != nil {
		return override.Limit(), nil
	}

	global, err := r.store.GetGlobalLimit(ctx, cap)
	if err != nil {
		return Limit{}, err
	}
	if global != nil {
		return global.Limit(), nil
	}

	return r.fallback, nil
}
