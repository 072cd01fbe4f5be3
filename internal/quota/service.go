package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toolforge-platform/toolforge/internal/capability"
)

// LedgerStore extends Ledger with the read-only accessors and the
// administrative reset.
type LedgerStore interface {
	Ledger
	GetDay(ctx context.Context, userID uuid.UUID, day time.Time) ([]UsageRecord, error)
	ListByDate(ctx context.Context, day time.Time) ([]DayUsage, error)
	Reset(ctx context.Context, userID uuid.UUID, cap capability.Capability, day time.Time) (bool, error)
}

// LimitAdmin extends LimitStore with the administrative writes.
type LimitAdmin interface {
	LimitStore
	UpsertUserOverride(ctx context.Context, o *UserOverride) error
	DeleteUserOverride(ctx context.Context, userID uuid.UUID, cap capability.Capability) (bool, error)
	UpsertGlobalLimit(ctx context.Context, g *GlobalLimit) error
	ListUserOverrides(ctx context.Context, userID uuid.UUID) ([]UserOverride, error)
	ListGlobalLimits(ctx context.Context) ([]GlobalLimit, error)
}

// Service bundles the read-only usage views and the admin control
// surface around the gate. The gate itself stays the only mutator of
// ledger counts outside of Reset.
type Service struct {
	gate   *Gate
	ledger LedgerStore
	limits LimitAdmin
}

// NewService creates a quota Service.
func NewService(gate *Gate, ledger LedgerStore, limits LimitAdmin) *Service {
	return &Service{gate: gate, ledger: ledger, limits: limits}
}

// Gate returns the underlying gate for metered route handlers.
func (s *Service) Gate() *Gate {
	return s.gate
}

// GetStatus returns today's ledger row for the pair without creating
// or incrementing anything. Nil means no call was made today.
func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID, cap capability.Capability) (*UsageRecord, error) {
	return s.ledger.Get(ctx, userID, cap, s.gate.Today())
}

// GetAllForUser returns one snapshot per registered capability for
// today, with a nil record where the user has not called yet.
func (s *Service) GetAllForUser(ctx context.Context, userID uuid.UUID) ([]Snapshot, error) {
	recs, err := s.ledger.GetDay(ctx, userID, s.gate.Today())
	if err != nil {
		return nil, err
	}

	byCap := make(map[capability.Capability]*UsageRecord, len(recs))
	for i := range recs {
		byCap[recs[i].Capability] = &recs[i]
	}

	out := make([]Snapshot, 0, len(capability.All()))
	for _, cap := range capability.All() {
		out = append(out, Snapshot{Capability: cap, Record: byCap[cap]})
	}
	return out, nil
}

// ListUsageByDate returns the admin day listing, heaviest users first.
func (s *Service) ListUsageByDate(ctx context.Context, day time.Time) ([]DayUsage, error) {
	return s.ledger.ListByDate(ctx, DateOf(day))
}

// ResetUsage zeroes the count on an existing ledger row. The limit
// snapshot stays as it was, so the user re-earns the original
// allowance, not a re-resolved one.
func (s *Service) ResetUsage(ctx context.Context, userID uuid.UUID, cap capability.Capability, day time.Time) (bool, error) {
	return s.ledger.Reset(ctx, userID, cap, DateOf(day))
}

// SetUserOverride upserts a per-user limit. Existing ledger rows keep
// their snapshot; the override applies from the next row creation.
func (s *Service) SetUserOverride(ctx context.Context, userID uuid.UUID, cap capability.Capability, limit Limit, adminID *uuid.UUID) error {
	if !limit.IsUnlimited() && limit.PerDay() < 1 {
		return fmt.Errorf("daily limit must be positive, got %d", limit.PerDay())
	}
	return s.limits.UpsertUserOverride(ctx, &UserOverride{
		UserID:      userID,
		Capability:  cap,
		DailyLimit:  limit.PerDay(),
		IsUnlimited: limit.IsUnlimited(),
		CreatedBy:   adminID,
	})
}

// ClearUserOverride removes a per-user limit, restoring the global
// default for future resolutions.
func (s *Service) ClearUserOverride(ctx context.Context, userID uuid.UUID, cap capability.Capability) (bool, error) {
	return s.limits.DeleteUserOverride(ctx, userID, cap)
}

// SetGlobalLimit upserts the default limit for a capability.
func (s *Service) SetGlobalLimit(ctx context.Context, cap capability.Capability, limit Limit) error {
	if !limit.IsUnlimited() && limit.PerDay() < 1 {
		return fmt.Errorf("daily limit must be positive, got %d", limit.PerDay())
	}
	return s.limits.UpsertGlobalLimit(ctx, &GlobalLimit{
		Capability:  cap,
		DailyLimit:  limit.PerDay(),
		IsUnlimited: limit.IsUnlimited(),
	})
}

// ListUserOverrides returns a user's overrides for the admin panel.
func (s *Service) ListUserOverrides(ctx context.Context, userID uuid.UUID) ([]UserOverride, error) {
	return s.limits.ListUserOverrides(ctx, userID)
}

// ListGlobalLimits returns all global defaults for the admin panel.
func (s *Service) ListGlobalLimits(ctx context.Context) ([]GlobalLimit, error) {
	return s.limits.ListGlobalLimits(ctx)
}
