package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolforge-platform/toolforge/internal/capability"
)

// LimitsRepository handles user_limit_overrides and global_limits
// PostgreSQL operations. Writes come only from the admin surface.
type LimitsRepository struct {
	pool *pgxpool.Pool
}

// NewLimitsRepository creates a new LimitsRepository.
func NewLimitsRepository(pool *pgxpool.Pool) *LimitsRepository {
	return &LimitsRepository{pool: pool}
}

// GetUserOverride returns the override for the pair, or nil if absent.
func (r *LimitsRepository) GetUserOverride(ctx context.Context, userID uuid.UUID, cap capability.Capability) (*UserOverride, error) {
	o := &UserOverride{UserID: userID, Capability: cap}
	err := r.pool.QueryRow(ctx,
		`SELECT daily_limit, is_unlimited, created_by, created_at, updated_at
		   FROM user_limit_overrides
		  WHERE user_id = $1 AND capability = $2`,
		userID, cap,
	).Scan(&o.DailyLimit, &o.IsUnlimited, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user override: %w", err)
	}
	return o, nil
}

// GetGlobalLimit returns the global default for the capability, or nil
// if absent.
func (r *LimitsRepository) GetGlobalLimit(ctx context.Context, cap capability.Capability) (*GlobalLimit, error) {
	g := &GlobalLimit{Capability: cap}
	err := r.pool.QueryRow(ctx,
		`SELECT daily_limit, is_unlimited, created_at, updated_at
		   FROM global_limits
		  WHERE capability = $1`,
		cap,
	).Scan(&g.DailyLimit, &g.IsUnlimited, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying global limit: %w", err)
	}
	return g, nil
}

// UpsertUserOverride creates or replaces the override for the pair.
func (r *LimitsRepository) UpsertUserOverride(ctx context.Context, o *UserOverride) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_limit_overrides (user_id, capability, daily_limit, is_unlimited, created_by)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, capability) DO UPDATE
		    SET daily_limit = EXCLUDED.daily_limit,
		        is_unlimited = EXCLUDED.is_unlimited,
		        created_by = EXCLUDED.created_by,
		        updated_at = NOW()`,
		o.UserID, o.Capability, o.DailyLimit, o.IsUnlimited, o.CreatedBy)
	if err != nil {
		return fmt.Errorf("upserting user override: %w", err)
	}
	return nil
}

// DeleteUserOverride removes the override. Returns false if none existed.
func (r *LimitsRepository) DeleteUserOverride(ctx context.Context, userID uuid.UUID, cap capability.Capability) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_limit_overrides WHERE user_id = $1 AND capability = $2`,
		userID, cap)
	if err != nil {
		return false, fmt.Errorf("deleting user override: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertGlobalLimit creates or replaces the global default.
func (r *LimitsRepository) UpsertGlobalLimit(ctx context.Context, g *GlobalLimit) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO global_limits (capability, daily_limit, is_unlimited)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (capability) DO UPDATE
		    SET daily_limit = EXCLUDED.daily_limit,
		        is_unlimited = EXCLUDED.is_unlimited,
		        updated_at = NOW()`,
		g.Capability, g.DailyLimit, g.IsUnlimited)
	if err != nil {
		return fmt.Errorf("upserting global limit: %w", err)
	}
	return nil
}

// ListUserOverrides returns all overrides for a user.
func (r *LimitsRepository) ListUserOverrides(ctx context.Context, userID uuid.UUID) ([]UserOverride, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT capability, daily_limit, is_unlimited, created_by, created_at, updated_at
		   FROM user_limit_overrides
		  WHERE user_id = $1
		  ORDER BY capability`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing user overrides: %w", err)
	}
	defer rows.Close()

	var out []UserOverride
	for rows.Next() {
		o := UserOverride{UserID: userID}
		if err := rows.Scan(&o.Capability, &o.DailyLimit, &o.IsUnlimited, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListGlobalLimits returns all configured global defaults.
func (r *LimitsRepository) ListGlobalLimits(ctx context.Context) ([]GlobalLimit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT capability, daily_limit, is_unlimited, created_at, updated_at
		   FROM global_limits
		  ORDER BY capability`)
	if err != nil {
		return nil, fmt.Errorf("listing global limits: %w", err)
	}
	defer rows.Close()

	var out []GlobalLimit
	for rows.Next() {
		var g GlobalLimit
		if err := rows.Scan(&g.Capability, &g.DailyLimit, &g.IsUnlimited, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning global limit: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
