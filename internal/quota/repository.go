package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolforge-platform/toolforge/internal/capability"
)

// Repository handles usage_records PostgreSQL operations. It is the
// only code path that mutates ledger rows, via TryIncrement,
// CreateFirstUse, and Reset.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new quota Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TryIncrement runs the conditional increment and the fallback read as
// one statement over one snapshot, so the check and the bump cannot be
// split by a concurrent request. Postgres serializes the UPDATE on the
// row lock and re-evaluates the guard on the latest committed version.
func (r *Repository) TryIncrement(ctx context.Context, userID uuid.UUID, cap capability.Capability, day time.Time) (*UsageRecord, bool, error) {
	const query = `
		WITH bumped AS (
			UPDATE usage_records
			   SET count = count + 1, last_used_at = NOW()
			 WHERE user_id = $1 AND capability = $2 AND usage_date = $3
			   AND (is_unlimited OR count < effective_limit)
			RETURNING count, effective_limit, is_unlimited, last_used_at
		)
		SELECT b.count, b.effective_limit, b.is_unlimited, b.last_used_at, TRUE AS allowed
		  FROM bumped b
		UNION ALL
		SELECT u.count, u.effective_limit, u.is_unlimited, u.last_used_at, FALSE
		  FROM usage_records u
		 WHERE u.user_id = $1 AND u.capability = $2 AND u.usage_date = $3
		   AND NOT EXISTS (SELECT 1 FROM bumped)`

	rec := &UsageRecord{UserID: userID, Capability: cap, UsageDate: day}
	var allowed bool
	err := r.pool.QueryRow(ctx, query, userID, cap, day).Scan(
		&rec.Count, &rec.EffectiveLimit, &rec.IsUnlimited, &rec.LastUsedAt, &allowed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("incrementing usage: %w", err)
	}
	return rec, allowed, nil
}

// CreateFirstUse inserts the day's first row with the call already
// counted. ON CONFLICT DO NOTHING makes the first-of-day race safe:
// exactly one of N concurrent creators wins.
func (r *Repository) CreateFirstUse(ctx context.Context, rec *UsageRecord) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO usage_records (user_id, capability, usage_date, count, effective_limit, is_unlimited, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (user_id, capability, usage_date) DO NOTHING`,
		rec.UserID, rec.Capability, rec.UsageDate, rec.Count, rec.EffectiveLimit, rec.IsUnlimited)
	if err != nil {
		return false, fmt.Errorf("creating usage record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns the ledger row for the key, or nil if absent.
func (r *Repository) Get(ctx context.Context, userID uuid.UUID, cap capability.Capability, day time.Time) (*UsageRecord, error) {
	rec := &UsageRecord{UserID: userID, Capability: cap, UsageDate: day}
	err := r.pool.QueryRow(ctx,
		`SELECT count, effective_limit, is_unlimited, last_used_at
		   FROM usage_records
		  WHERE user_id = $1 AND capability = $2 AND usage_date = $3`,
		userID, cap, day,
	).Scan(&rec.Count, &rec.EffectiveLimit, &rec.IsUnlimited, &rec.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying usage record: %w", err)
	}
	return rec, nil
}

// GetDay returns all of a user's ledger rows for one day.
func (r *Repository) GetDay(ctx context.Context, userID uuid.UUID, day time.Time) ([]UsageRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT capability, count, effective_limit, is_unlimited, last_used_at
		   FROM usage_records
		  WHERE user_id = $1 AND usage_date = $2`,
		userID, day)
	if err != nil {
		return nil, fmt.Errorf("querying day usage: %w", err)
	}
	defer rows.Close()

	var recs []UsageRecord
	for rows.Next() {
		rec := UsageRecord{UserID: userID, UsageDate: day}
		if err := rows.Scan(&rec.Capability, &rec.Count, &rec.EffectiveLimit, &rec.IsUnlimited, &rec.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListByDate returns every ledger row for a day joined with minimal
// user identity, heaviest users first. Users the identity provider
// never synced still show up, with an empty email.
func (r *Repository) ListByDate(ctx context.Context, day time.Time) ([]DayUsage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.user_id, u.capability, u.count, u.effective_limit, u.is_unlimited, u.last_used_at,
		        COALESCE(us.email, '')
		   FROM usage_records u
		   LEFT JOIN users us ON us.id = u.user_id
		  WHERE u.usage_date = $1
		  ORDER BY u.count DESC`,
		day)
	if err != nil {
		return nil, fmt.Errorf("listing usage by date: %w", err)
	}
	defer rows.Close()

	var out []DayUsage
	for rows.Next() {
		du := DayUsage{UsageRecord: UsageRecord{UsageDate: day}}
		if err := rows.Scan(&du.UserID, &du.Capability, &du.Count, &du.EffectiveLimit, &du.IsUnlimited, &du.LastUsedAt, &du.Email); err != nil {
			return nil, fmt.Errorf("scanning day usage: %w", err)
		}
		out = append(out, du)
	}
	return out, rows.Err()
}

// Reset sets the row's count back to zero, leaving the limit snapshot
// untouched. Returns false if no row matched.
func (r *Repository) Reset(ctx context.Context, userID uuid.UUID, cap capability.Capability, day time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE usage_records
		    SET count = 0, last_used_at = NOW()
		  WHERE user_id = $1 AND capability = $2 AND usage_date = $3`,
		userID, cap, day)
	if err != nil {
		return false, fmt.Errorf("resetting usage record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
