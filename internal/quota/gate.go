package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/toolforge-platform/toolforge/internal/capability"
	"github.com/toolforge-platform/toolforge/internal/metrics"
)

// Ledger is the transactional store behind the gate. TryIncrement must
// be a single atomic server-side operation: the read of the current
// count and the conditional increment happen in one step, so two
// concurrent calls with one slot left cannot both succeed.
type Ledger interface {
	// TryIncrement atomically increments the row's count if it is under
	// its snapshotted limit (or unlimited). It returns the row's state
	// after the attempt and whether the increment was applied. A nil
	// record means no row exists for the key yet.
	TryIncrement(ctx context.Context, userID uuid.UUID, cap capability.Capability, day time.Time) (*UsageRecord, bool, error)

	// CreateFirstUse inserts a fresh row with count=1 and the resolved
	// limit snapshot. It returns false without error when another
	// request created the row first.
	CreateFirstUse(ctx context.Context, rec *UsageRecord) (bool, error)

	// Get returns the row for the key, or nil if absent. Read-only.
	Get(ctx context.Context, userID uuid.UUID, cap capability.Capability, day time.Time) (*UsageRecord, error)
}

// FailPolicy decides the gate outcome when the store is unreachable.
type FailPolicy string

const (
	// FailOpen allows the call with a default full remaining count.
	// Availability over strictness: a store outage must not lock every
	// user out of the product.
	FailOpen FailPolicy = "open"
	// FailClosed denies the call until the store recovers.
	FailClosed FailPolicy = "closed"
)

// Gate is the atomic check-and-increment entry point every metered
// route handler calls before doing real work.
type Gate struct {
	ledger   Ledger
	resolver *Resolver
	loc      *time.Location
	policy   FailPolicy
	fallback int

	// now is swappable for day-rollover tests.
	now func() time.Time
}

// NewGate creates a Gate. loc defines the calendar-day boundary and
// must be the same for every instance of the deployment.
func NewGate(ledger Ledger, resolver *Resolver, loc *time.Location, policy FailPolicy, fallbackPerDay int) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	if policy != FailClosed {
		policy = FailOpen
	}
	if fallbackPerDay < 1 {
		fallbackPerDay = FallbackDailyLimit
	}
	return &Gate{
		ledger:   ledger,
		resolver: resolver,
		loc:      loc,
		policy:   policy,
		fallback: fallbackPerDay,
		now:      time.Now,
	}
}

// Today returns the current calendar day in the gate's timezone,
// normalized to a date-only UTC value for use as a ledger key.
func (g *Gate) Today() time.Time {
	return DateOf(g.now().In(g.loc))
}

// DateOf truncates t to its calendar date, normalized to UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CheckAndIncrement resolves the user's effective limit (first call of
// the day) or reads the existing ledger row, and atomically consumes
// one slot if any remain. It never returns an error: expected outcomes
// are structured results, and store failures are converted per the
// configured fail policy.
func (g *Gate) CheckAndIncrement(ctx context.Context, userID uuid.UUID, cap capability.Capability) Result {
	start := time.Now()
	res := g.check(ctx, userID, cap)
	metrics.QuotaGateDuration.WithLabelValues(cap.String()).Observe(time.Since(start).Seconds())
	metrics.QuotaChecksTotal.WithLabelValues(cap.String(), string(res.Reason)).Inc()
	return res
}

func (g *Gate) check(ctx context.Context, userID uuid.UUID, cap capability.Capability) Result {
	if userID == uuid.Nil {
		return Result{Allowed: false, Reason: ReasonIdentityMissing}
	}

	day := g.Today()

	// Two attempts cover the only retryable race: losing the first-use
	// insert to a concurrent request. The losing insert does not
	// increment anything, so retrying cannot double-count.
	for attempt := 0; attempt < 2; attempt++ {
		rec, allowed, err := g.ledger.TryIncrement(ctx, userID, cap, day)
		if err != nil {
			return g.storeFailure(cap, err)
		}
		if rec != nil {
			return resultFrom(rec, allowed)
		}

		// First metered call of the day: snapshot the limit and create
		// the row with this call already counted.
		limit, err := g.resolver.Resolve(ctx, userID, cap)
		if err != nil {
			return g.storeFailure(cap, err)
		}

		fresh := &UsageRecord{
			UserID:         userID,
			Capability:     cap,
			UsageDate:      day,
			Count:          1,
			EffectiveLimit: limit.PerDay(),
			IsUnlimited:    limit.IsUnlimited(),
			LastUsedAt:     g.now(),
		}
		created, err := g.ledger.CreateFirstUse(ctx, fresh)
		if err != nil {
			return g.storeFailure(cap, err)
		}
		if created {
			return resultFrom(fresh, true)
		}
		// Lost the creation race; the row exists now, go around.
	}

	return g.storeFailure(cap, errInconsistentLedger)
}

func resultFrom(rec *UsageRecord, allowed bool) Result {
	res := Result{
		Allowed:    allowed,
		Unlimited:  rec.IsUnlimited,
		DailyCount: rec.Count,
		DailyLimit: rec.EffectiveLimit,
		Reason:     ReasonOK,
	}
	switch {
	case rec.IsUnlimited:
		res.Remaining = Remaining{Unlimited: true}
	case allowed:
		res.Remaining = Remaining{Count: rec.EffectiveLimit - rec.Count}
	default:
		res.Remaining = Remaining{Count: 0}
		res.Reason = ReasonLimitExceeded
	}
	return res
}

func (g *Gate) storeFailure(cap capability.Capability, err error) Result {
	metrics.QuotaStoreFailures.WithLabelValues(cap.String()).Inc()

	if g.policy == FailClosed {
		slog.Warn("quota gate: store error, failing closed", "capability", cap, "error", err)
		return Result{
			Allowed: false,
			Reason:  ReasonStoreError,
			Err:     err.Error(),
		}
	}

	slog.Warn("quota gate: store error, failing open", "capability", cap, "error", err)
	return Result{
		Allowed:    true,
		DailyLimit: g.fallback,
		Remaining:  Remaining{Count: g.fallback},
		Reason:     ReasonStoreError,
		Err:        err.Error(),
	}
}

type ledgerError string

func (e ledgerError) Error() string { return string(e) }

// errInconsistentLedger signals a row that vanished between the
// conditional increment and the first-use insert, twice in a row.
const errInconsistentLedger = ledgerError("quota ledger row unavailable after create retry")
