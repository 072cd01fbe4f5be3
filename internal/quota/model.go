package quota

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toolforge-platform/toolforge/internal/capability"
)

// FallbackDailyLimit applies when neither a per-user override nor a
// global limit row exists for a capability.
const FallbackDailyLimit = 200

// Limit is the daily call ceiling for a capability: either unlimited or
// a positive per-day count. Storage keeps the two fields separately;
// code always goes through this variant so an unlimited row's numeric
// limit is never compared against a count.
type Limit struct {
	unlimited bool
	perDay    int
}

// Limited returns a bounded limit of n calls per day.
func Limited(n int) Limit {
	return Limit{perDay: n}
}

// Unlimited returns the unbounded limit.
func Unlimited() Limit {
	return Limit{unlimited: true}
}

// IsUnlimited reports whether the limit is unbounded.
func (l Limit) IsUnlimited() bool {
	return l.unlimited
}

// PerDay returns the daily ceiling. Zero when unlimited.
func (l Limit) PerDay() int {
	if l.unlimited {
		return 0
	}
	return l.perDay
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d/day", l.perDay)
}

// UsageRecord matches the usage_records table schema: one row per
// (user, capability, calendar day). The count only ever grows within a
// day, except for an explicit administrative reset back to zero.
type UsageRecord struct {
	UserID         uuid.UUID             `json:"user_id"`
	Capability     capability.Capability `json:"capability"`
	UsageDate      time.Time             `json:"usage_date"`
	Count          int                   `json:"count"`
	EffectiveLimit int                   `json:"effective_limit"`
	IsUnlimited    bool                  `json:"is_unlimited"`
	LastUsedAt     time.Time             `json:"last_used_at"`
}

// Limit returns the record's snapshotted limit as a variant.
func (r *UsageRecord) Limit() Limit {
	if r.IsUnlimited {
		return Unlimited()
	}
	return Limited(r.EffectiveLimit)
}

// UserOverride matches the user_limit_overrides table schema. Absence
// of a row means "no override, fall back to the global limit".
type UserOverride struct {
	UserID      uuid.UUID             `json:"user_id"`
	Capability  capability.Capability `json:"capability"`
	DailyLimit  int                   `json:"daily_limit"`
	IsUnlimited bool                  `json:"is_unlimited"`
	CreatedBy   *uuid.UUID            `json:"created_by,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Limit returns the override as a variant.
func (o *UserOverride) Limit() Limit {
	if o.IsUnlimited {
		return Unlimited()
	}
	return Limited(o.DailyLimit)
}

// GlobalLimit matches the global_limits table schema: the default daily
// ceiling for a capability across all users without an override.
type GlobalLimit struct {
	Capability  capability.Capability `json:"capability"`
	DailyLimit  int                   `json:"daily_limit"`
	IsUnlimited bool                  `json:"is_unlimited"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Limit returns the global limit as a variant.
func (g *GlobalLimit) Limit() Limit {
	if g.IsUnlimited {
		return Unlimited()
	}
	return Limited(g.DailyLimit)
}

// Reason classifies a gate outcome.
type Reason string

const (
	ReasonOK              Reason = "ok"
	ReasonLimitExceeded   Reason = "limit_exceeded"
	ReasonIdentityMissing Reason = "identity_missing"
	ReasonStoreError      Reason = "store_error"
)

// Remaining is the calls-left-today figure, which serializes as either
// an integer or the string "unlimited".
type Remaining struct {
	Unlimited bool
	Count     int
}

func (r Remaining) MarshalJSON() ([]byte, error) {
	if r.Unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(r.Count)
}

func (r *Remaining) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "unlimited" {
			return fmt.Errorf("invalid remaining value %q", s)
		}
		r.Unlimited = true
		r.Count = 0
		return nil
	}
	r.Unlimited = false
	return json.Unmarshal(data, &r.Count)
}

// Result is the outcome of a gate check, in the shape metered route
// handlers return to clients.
type Result struct {
	Allowed    bool      `json:"success"`
	Unlimited  bool      `json:"unlimited"`
	DailyCount int       `json:"daily_count"`
	DailyLimit int       `json:"daily_limit"`
	Remaining  Remaining `json:"remaining"`
	Reason     Reason    `json:"reason,omitempty"`
	Err        string    `json:"error,omitempty"`
}

// Snapshot is the read-only usage view for one capability, used by the
// usage-bar UI. Nil record means no call was made today.
type Snapshot struct {
	Capability capability.Capability `json:"capability"`
	Record     *UsageRecord          `json:"record"`
}

// DayUsage is one admin-listing row: a ledger row joined with minimal
// user identity.
type DayUsage struct {
	UsageRecord
	Email string `json:"email"`
}
