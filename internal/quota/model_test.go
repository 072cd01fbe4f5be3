package quota

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitVariant(t *testing.T) {
	l := Limited(200)
	assert.False(t, l.IsUnlimited())
	assert.Equal(t, 200, l.PerDay())
	assert.Equal(t, "200/day", l.String())

	u := Unlimited()
	assert.True(t, u.IsUnlimited())
	assert.Equal(t, 0, u.PerDay())
	assert.Equal(t, "unlimited", u.String())
}

func TestRemainingJSON(t *testing.T) {
	b, err := json.Marshal(Remaining{Count: 7})
	require.NoError(t, err)
	assert.Equal(t, "7", string(b))

	b, err = json.Marshal(Remaining{Unlimited: true})
	require.NoError(t, err)
	assert.Equal(t, `"unlimited"`, string(b))

	var r Remaining
	require.NoError(t, json.Unmarshal([]byte("42"), &r))
	assert.Equal(t, Remaining{Count: 42}, r)

	require.NoError(t, json.Unmarshal([]byte(`"unlimited"`), &r))
	assert.Equal(t, Remaining{Unlimited: true}, r)

	assert.Error(t, json.Unmarshal([]byte(`"forever"`), &r))
}

func TestResultJSONShape(t *testing.T) {
	res := Result{
		Allowed:    true,
		DailyCount: 3,
		DailyLimit: 10,
		Remaining:  Remaining{Count: 7},
		Reason:     ReasonOK,
	}
	b, err := json.Marshal(res)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, true, m["success"])
	assert.Equal(t, float64(3), m["daily_count"])
	assert.Equal(t, float64(7), m["remaining"])
	assert.NotContains(t, m, "error")

	res = Result{
		Allowed:   true,
		Unlimited: true,
		Remaining: Remaining{Unlimited: true},
		Reason:    ReasonOK,
	}
	b, err = json.Marshal(res)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "unlimited", m["remaining"])
}

func TestUsageRecordLimit(t *testing.T) {
	rec := &UsageRecord{EffectiveLimit: 50}
	assert.Equal(t, Limited(50), rec.Limit())

	rec = &UsageRecord{IsUnlimited: true}
	assert.True(t, rec.Limit().IsUnlimited())
}
