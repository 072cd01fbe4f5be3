package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge-platform/toolforge/internal/audit"
	"github.com/toolforge-platform/toolforge/internal/capability"
	"github.com/toolforge-platform/toolforge/internal/quota"
)

type key struct {
	user uuid.UUID
	cap  capability.Capability
	day  time.Time
}

type memStore struct {
	mu        sync.Mutex
	rows      map[key]*quota.UsageRecord
	overrides map[key]*quota.UserOverride
	globals   map[capability.Capability]*quota.GlobalLimit
}

func newMemStore() *memStore {
	return &memStore{
		rows:      make(map[key]*quota.UsageRecord),
		overrides: make(map[key]*quota.UserOverride),
		globals:   make(map[capability.Capability]*quota.GlobalLimit),
	}
}

func (m *memStore) TryIncrement(_ context.Context, userID uuid.UUID, cap capability.Capability, day time.Time) (*quota.UsageRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[key{userID, cap, day}]
	if !ok {
		return nil, false, nil
	}
	if rec.IsUnlimited || rec.Count < rec.EffectiveLimit {
		rec.Count++
		cp := *rec
		return &cp, true, nil
	}
	cp := *rec
	return &cp, false, nil
}

func (m *memStore) CreateFirstUse(_ context.Context, rec *quota.UsageRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{rec.UserID, rec.Capability, rec.UsageDate}
	if _, ok := m.rows[k]; ok {
		return false, nil
	}
	cp := *rec
	m.rows[k] = &cp
	return true, nil
}

func (m *memStore) Get(_ context.Context, userID uuid.UUID, cap capability.Capability, day time.Time) (*quota.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[key{userID, cap, day}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) GetDay(_ context.Context, userID uuid.UUID, day time.Time) ([]quota.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []quota.UsageRecord
	for k, rec := range m.rows {
		if k.user == userID && k.day.Equal(day) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memStore) ListByDate(_ context.Context, day time.Time) ([]quota.DayUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []quota.DayUsage
	for k, rec := range m.rows {
		if k.day.Equal(day) {
			out = append(out, quota.DayUsage{UsageRecord: *rec})
		}
	}
	return out, nil
}

func (m *memStore) Reset(_ context.Context, userID uuid.UUID, cap capability.Capability, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[key{userID, cap, day}]
	if !ok {
		return false, nil
	}
	rec.Count = 0
	return true, nil
}

func (m *memStore) GetUserOverride(_ context.Context, userID uuid.UUID, cap capability.Capability) (*quota.UserOverride, error) {
	return m.overrides[key{user: userID, cap: cap}], nil
}

func (m *memStore) GetGlobalLimit(_ context.Context, cap capability.Capability) (*quota.GlobalLimit, error) {
	return m.globals[cap], nil
}

func (m *memStore) UpsertUserOverride(_ context.Context, o *quota.UserOverride) error {
	m.overrides[key{user: o.UserID, cap: o.Capability}] = o
	return nil
}

func (m *memStore) DeleteUserOverride(_ context.Context, userID uuid.UUID, cap capability.Capability) (bool, error) {
	k := key{user: userID, cap: cap}
	if _, ok := m.overrides[k]; !ok {
		return false, nil
	}
	delete(m.overrides, k)
	return true, nil
}

func (m *memStore) UpsertGlobalLimit(_ context.Context, g *quota.GlobalLimit) error {
	m.globals[g.Capability] = g
	return nil
}

func (m *memStore) ListUserOverrides(_ context.Context, userID uuid.UUID) ([]quota.UserOverride, error) {
	var out []quota.UserOverride
	for k, o := range m.overrides {
		if k.user == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) ListGlobalLimits(context.Context) ([]quota.GlobalLimit, error) {
	var out []quota.GlobalLimit
	for _, g := range m.globals {
		out = append(out, *g)
	}
	return out, nil
}

type memAudits struct {
	entries []audit.Entry
	params  audit.ListParams
}

func (m *memAudits) List(_ context.Context, params audit.ListParams) ([]audit.Entry, int64, error) {
	m.params = params
	return m.entries, int64(len(m.entries)), nil
}

func newTestRouter(t *testing.T) (*chi.Mux, *memStore, *memAudits) {
	t.Helper()
	store := newMemStore()
	audits := &memAudits{}
	gate := quota.NewGate(store, quota.NewResolver(store, quota.FallbackDailyLimit), time.UTC, quota.FailOpen, quota.FallbackDailyLimit)
	h := NewHandler(quota.NewService(gate, store, store), audits)

	r := chi.NewRouter()
	r.Put("/admin/limits/users/{userID}/{capability}", h.SetUserOverride)
	r.Delete("/admin/limits/users/{userID}/{capability}", h.ClearUserOverride)
	r.Get("/admin/limits/users/{userID}", h.ListUserOverrides)
	r.Put("/admin/limits/global/{capability}", h.SetGlobalLimit)
	r.Get("/admin/limits/global", h.ListGlobalLimits)
	r.Post("/admin/usage/reset", h.ResetUsage)
	r.Get("/admin/usage", h.ListUsage)
	r.Get("/admin/audit", h.ListAuditLogs)
	return r, store, audits
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetUserOverride(t *testing.T) {
	r, store, _ := newTestRouter(t)
	userID := uuid.New()

	w := do(r, http.MethodPut, "/admin/limits/users/"+userID.String()+"/ip_lookup", `{"daily_limit": 500}`)
	require.Equal(t, http.StatusOK, w.Code)

	o := store.overrides[key{user: userID, cap: capability.IPLookup}]
	require.NotNil(t, o)
	assert.Equal(t, 500, o.DailyLimit)
	assert.False(t, o.IsUnlimited)
}

func TestSetUserOverride_Unlimited(t *testing.T) {
	r, store, _ := newTestRouter(t)
	userID := uuid.New()

	w := do(r, http.MethodPut, "/admin/limits/users/"+userID.String()+"/ip_lookup", `{"unlimited": true}`)
	require.Equal(t, http.StatusOK, w.Code)

	o := store.overrides[key{user: userID, cap: capability.IPLookup}]
	require.NotNil(t, o)
	assert.True(t, o.IsUnlimited)
}

func TestSetUserOverride_Invalid(t *testing.T) {
	r, _, _ := newTestRouter(t)
	userID := uuid.New()

	w := do(r, http.MethodPut, "/admin/limits/users/"+userID.String()+"/ip_lookup", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/admin/limits/users/not-a-uuid/ip_lookup", `{"daily_limit": 5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/admin/limits/users/"+userID.String()+"/no_such_tool", `{"daily_limit": 5}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClearUserOverride(t *testing.T) {
	r, _, _ := newTestRouter(t)
	userID := uuid.New()

	w := do(r, http.MethodPut, "/admin/limits/users/"+userID.String()+"/zip_lookup", `{"daily_limit": 9}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, "/admin/limits/users/"+userID.String()+"/zip_lookup", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, "/admin/limits/users/"+userID.String()+"/zip_lookup", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetGlobalLimit(t *testing.T) {
	r, store, _ := newTestRouter(t)

	w := do(r, http.MethodPut, "/admin/limits/global/email_to_name", `{"daily_limit": 100}`)
	require.Equal(t, http.StatusOK, w.Code)

	g := store.globals[capability.EmailToName]
	require.NotNil(t, g)
	assert.Equal(t, 100, g.DailyLimit)

	w = do(r, http.MethodGet, "/admin/limits/global", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestResetUsage(t *testing.T) {
	r, store, _ := newTestRouter(t)
	userID := uuid.New()
	day := quota.DateOf(time.Now().UTC())

	store.rows[key{userID, capability.IPLookup, day}] = &quota.UsageRecord{
		UserID: userID, Capability: capability.IPLookup, UsageDate: day,
		Count: 7, EffectiveLimit: 10,
	}

	body, _ := json.Marshal(map[string]string{
		"user_id":    userID.String(),
		"capability": "ip_lookup",
	})
	w := do(r, http.MethodPost, "/admin/usage/reset", string(body))
	require.Equal(t, http.StatusOK, w.Code)

	rec := store.rows[key{userID, capability.IPLookup, day}]
	assert.Equal(t, 0, rec.Count)
	assert.Equal(t, 10, rec.EffectiveLimit)
}

func TestResetUsage_NoRow(t *testing.T) {
	r, _, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{
		"user_id":    uuid.NewString(),
		"capability": "ip_lookup",
	})
	w := do(r, http.MethodPost, "/admin/usage/reset", string(body))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListUsage(t *testing.T) {
	r, store, _ := newTestRouter(t)
	day := quota.DateOf(time.Now().UTC())
	userID := uuid.New()

	store.rows[key{userID, capability.IPLookup, day}] = &quota.UsageRecord{
		UserID: userID, Capability: capability.IPLookup, UsageDate: day,
		Count: 3, EffectiveLimit: 10,
	}

	w := do(r, http.MethodGet, "/admin/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())

	w = do(r, http.MethodGet, "/admin/usage?date=2020-01-01", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), userID.String())

	w = do(r, http.MethodGet, "/admin/usage?date=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAuditLogs_Filters(t *testing.T) {
	r, _, audits := newTestRouter(t)
	userID := uuid.New()

	w := do(r, http.MethodGet, "/admin/audit?user_id="+userID.String()+"&capability=ip_lookup&success=false&page=2&page_size=50", "")
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, audits.params.UserID)
	assert.Equal(t, userID, *audits.params.UserID)
	assert.Equal(t, "ip_lookup", audits.params.Capability)
	require.NotNil(t, audits.params.Success)
	assert.False(t, *audits.params.Success)
	assert.Equal(t, 2, audits.params.Page)
	assert.Equal(t, 50, audits.params.PageSize)
}

func TestListAuditLogs_BadFilters(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/admin/audit?user_id=nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/admin/audit?capability=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/admin/audit?success=maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
