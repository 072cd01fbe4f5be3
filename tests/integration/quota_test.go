//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/toolforge-platform/toolforge/internal/capability"
	"github.com/toolforge-platform/toolforge/internal/quota"
)

func setGlobalLimit(t *testing.T, env *TestEnv, adminToken string, cap string, limit int) {
	t.Helper()
	resp := DoRequest(t, env, http.MethodPut, "/api/v1/admin/limits/global/"+cap,
		map[string]any{"daily_limit": limit}, adminToken)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("setting global limit: status %d", resp.StatusCode)
	}
}

func TestToolsRequireAuth(t *testing.T) {
	env := SetupTestEnv(t)

	resp := DoRequest(t, env, http.MethodPost, "/api/v1/tools/ip-lookup",
		map[string]string{"ip": "8.8.8.8"}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestQuotaEndToEnd(t *testing.T) {
	env := SetupTestEnv(t)
	_, adminToken := SeedUser(t, env, fmt.Sprintf("admin-%s@test.local", uuid.NewString()[:8]), "admin")
	_, token := SeedUser(t, env, fmt.Sprintf("user-%s@test.local", uuid.NewString()[:8]), "user")

	setGlobalLimit(t, env, adminToken, "zip_lookup", 3)

	// Three allowed calls, counting down
	for want := 2; want >= 0; want-- {
		resp := DoRequest(t, env, http.MethodPost, "/api/v1/tools/zip-lookup",
			map[string]string{"zip_code": "30301"}, token)
		result := ParseResponse(t, resp)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", resp.StatusCode, result)
		}
		q := result["quota"].(map[string]any)
		if got := q["remaining"].(float64); int(got) != want {
			t.Fatalf("expected remaining %d, got %v", want, got)
		}
	}

	// Fourth call is denied
	resp := DoRequest(t, env, http.MethodPost, "/api/v1/tools/zip-lookup",
		map[string]string{"zip_code": "30301"}, token)
	result := ParseResponse(t, resp)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %v", resp.StatusCode, result)
	}
	q := result["quota"].(map[string]any)
	if q["success"].(bool) {
		t.Fatal("expected success=false on denied call")
	}
	if q["reason"].(string) != "limit_exceeded" {
		t.Fatalf("expected reason limit_exceeded, got %v", q["reason"])
	}
	if q["daily_count"].(float64) != 3 {
		t.Fatalf("denied call must not increment: got count %v", q["daily_count"])
	}
}

func TestQuotaContention(t *testing.T) {
	env := SetupTestEnv(t)
	userID, _ := SeedUser(t, env, fmt.Sprintf("race-%s@test.local", uuid.NewString()[:8]), "user")

	const limit = 5
	const callers = 25

	if err := env.QuotaSvc.SetUserOverride(context.Background(), userID,
		capability.IPLookup, quota.Limited(limit), nil); err != nil {
		t.Fatalf("setting override: %v", err)
	}

	gate := env.QuotaSvc.Gate()
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if gate.CheckAndIncrement(context.Background(), userID, capability.IPLookup).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != limit {
		t.Fatalf("expected exactly %d allowed under contention, got %d", limit, allowed.Load())
	}

	rec, err := env.QuotaSvc.GetStatus(context.Background(), userID, capability.IPLookup)
	if err != nil {
		t.Fatalf("reading status: %v", err)
	}
	if rec == nil || rec.Count != limit {
		t.Fatalf("expected stored count %d, got %+v", limit, rec)
	}
}

func TestOverridePrecedence(t *testing.T) {
	env := SetupTestEnv(t)
	userID, token := SeedUser(t, env, fmt.Sprintf("vip-%s@test.local", uuid.NewString()[:8]), "user")
	_, adminToken := SeedUser(t, env, fmt.Sprintf("admin2-%s@test.local", uuid.NewString()[:8]), "admin")

	setGlobalLimit(t, env, adminToken, "email_to_name", 2)

	resp := DoRequest(t, env, http.MethodPut,
		"/api/v1/admin/limits/users/"+userID.String()+"/email_to_name",
		map[string]any{"daily_limit": 50}, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("setting override: status %d", resp.StatusCode)
	}

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/tools/email-to-name",
		map[string]string{"email": "jane.doe@example.com"}, token)
	result := ParseResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, result)
	}
	q := result["quota"].(map[string]any)
	if q["daily_limit"].(float64) != 50 {
		t.Fatalf("expected override limit 50, got %v", q["daily_limit"])
	}
}

func TestUsageStatusEndpoint(t *testing.T) {
	env := SetupTestEnv(t)
	_, token := SeedUser(t, env, fmt.Sprintf("status-%s@test.local", uuid.NewString()[:8]), "user")

	resp := DoRequest(t, env, http.MethodPost, "/api/v1/tools/address",
		map[string]any{"count": 2}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tool call failed: status %d", resp.StatusCode)
	}

	resp = DoRequest(t, env, http.MethodGet, "/api/v1/usage", nil, token)
	result := ParseResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, result)
	}
	snaps := result["data"].([]any)
	if len(snaps) != len(capability.All()) {
		t.Fatalf("expected %d snapshots, got %d", len(capability.All()), len(snaps))
	}

	var found bool
	for _, s := range snaps {
		snap := s.(map[string]any)
		if snap["capability"] == "address_generator" {
			found = true
			rec := snap["record"].(map[string]any)
			if rec["count"].(float64) != 1 {
				t.Fatalf("expected count 1, got %v", rec["count"])
			}
		}
	}
	if !found {
		t.Fatal("address_generator snapshot missing")
	}
}

func TestAuditTrail(t *testing.T) {
	env := SetupTestEnv(t)
	userID, token := SeedUser(t, env, fmt.Sprintf("audit-%s@test.local", uuid.NewString()[:8]), "user")
	_, adminToken := SeedUser(t, env, fmt.Sprintf("admin3-%s@test.local", uuid.NewString()[:8]), "admin")

	resp := DoRequest(t, env, http.MethodPost, "/api/v1/tools/ip-lookup",
		map[string]string{"ip": "1.2.3.4"}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tool call failed: status %d", resp.StatusCode)
	}

	resp = DoRequest(t, env, http.MethodGet,
		"/api/v1/admin/audit?user_id="+userID.String(), nil, adminToken)
	result := ParseResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, result)
	}
	entries := result["data"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	entry := entries[0].(map[string]any)
	if !entry["success"].(bool) {
		t.Fatal("expected success=true audit entry")
	}
	if entry["capability"] != "ip_lookup" {
		t.Fatalf("expected capability ip_lookup, got %v", entry["capability"])
	}
}
