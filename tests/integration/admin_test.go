//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestAdminRequiresAdminRole(t *testing.T) {
	env := SetupTestEnv(t)
	_, token := SeedUser(t, env, fmt.Sprintf("pleb-%s@test.local", uuid.NewString()[:8]), "user")

	resp := DoRequest(t, env, http.MethodGet, "/api/v1/admin/usage", nil, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestAdminResetRestoresAllowance(t *testing.T) {
	env := SetupTestEnv(t)
	userID, token := SeedUser(t, env, fmt.Sprintf("reset-%s@test.local", uuid.NewString()[:8]), "user")
	_, adminToken := SeedUser(t, env, fmt.Sprintf("admin4-%s@test.local", uuid.NewString()[:8]), "admin")

	// Give the user a tight override and exhaust it
	resp := DoRequest(t, env, http.MethodPut,
		"/api/v1/admin/limits/users/"+userID.String()+"/zip_lookup",
		map[string]any{"daily_limit": 1}, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("setting override: status %d", resp.StatusCode)
	}

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/tools/zip-lookup",
		map[string]string{"zip_code": "90210"}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first call: status %d", resp.StatusCode)
	}

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/tools/zip-lookup",
		map[string]string{"zip_code": "90210"}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second call: expected 429, got %d", resp.StatusCode)
	}

	// Reset and verify the allowance is back at the snapshotted limit
	resp = DoRequest(t, env, http.MethodPost, "/api/v1/admin/usage/reset",
		map[string]string{"user_id": userID.String(), "capability": "zip_lookup"}, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: status %d", resp.StatusCode)
	}

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/tools/zip-lookup",
		map[string]string{"zip_code": "90210"}, token)
	result := ParseResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post-reset call: expected 200, got %d: %v", resp.StatusCode, result)
	}
	q := result["quota"].(map[string]any)
	if q["daily_limit"].(float64) != 1 {
		t.Fatalf("reset must keep the snapshotted limit, got %v", q["daily_limit"])
	}
}

func TestAdminUsageListing(t *testing.T) {
	env := SetupTestEnv(t)
	userID, token := SeedUser(t, env, fmt.Sprintf("list-%s@test.local", uuid.NewString()[:8]), "user")
	_, adminToken := SeedUser(t, env, fmt.Sprintf("admin5-%s@test.local", uuid.NewString()[:8]), "admin")

	resp := DoRequest(t, env, http.MethodPost, "/api/v1/tools/address",
		map[string]any{"count": 1}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tool call: status %d", resp.StatusCode)
	}

	resp = DoRequest(t, env, http.MethodGet, "/api/v1/admin/usage", nil, adminToken)
	result := ParseResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, result)
	}

	rows := result["data"].([]any)
	var found bool
	for _, r := range rows {
		row := r.(map[string]any)
		if row["user_id"] == userID.String() && row["capability"] == "address_generator" {
			found = true
			if row["email"] == "" {
				t.Fatal("expected joined user email in listing")
			}
		}
	}
	if !found {
		t.Fatal("seeded user's usage row missing from listing")
	}
}

func TestUnlimitedOverride(t *testing.T) {
	env := SetupTestEnv(t)
	userID, token := SeedUser(t, env, fmt.Sprintf("unltd-%s@test.local", uuid.NewString()[:8]), "user")
	_, adminToken := SeedUser(t, env, fmt.Sprintf("admin6-%s@test.local", uuid.NewString()[:8]), "admin")

	resp := DoRequest(t, env, http.MethodPut,
		"/api/v1/admin/limits/users/"+userID.String()+"/ip_lookup",
		map[string]any{"unlimited": true}, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("setting unlimited override: status %d", resp.StatusCode)
	}

	resp = DoRequest(t, env, http.MethodPost, "/api/v1/tools/ip-lookup",
		map[string]string{"ip": "9.9.9.9"}, token)
	result := ParseResponse(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, result)
	}
	q := result["quota"].(map[string]any)
	if q["remaining"] != "unlimited" {
		t.Fatalf("expected remaining \"unlimited\", got %v", q["remaining"])
	}
	if !q["unlimited"].(bool) {
		t.Fatal("expected unlimited=true")
	}
}
