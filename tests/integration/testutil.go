//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/toolforge-platform/toolforge/internal/admin"
	"github.com/toolforge-platform/toolforge/internal/api"
	"github.com/toolforge-platform/toolforge/internal/audit"
	"github.com/toolforge-platform/toolforge/internal/auth"
	"github.com/toolforge-platform/toolforge/internal/quota"
	"github.com/toolforge-platform/toolforge/internal/tools"
)

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Server      *httptest.Server
	JWTManager  *auth.JWTManager
	QuotaSvc    *quota.Service
}

var testEnv *TestEnv

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "toolforge_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/toolforge_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(fmt.Sprintf("file://%s", getMigrationsPath()), dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Wire the stack without NATS; the auditor writes straight to the
	// database.
	jwtManager := auth.NewJWTManager("test-access-secret-32-chars-long!!", 15*time.Minute)

	auditRepo := audit.NewRepository(pool)
	auditor := audit.NewAuditor(auditRepo, nil)

	ledger := quota.NewRepository(pool)
	limits := quota.NewLimitsRepository(pool)
	resolver := quota.NewResolver(limits, quota.FallbackDailyLimit)
	gate := quota.NewGate(ledger, resolver, time.UTC, quota.FailOpen, quota.FallbackDailyLimit)
	quotaSvc := quota.NewService(gate, ledger, limits)
	quotaHandler := quota.NewHandler(quotaSvc)

	toolsHandler := tools.NewHandler(gate, auditor)
	adminHandler := admin.NewHandler(quotaSvc, auditRepo)

	router := api.NewRouter(pool, redisClient, nil, api.RouterConfig{}, api.HandlerSet{
		GenerateAddress: toolsHandler.GenerateAddress,
		EmailToName:     toolsHandler.EmailToName,
		IPLookup:        toolsHandler.IPLookup,
		ZipLookup:       toolsHandler.ZipLookup,

		GetUsage:           quotaHandler.GetUsage,
		GetCapabilityUsage: quotaHandler.GetCapabilityUsage,

		SetUserOverride:   adminHandler.SetUserOverride,
		ClearUserOverride: adminHandler.ClearUserOverride,
		ListUserOverrides: adminHandler.ListUserOverrides,
		SetGlobalLimit:    adminHandler.SetGlobalLimit,
		ListGlobalLimits:  adminHandler.ListGlobalLimits,
		ResetUsage:        adminHandler.ResetUsage,
		ListUsage:         adminHandler.ListUsage,
		ListAuditLogs:     adminHandler.ListAuditLogs,

		AuthMiddleware:  auth.Middleware(jwtManager),
		AdminMiddleware: auth.RequireAdmin,
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Server:      server,
		JWTManager:  jwtManager,
		QuotaSvc:    quotaSvc,
	}

	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

// SeedUser inserts a user row and returns its ID with a valid access
// token. Account creation is owned by another system, so tests write
// the row directly.
func SeedUser(t *testing.T, env *TestEnv, email, role string) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	_, err := env.Pool.Exec(context.Background(),
		`INSERT INTO users (id, email, role) VALUES ($1, $2, $3)`, id, email, role)
	if err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	token, err := env.JWTManager.GenerateAccessToken(id.String(), email, role)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return id, token
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
