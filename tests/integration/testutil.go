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
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/maistro-platform/maistro/internal/api"
	"github.com/maistro-platform/maistro/internal/capability"
	"github.com/maistro-platform/maistro/internal/conversation"
	"github.com/maistro-platform/maistro/internal/memory"
	"github.com/maistro-platform/maistro/internal/nslock"
	"github.com/maistro-platform/maistro/internal/orchestrator"
	"github.com/maistro-platform/maistro/internal/session"
)

// ScriptedModel replays a fixed sequence of replies across invocations.
type ScriptedModel struct {
	mu      sync.Mutex
	Replies []conversation.Message
	calls   int
}

func (m *ScriptedModel) Invoke(_ context.Context, _ capability.ModelRequest) (conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls >= len(m.Replies) {
		return conversation.Message{Role: conversation.RoleAssistant, Content: "done"}, nil
	}
	reply := m.Replies[m.calls]
	m.calls++
	return reply, nil
}

// ScriptedExtractor returns fixed extractions on every call.
type ScriptedExtractor struct {
	Extractions []capability.Extraction
}

func (e *ScriptedExtractor) Extract(_ context.Context, _ capability.ExtractRequest) ([]capability.Extraction, error) {
	return e.Extractions, nil
}

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Store       *memory.PostgresStore
}

var testEnv *TestEnv

// SetupTestEnv starts Postgres and Redis containers once per test binary
// and returns shared connections with migrations applied.
func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "maistro_test",
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

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/maistro_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	m, err := migrate.New(
		fmt.Sprintf("file://%s", getMigrationsPath()),
		dsn,
	)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Store:       memory.NewPostgresStore(pool),
	}
	return testEnv
}

// NewTurnServer wires an orchestrator with scripted capabilities over the
// real store and Redis, behind the production router.
func NewTurnServer(t *testing.T, env *TestEnv, model capability.Model, extractor capability.Extractor) *httptest.Server {
	t.Helper()

	locks := nslock.NewRedisLocker(env.RedisClient, 30*time.Second, 10*time.Millisecond)
	orch := orchestrator.New(env.Store, locks, model, extractor)
	sessions := session.NewStore(env.RedisClient)
	turnHandler := orchestrator.NewHandler(orch, sessions, 60, time.Hour)
	memoryHandler := memory.NewHandler(env.Store)

	router := api.NewRouter(env.Pool, nil, api.RouterConfig{}, api.HandlerSet{
		Turn:         turnHandler.Turn,
		ClearSession: turnHandler.ClearSession,

		GetProfile:      memoryHandler.GetProfile,
		ListTodos:       memoryHandler.ListTodos,
		GetInstructions: memoryHandler.GetInstructions,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
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

func DoRequest(t *testing.T, serverURL, method, path string, body any) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, serverURL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

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

func DirectiveReply(updateType, callID string) conversation.Message {
	input, _ := json.Marshal(map[string]string{"update_type": updateType})
	return conversation.Message{
		Role: conversation.RoleAssistant,
		ToolCalls: []conversation.ToolCall{
			{ID: callID, Name: conversation.DirectiveToolName, Input: input},
		},
	}
}

func PlainReply(content string) conversation.Message {
	return conversation.Message{Role: conversation.RoleAssistant, Content: content}
}
