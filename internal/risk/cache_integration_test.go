package risk

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/animus-labs/autopilot/internal/domain"
)

var (
	redisOnce      sync.Once
	redisClient    *redis.Client
	redisContainer testcontainers.Container
	redisSkip      string
)

func TestMain(m *testing.M) {
	code := m.Run()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if redisContainer != nil {
		_ = redisContainer.Terminate(context.Background())
	}
	os.Exit(code)
}

// getRedis starts a shared Redis container on first use and flushes it per test.
func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	redisOnce.Do(func() {
		ctx := context.Background()
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("docker not available: %v", r)
				}
			}()
			redisContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
				ContainerRequest: testcontainers.ContainerRequest{
					Image:        "redis:7-alpine",
					ExposedPorts: []string{"6379/tcp"},
					WaitingFor:   wait.ForLog("Ready to accept connections"),
				},
				Started: true,
			})
		}()
		if err != nil {
			redisSkip = err.Error()
			return
		}
		host, err := redisContainer.Host(ctx)
		if err != nil {
			redisSkip = err.Error()
			return
		}
		port, err := redisContainer.MappedPort(ctx, "6379")
		if err != nil {
			redisSkip = err.Error()
			return
		}
		redisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisSkip = err.Error()
		}
	})
	if redisSkip != "" {
		t.Skipf("redis unavailable: %s", redisSkip)
	}
	if err := redisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return redisClient
}

func TestCachedPolicyStoreReadThrough(t *testing.T) {
	rdb := getRedis(t)
	inner := &fakePolicyStore{
		protected: map[string]domain.ProtectedResource{
			"invoice": {ResourceType: "invoice", MinimumLevel: domain.RiskCritical},
		},
		policies: map[string][]domain.RiskPolicy{
			"update_record": {{ToolName: "update_record", Field: "amount", RiskLevel: domain.RiskHigh}},
		},
	}
	cache := NewCachedPolicyStore(inner, rdb, time.Minute, "test:", nil)
	ctx := context.Background()

	for range 3 {
		r, found, err := cache.ProtectedResource(ctx, "acme", "invoice")
		if err != nil || !found || r.MinimumLevel != domain.RiskCritical {
			t.Fatalf("ProtectedResource()=%+v %v %v", r, found, err)
		}
		if _, found, _ := cache.ProtectedResource(ctx, "acme", "deal"); found {
			t.Fatalf("deal should not be protected")
		}
		policies, err := cache.Policies(ctx, "acme", "update_record")
		if err != nil || len(policies) != 1 || policies[0].RiskLevel != domain.RiskHigh {
			t.Fatalf("Policies()=%+v %v", policies, err)
		}
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 inner lookups, got %d", inner.calls)
	}

	if err := cache.Invalidate(ctx, "acme"); err != nil {
		t.Fatalf("Invalidate() err=%v", err)
	}
	if _, _, err := cache.ProtectedResource(ctx, "acme", "invoice"); err != nil {
		t.Fatalf("ProtectedResource() err=%v", err)
	}
	if inner.calls != 4 {
		t.Fatalf("expected lookup after invalidation, got %d calls", inner.calls)
	}
}

func TestCachedPolicyStoreFallsThroughWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	inner := &fakePolicyStore{policies: map[string][]domain.RiskPolicy{
		"update_record": {{ToolName: "update_record", RiskLevel: domain.RiskHigh}},
	}}
	cache := NewCachedPolicyStore(inner, rdb, time.Minute, "", nil)
	policies, err := cache.Policies(context.Background(), "acme", "update_record")
	if err != nil || len(policies) != 1 {
		t.Fatalf("Policies()=%+v %v", policies, err)
	}
}
