package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/animus-labs/autopilot/internal/domain"
)

// CachedPolicyStore is a read-through Redis cache in front of another store.
// Redis failures fall through to the inner store; they never fail a lookup.
type CachedPolicyStore struct {
	inner  PolicyStore
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

type cachedProtected struct {
	Found    bool                      `json:"found"`
	Resource *domain.ProtectedResource `json:"resource,omitempty"`
}

func NewCachedPolicyStore(inner PolicyStore, rdb redis.UniversalClient, ttl time.Duration, prefix string, logger *slog.Logger) *CachedPolicyStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedPolicyStore{inner: inner, rdb: rdb, ttl: ttl, prefix: prefix, logger: logger}
}

func (c *CachedPolicyStore) protectedKey(companyID, resourceType string) string {
	return c.prefix + "risk:protected:" + companyID + ":" + resourceType
}

func (c *CachedPolicyStore) policiesKey(companyID, toolName string) string {
	return c.prefix + "risk:policies:" + companyID + ":" + toolName
}

func (c *CachedPolicyStore) ProtectedResource(ctx context.Context, companyID, resourceType string) (domain.ProtectedResource, bool, error) {
	key := c.protectedKey(companyID, resourceType)
	var cached cachedProtected
	if c.get(ctx, key, &cached) {
		if !cached.Found || cached.Resource == nil {
			return domain.ProtectedResource{}, false, nil
		}
		return *cached.Resource, true, nil
	}
	resource, found, err := c.inner.ProtectedResource(ctx, companyID, resourceType)
	if err != nil {
		return domain.ProtectedResource{}, false, err
	}
	entry := cachedProtected{Found: found}
	if found {
		entry.Resource = &resource
	}
	c.set(ctx, key, entry)
	return resource, found, nil
}

func (c *CachedPolicyStore) Policies(ctx context.Context, companyID, toolName string) ([]domain.RiskPolicy, error) {
	key := c.policiesKey(companyID, toolName)
	var cached []domain.RiskPolicy
	if c.get(ctx, key, &cached) {
		return cached, nil
	}
	policies, err := c.inner.Policies(ctx, companyID, toolName)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, policies)
	return policies, nil
}

// Invalidate drops every cached entry for a company.
func (c *CachedPolicyStore) Invalidate(ctx context.Context, companyID string) error {
	pattern := c.prefix + "risk:*:" + companyID + ":*"
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan policy cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate policy cache: %w", err)
	}
	return nil
}

func (c *CachedPolicyStore) get(ctx context.Context, key string, out any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn("policy cache read failed", key, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.warn("policy cache entry corrupt", key, err)
		return false
	}
	return true
}

func (c *CachedPolicyStore) set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.warn("policy cache encode failed", key, err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.warn("policy cache write failed", key, err)
	}
}

func (c *CachedPolicyStore) warn(msg, key string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, "key", key, "error", err)
	}
}
