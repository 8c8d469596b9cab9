package upstream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kurihiro0119/ci-api/internal/domain"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// Cache stores short-lived string values
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisCache wraps go-redis
type RedisCache struct{ client *redis.Client }

// NewRedisCache connects to addr and pings it
func NewRedisCache(ctx context.Context, addr, password string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return res, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Close closes the redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// MemoryCache is a simple in-memory TTL cache
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

type memItem struct {
	value     string
	expiresAt time.Time
}

// NewMemoryCache creates an empty MemoryCache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]memItem{}, now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok || !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return "", ErrCacheMiss
	}
	return item.value, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// cachedChecker memoizes another Checker's answers for ttl
type cachedChecker struct {
	next  Checker
	cache Cache
	ttl   time.Duration
}

// NewCachedChecker wraps next with cache. Cache failures fall through to next.
func NewCachedChecker(next Checker, cache Cache, ttl time.Duration) Checker {
	return &cachedChecker{next: next, cache: cache, ttl: ttl}
}

func (c *cachedChecker) BranchExists(ctx context.Context, repo *domain.Repository, branch *domain.Branch) (bool, error) {
	key := fmt.Sprintf("upstream:branch:%d:%s", repo.ID, branch.Name)

	value, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		return value == "1", nil
	case !errors.Is(err, ErrCacheMiss):
		log.Printf("upstream cache read failed for %s: %v", key, err)
	}

	exists, err := c.next.BranchExists(ctx, repo, branch)
	if err != nil {
		return false, err
	}

	value = "0"
	if exists {
		value = "1"
	}
	if err := c.cache.Set(ctx, key, value, c.ttl); err != nil {
		log.Printf("upstream cache write failed for %s: %v", key, err)
	}
	return exists, nil
}
