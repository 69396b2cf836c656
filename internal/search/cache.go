package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/plots"
	"github.com/banshee-data/canopy.report/internal/timeutil"
)

// DefaultCacheTTL is how long a search result stays valid.
const DefaultCacheTTL = 24 * time.Hour

// Cache stores search results by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool, error)
	Set(ctx context.Context, key string, dates []string, ttl time.Duration) error
}

// cacheNamespace scopes search cache keys.
var cacheNamespace = uuid.MustParse("6f1c3d0e-4b7a-5e21-9c8d-2a4f6b1e7c90")

// CacheKey derives a stable key from the plot boundary, the window and the
// cloud limit, so a changed boundary or window misses the cache.
func CacheKey(plot plots.Plot, w Window, maxCloud float64) string {
	geometry, err := plot.WKT()
	if err != nil {
		geometry = plot.ID
	}
	data := fmt.Sprintf("%s_%s_%g", geometry, w, maxCloud)
	return "search:" + uuid.NewSHA1(cacheNamespace, []byte(data)).String()
}

// CachedSearcher consults Cache before delegating to Next.
type CachedSearcher struct {
	Next     Searcher
	Cache    Cache
	TTL      time.Duration
	MaxCloud float64
}

// Dates returns cached dates when present. Cache failures are logged and
// fall through to the wrapped searcher.
func (c CachedSearcher) Dates(ctx context.Context, plot plots.Plot, w Window) ([]string, error) {
	key := CacheKey(plot, w, c.MaxCloud)
	if dates, ok, err := c.Cache.Get(ctx, key); err != nil {
		monitoring.Logf("search: cache get %s: %v", key, err)
	} else if ok {
		return dates, nil
	}

	dates, err := c.Next.Dates(ctx, plot, w)
	if err != nil {
		return nil, err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if err := c.Cache.Set(ctx, key, dates, ttl); err != nil {
		monitoring.Logf("search: cache set %s: %v", key, err)
	}
	return dates, nil
}

type memEntry struct {
	dates     []string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Expired entries are dropped on read.
type MemoryCache struct {
	clock timeutil.Clock

	mu      sync.Mutex
	entries map[string]memEntry
}

// NewMemoryCache returns an empty cache on clock (nil for real time).
func NewMemoryCache(clock timeutil.Clock) *MemoryCache {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &MemoryCache{clock: clock, entries: make(map[string]memEntry)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]string(nil), e.dates...), true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, dates []string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{dates: append([]string(nil), dates...), expiresAt: m.clock.Now().Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// redisClient is the subset of go-redis used by RedisCache.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache stores results as JSON strings with a Redis TTL.
type RedisCache struct {
	client redisClient
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client redisClient) *RedisCache {
	return &RedisCache{client: client}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var dates []string
	if err := json.Unmarshal([]byte(raw), &dates); err != nil {
		return nil, false, fmt.Errorf("decode cached dates: %w", err)
	}
	return dates, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, dates []string, ttl time.Duration) error {
	if dates == nil {
		dates = []string{}
	}
	raw, err := json.Marshal(dates)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, string(raw), ttl).Err()
}
