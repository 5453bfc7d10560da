package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"homora/internal/metrics"
	"homora/internal/redis"
)

const (
	invalidateChannel = "homora:cache:invalidate"
	defaultTTL        = 5 * time.Minute
)

// ErrMiss is returned by MemoryStore for absent or expired keys.
var ErrMiss = errors.New("cache miss")

func ProjectsKey() string { return "projects" }

func ProjectKey(projectID string) string { return "project:" + projectID }

func ConversationsKey(projectID string) string { return "conversations:" + projectID }

func DocumentsKey(projectID string) string { return "documents:" + projectID }

func TrashKey(projectID string) string { return "trash:" + projectID }

func ReportTemplatesKey() string { return "report_templates" }

// ProjectKeys lists every cached query that a trash mutation in projectID can make stale.
func ProjectKeys(projectID string) []string {
	return []string{
		TrashKey(projectID),
		ConversationsKey(projectID),
		DocumentsKey(projectID),
		ProjectKey(projectID),
	}
}

type invalidateMessage struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys"`
}

// Cache holds serialized query results. Entries are never updated in place: a mutation
// invalidates them and the next read refetches.
type Cache struct {
	local   *MemoryStore
	shared  *redis.Client
	group   singleflight.Group
	origin  string

	// epochs counts invalidations per key; a fetch only stores its result while the
	// epoch it started under is current.
	mu     sync.Mutex
	epochs map[string]uint64

	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Cache)

// WithRedis adds a shared tier and cross-replica invalidation.
func WithRedis(client *redis.Client) Option {
	return func(c *Cache) { c.shared = client }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		local:  NewMemoryStore(),
		origin: uuid.NewString(),
		epochs: make(map[string]uint64),
		ttl:    defaultTTL,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the cached value for key or calls fetch and stores its result.
// Concurrent misses on the same key share one fetch.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if data, ok := c.lookup(ctx, key); ok {
		c.metrics.CacheLookup(true)
		return data, nil
	}
	c.metrics.CacheLookup(false)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		epoch := c.epoch(key)
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, epoch, data, ttl)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	if data, err := c.local.Get(ctx, key); err == nil {
		return data, true
	}
	if c.shared == nil {
		return nil, false
	}
	data, err := c.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Warn("cache shared get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	_ = c.local.Set(ctx, key, data, c.ttl)
	return data, true
}

func (c *Cache) epoch(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[key]
}

func (c *Cache) bump(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		c.epochs[key]++
		c.group.Forget(key)
	}
}

// store keeps data unless key was invalidated after the fetch began.
func (c *Cache) store(ctx context.Context, key string, epoch uint64, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[key] != epoch {
		c.logger.Debug("cache dropped result fetched before invalidation", zap.String("key", key))
		return
	}
	_ = c.local.Set(ctx, key, data, ttl)
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("cache shared set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops keys from every tier and tells other replicas to drop their local copies.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	c.bump(keys)
	_ = c.local.Del(ctx, keys...)
	if c.shared == nil {
		return nil
	}
	if err := c.shared.Del(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate shared cache: %w", err)
	}
	payload, err := json.Marshal(invalidateMessage{Origin: c.origin, Keys: keys})
	if err != nil {
		return fmt.Errorf("encode invalidation: %w", err)
	}
	if err := c.shared.Publish(ctx, invalidateChannel, payload); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	c.logger.Debug("cache invalidated", zap.Strings("keys", keys))
	return nil
}

// Listen applies invalidations published by other replicas until ctx is done.
// It returns immediately when no shared tier is configured.
func (c *Cache) Listen(ctx context.Context) error {
	if c.shared == nil {
		return nil
	}
	msgs, err := c.shared.Subscribe(ctx, invalidateChannel)
	if err != nil {
		return err
	}
	go func() {
		for payload := range msgs {
			var msg invalidateMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				c.logger.Warn("cache invalidation decode failed", zap.Error(err))
				continue
			}
			if msg.Origin == c.origin {
				continue
			}
			c.bump(msg.Keys)
			_ = c.local.Del(context.Background(), msg.Keys...)
		}
	}()
	return nil
}

// FetchJSON is Fetch for values that round-trip through JSON.
func FetchJSON[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error)) (T, error) {
	var out T
	data, err := c.Fetch(ctx, key, 0, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return out, nil
}
