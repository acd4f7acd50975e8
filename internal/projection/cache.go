package projection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is a read-through cache for derived sessions. It is never the
// source of truth: the ingest path invalidates a session's entry the
// moment the session gains a new event, and entries expire on a TTL as
// a backstop.
type Cache interface {
	Get(ctx context.Context, sessionID string) (*Session, bool)
	Set(ctx context.Context, sessionID string, s *Session)
	Invalidate(ctx context.Context, sessionID string)
}

// nopCache disables caching.
type nopCache struct{}

func (nopCache) Get(context.Context, string) (*Session, bool) { return nil, false }
func (nopCache) Set(context.Context, string, *Session)        {}
func (nopCache) Invalidate(context.Context, string)           {}

// --- In-process cache ---

type memEntry struct {
	session   *Session
	expiresAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	store sync.Map // sessionID -> *memEntry
	ttl   time.Duration
}

// NewMemoryCache creates an in-process cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl}
}

func (c *MemoryCache) Get(_ context.Context, sessionID string) (*Session, bool) {
	v, ok := c.store.Load(sessionID)
	if !ok {
		return nil, false
	}
	entry := v.(*memEntry)
	if time.Now().After(entry.expiresAt) {
		c.store.Delete(sessionID)
		return nil, false
	}
	return entry.session, true
}

func (c *MemoryCache) Set(_ context.Context, sessionID string, s *Session) {
	c.store.Store(sessionID, &memEntry{session: s, expiresAt: time.Now().Add(c.ttl)})
}

func (c *MemoryCache) Invalidate(_ context.Context, sessionID string) {
	c.store.Delete(sessionID)
}

// --- Redis cache ---

const redisKeyPrefix = "chronicle:session:"

// RedisCache shares derived sessions across replicas via Redis.
// All failures degrade to a cache miss.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates a Redis-backed Cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, sessionID string) (*Session, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("session cache get failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, false
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

func (c *RedisCache) Set(ctx context.Context, sessionID string, s *Session) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+sessionID, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("session cache set failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, sessionID string) {
	if err := c.client.Del(ctx, redisKeyPrefix+sessionID).Err(); err != nil {
		c.logger.Warn("session cache invalidate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
