package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedResponse is the HTTP answer already given for an event id.
type CachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// ResponseCache short-circuits duplicate deliveries before they reach the
// database. It is an optimisation only; misses and errors fall back to the
// event table.
type ResponseCache interface {
	Get(ctx context.Context, externalEventID string) (*CachedResponse, bool)
	Set(ctx context.Context, externalEventID string, resp CachedResponse)
}

func ResponseCacheKey(externalEventID string) string {
	return "webhook:response:" + externalEventID
}

type RedisResponseCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisResponseCache(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisResponseCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisResponseCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisResponseCache) Get(ctx context.Context, externalEventID string) (*CachedResponse, bool) {
	raw, err := c.client.Get(ctx, ResponseCacheKey(externalEventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Response cache lookup failed", zap.String("event_id", externalEventID), zap.Error(err))
		return nil, false
	}

	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.StatusCode == 0 {
		return nil, false
	}
	return &resp, true
}

func (c *RedisResponseCache) Set(ctx context.Context, externalEventID string, resp CachedResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, ResponseCacheKey(externalEventID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Response cache write failed", zap.String("event_id", externalEventID), zap.Error(err))
	}
}
