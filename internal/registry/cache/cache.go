// Package cache memoises registry candidate searches in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"regsync/internal/entity"
	"regsync/internal/registry"
	"regsync/internal/registry/metrics"
)

const keyPrefix = "regsync:search:"

// Registry is the client being cached.
type Registry interface {
	Search(ctx context.Context, params registry.SearchParams) ([]entity.Person, error)
	Submit(ctx context.Context, person *entity.Person) (string, error)
}

// CachedRegistry serves repeat searches from Redis and drops the affected
// entries whenever a person is submitted. Redis failures degrade to direct
// registry calls.
type CachedRegistry struct {
	next    Registry
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*CachedRegistry)

func WithLogger(logger *slog.Logger) Option {
	return func(c *CachedRegistry) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *CachedRegistry) {
		c.metrics = m
	}
}

func New(next Registry, client *redis.Client, ttl time.Duration, opts ...Option) *CachedRegistry {
	c := &CachedRegistry{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedRegistry) Search(ctx context.Context, params registry.SearchParams) ([]entity.Person, error) {
	key := Key(params)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var persons []entity.Person
		if jsonErr := json.Unmarshal(raw, &persons); jsonErr == nil {
			c.count("hit")
			return persons, nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable cached search", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WarnContext(ctx, "search cache read failed", "error", err)
	}
	c.count("miss")

	persons, err := c.next.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	if buf, err := json.Marshal(persons); err == nil {
		if err := c.client.Set(ctx, key, buf, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "search cache write failed", "error", err)
		}
	}
	return persons, nil
}

func (c *CachedRegistry) Submit(ctx context.Context, person *entity.Person) (string, error) {
	id, err := c.next.Submit(ctx, person)
	if err != nil {
		return "", err
	}
	affected := registry.AffectedParams(person)
	keys := make([]string, len(affected))
	for i, p := range affected {
		keys[i] = Key(p)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WarnContext(ctx, "search cache invalidation failed", "error", err)
	}
	return id, nil
}

// Key derives the cache key for params. Lookup values are hashed so natural
// identifiers never appear in Redis key space.
func Key(params registry.SearchParams) string {
	sum := sha256.Sum256([]byte(params.Identifier.System + "\x00" + params.Identifier.Value + "\x00" + params.BirthDate))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedRegistry) count(result string) {
	if c.metrics != nil {
		c.metrics.IncrementCache(result)
	}
}
