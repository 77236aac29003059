package reputation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-negotiation/internal/models"
)

const countField = "count"

// HashClient is the subset of redis commands the cache needs.
type HashClient interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HSetUnlessNewer writes values with ttl unless the stored hash already
	// carries a count above count. It reports whether the write happened.
	HSetUnlessNewer(ctx context.Context, key string, count int64, values map[string]interface{}, ttl time.Duration) (bool, error)
}

type redisAdapter struct {
	c        *redis.Client
	attempts int
}

// NewRedisClient wraps a go-redis client in the HashClient adapter.
func NewRedisClient(c *redis.Client) HashClient { return &redisAdapter{c: c, attempts: 3} }

func (r *redisAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.c.HGetAll(ctx, key).Result()
}

// HSetUnlessNewer runs the compare and write under WATCH, retrying when
// another writer touched the key in between.
func (r *redisAdapter) HSetUnlessNewer(ctx context.Context, key string, count int64, values map[string]interface{}, ttl time.Duration) (bool, error) {
	written := false
	write := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, countField).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if stored, perr := strconv.ParseInt(cur, 10, 64); perr == nil && stored > count {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, values)
			p.Expire(ctx, key, ttl)
			return nil
		})
		if err == nil {
			written = true
		}
		return err
	}
	var err error
	for i := 0; i < r.attempts; i++ {
		err = r.c.Watch(ctx, write, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return written, err
		}
	}
	return false, err
}

// RedisCache stores one hash per user under reputation:<user>. Ratings are
// append-only, so a larger count is always the fresher entry and an older
// computation can never replace it.
type RedisCache struct {
	client HashClient
	ttl    time.Duration
}

func NewRedisCache(client HashClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func Key(userID string) string { return "reputation:" + userID }

func (c *RedisCache) Get(ctx context.Context, userID string) (models.Reputation, bool, error) {
	m, err := c.client.HGetAll(ctx, Key(userID))
	if err != nil {
		return models.Reputation{}, false, err
	}
	if len(m) == 0 {
		return models.Reputation{}, false, nil
	}
	avg, err := strconv.ParseFloat(m["average"], 64)
	if err != nil {
		return models.Reputation{}, false, nil
	}
	count, err := strconv.ParseInt(m[countField], 10, 64)
	if err != nil {
		return models.Reputation{}, false, nil
	}
	return models.Reputation{UserID: userID, Average: avg, Count: count}, true, nil
}

// Set stores rep unless the cache already holds a summary over more ratings.
func (c *RedisCache) Set(ctx context.Context, rep models.Reputation) error {
	_, err := c.client.HSetUnlessNewer(ctx, Key(rep.UserID), rep.Count, map[string]interface{}{
		"average":  strconv.FormatFloat(rep.Average, 'f', -1, 64),
		countField: strconv.FormatInt(rep.Count, 10),
		"updated":  time.Now().UTC().Format(time.RFC3339),
	}, c.ttl)
	return err
}
