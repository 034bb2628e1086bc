package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/infraforge/fleet/core"
)

// RedisCache is the production Cache implementation, a thin namespaced
// wrapper over go-redis/v8 with DB isolation, directly grounded on
// itsneelabh/gomind's core.RedisClient.
type RedisCache struct {
	client    *redis.Client
	dbID      int
	namespace string
	logger    core.Logger
}

// RedisCacheOptions configures a RedisCache.
type RedisCacheOptions struct {
	RedisURL  string
	DB        int
	Namespace string
	Logger    core.Logger
}

// NewRedisCache parses the URL, applies DB isolation, and verifies
// connectivity with a bounded ping before returning, matching
// core.NewRedisClient's validate-then-connect sequence.
func NewRedisCache(opts RedisCacheOptions) (*RedisCache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if opts.RedisURL == "" {
		return nil, core.NewFrameworkError("NewRedisCache", "cache", fmt.Errorf("%w: redis URL required", core.ErrInvalidConfiguration))
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, core.NewFrameworkError("NewRedisCache", "cache", fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err))
	}
	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", map[string]interface{}{"error": err.Error(), "db": opts.DB})
		return nil, core.NewFrameworkError("NewRedisCache", "cache", fmt.Errorf("%w: %v", core.ErrConnectionFailed, err))
	}

	return &RedisCache{client: client, dbID: opts.DB, namespace: opts.Namespace, logger: logger}, nil
}

// NewRedisCacheFromClient adapts an already-constructed *redis.Client (e.g.
// one pointed at miniredis in tests) into a RedisCache.
func NewRedisCacheFromClient(client *redis.Client, namespace string, logger core.Logger) *RedisCache {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &RedisCache{client: client, namespace: namespace, logger: logger}
}

func (r *RedisCache) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, core.NewFrameworkError("RedisCache.Get", "cache", err)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return core.NewFrameworkError("RedisCache.Set", "cache", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	formatted := make([]string, len(keys))
	for i, k := range keys {
		formatted[i] = r.key(k)
	}
	if err := r.client.Del(ctx, formatted...).Err(); err != nil {
		return core.NewFrameworkError("RedisCache.Delete", "cache", err)
	}
	return nil
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, core.NewFrameworkError("RedisCache.Exists", "cache", err)
	}
	return n > 0, nil
}

func (r *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.TTL(ctx, r.key(key)).Result()
	if err != nil {
		return 0, core.NewFrameworkError("RedisCache.TTL", "cache", err)
	}
	return d, nil
}

func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, r.key(key), ttl).Err(); err != nil {
		return core.NewFrameworkError("RedisCache.Expire", "cache", err)
	}
	return nil
}

func (r *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, r.key(key)).Result()
	if err != nil {
		return 0, core.NewFrameworkError("RedisCache.Incr", "cache", err)
	}
	return n, nil
}

func (r *RedisCache) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := r.client.IncrBy(ctx, r.key(key), delta).Result()
	if err != nil {
		return 0, core.NewFrameworkError("RedisCache.IncrBy", "cache", err)
	}
	return n, nil
}

func (r *RedisCache) ZAdd(ctx context.Context, key string, members ...ZMember) error {
	zs := make([]*redis.Z, len(members))
	for i, m := range members {
		zs[i] = &redis.Z{Score: m.Score, Member: m.Member}
	}
	if err := r.client.ZAdd(ctx, r.key(key), zs...).Err(); err != nil {
		return core.NewFrameworkError("RedisCache.ZAdd", "cache", err)
	}
	return nil
}

func (r *RedisCache) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	if err := r.client.ZRemRangeByScore(ctx, r.key(key), formatScore(min), formatScore(max)).Err(); err != nil {
		return core.NewFrameworkError("RedisCache.ZRemRangeByScore", "cache", err)
	}
	return nil
}

func (r *RedisCache) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := r.client.ZCount(ctx, r.key(key), formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, core.NewFrameworkError("RedisCache.ZCount", "cache", err)
	}
	return n, nil
}

func (r *RedisCache) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.ZCard(ctx, r.key(key)).Result()
	if err != nil {
		return 0, core.NewFrameworkError("RedisCache.ZCard", "cache", err)
	}
	return n, nil
}

func formatScore(f float64) string {
	return fmt.Sprintf("%f", f)
}

// CompareAndSwap implements an optimistic read-modify-write using
// client.Watch + TxPipelined, exactly as gomind's orchestration.RedisStateStore
// does for workflow-state checkpoints.
func (r *RedisCache) CompareAndSwap(ctx context.Context, key string, fn func(current string, exists bool) (next string, ttl time.Duration, err error)) error {
	fullKey := r.key(key)
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Result()
		exists := true
		if err == redis.Nil {
			exists = false
			err = nil
		}
		if err != nil {
			return err
		}
		next, ttl, ferr := fn(current, exists)
		if ferr != nil {
			return ferr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, fullKey, next, ttl)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < 10; attempt++ {
		err = r.client.Watch(ctx, txf, fullKey)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return core.NewFrameworkError("RedisCache.CompareAndSwap", "cache", err)
	}
	return nil
}

func (r *RedisCache) LPushBounded(ctx context.Context, key string, value string, maxLen int64) error {
	fullKey := r.key(key)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, fullKey, value)
	pipe.LTrim(ctx, fullKey, 0, maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewFrameworkError("RedisCache.LPushBounded", "cache", err)
	}
	return nil
}

func (r *RedisCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.client.LRange(ctx, r.key(key), start, stop).Result()
	if err != nil {
		return nil, core.NewFrameworkError("RedisCache.LRange", "cache", err)
	}
	return vals, nil
}

func (r *RedisCache) Publish(ctx context.Context, channel string, payload string) error {
	if err := r.client.Publish(ctx, r.key(channel), payload).Err(); err != nil {
		return core.NewFrameworkError("RedisCache.Publish", "cache", err)
	}
	return nil
}

func (r *RedisCache) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error) {
	formatted := make([]string, len(channels))
	for i, c := range channels {
		formatted[i] = r.key(c)
	}
	sub := r.client.Subscribe(ctx, formatted...)

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for msg := range ch {
			select {
			case out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close, nil
}

func (r *RedisCache) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return core.NewFrameworkError("RedisCache.HealthCheck", "cache", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
