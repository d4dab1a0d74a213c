package cache

import (
	"context"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentuity/go-provision/resilience"
)

// RedisHandler stores encoded values in Redis and keeps the expiry and tag
// indexes used for pattern, tag and namespace invalidation.
type RedisHandler struct {
	client      redis.UniversalClient
	cfg         config
	lastIndexGC atomic.Int64
	closeClient bool
}

var _ Handler = (*RedisHandler)(nil)

// NewRedis returns a new Handler backed by Redis.
// The caller owns the client lifecycle; Close does not close it.
func NewRedis(client redis.UniversalClient, opts ...Option) *RedisHandler {
	return &RedisHandler{
		client: client,
		cfg:    applyOptions("redis", opts),
	}
}

func (c *RedisHandler) Name() string {
	return c.cfg.name
}

func (c *RedisHandler) CreateKey(segments ...any) (string, error) {
	return c.cfg.keys.Build(segments...)
}

// do runs fn in a client span with a query timeout, through the breaker
// when one is set. Failures are logged; callers decide how to degrade.
func (c *RedisHandler) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	spanCtx, span := c.cfg.tracer.Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("cache.handler", c.cfg.name),
		),
	)
	defer span.End()

	qctx, cancel := context.WithTimeout(spanCtx, c.cfg.queryTimeout)
	defer cancel()
	call := func() error { return fn(qctx) }
	var err error
	if c.cfg.breaker != nil {
		err = c.cfg.breaker.Do(call)
	} else {
		err = call()
	}
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, resilience.ErrOpen):
		span.SetAttributes(attribute.Bool("cache.breaker_open", true))
		span.SetStatus(codes.Error, err.Error())
		c.cfg.logger.Debug("%s skipped: %s", op, err)
	default:
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		c.cfg.logger.Error("%s failed: %s", op, err)
	}
	return err
}

func (c *RedisHandler) Contains(ctx context.Context, key string) bool {
	k := ParseKey(key)
	var found bool
	c.do(ctx, "contains", func(ctx context.Context) error {
		if k.IsComposite() {
			ok, err := c.client.HExists(ctx, k.Container, k.Field).Result()
			found = ok
			return err
		}
		n, err := c.client.Exists(ctx, key).Result()
		found = n > 0
		return err
	})
	return found
}

func (c *RedisHandler) Get(ctx context.Context, key string) Item[any] {
	k := ParseKey(key)
	var (
		data  []byte
		ttl   time.Duration
		found bool
	)
	err := c.do(ctx, "get", func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		var val *redis.StringCmd
		if k.IsComposite() {
			val = pipe.HGet(ctx, k.Container, k.Field)
		} else {
			val = pipe.Get(ctx, key)
		}
		pttl := pipe.PTTL(ctx, k.Container)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		b, err := val.Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		data, ttl, found = b, pttl.Val(), true
		return nil
	})
	if err != nil || !found {
		if err == nil {
			c.cfg.logger.Debug("couldn't find cache item with key '%s'", key)
		}
		return Empty[any](key)
	}
	var expires time.Time
	if ttl > 0 {
		expires = c.cfg.now().Add(ttl)
	}
	return encodedItem(key, data, c.cfg.codec, expires, c.cfg.name)
}

func (c *RedisHandler) GetByTag(ctx context.Context, tags ...string) []Item[any] {
	seen := make(map[string]bool)
	var items []Item[any]
	for _, tag := range tags {
		keys, err := c.liveMembers(ctx, c.tagKey(tag))
		if err != nil {
			continue
		}
		for _, key := range keys {
			if seen[key] {
				continue
			}
			seen[key] = true
			if item := c.Get(ctx, key); item.HasValue {
				items = append(items, item)
			}
		}
	}
	return items
}

func (c *RedisHandler) AddOrUpdate(ctx context.Context, key string, val any, expires time.Time, tags ...string) (any, error) {
	if key == "" {
		return val, invalidArgument("key must not be empty")
	}
	if isNil(val) {
		return val, invalidArgument("cannot store nil value at key '%s'", key)
	}
	c.maintainIndex(ctx)

	now := c.cfg.now()
	expires = c.cfg.expiry(expires)
	if !expires.Equal(NoExpiry) && !expires.After(now) {
		c.RemoveByKey(ctx, key)
		return val, nil
	}
	data, err := c.cfg.codec.Marshal(val)
	if err != nil {
		return val, errors.Wrapf(err, "cache: failed to encode value for key '%s'", key)
	}
	k := ParseKey(key)
	err = c.do(ctx, "set", func(ctx context.Context) error {
		pipe := c.client.TxPipeline()
		if k.IsComposite() {
			pipe.HSet(ctx, k.Container, k.Field, data)
		} else {
			pipe.Set(ctx, key, data, 0)
		}
		if expires.Equal(NoExpiry) {
			pipe.Persist(ctx, k.Container)
		} else {
			pipe.PExpireAt(ctx, k.Container, expires)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return val, nil
	}
	c.updateIndex(ctx, k, score(expires), tags)
	stampExpiry(val, expires, now)
	return val, nil
}

func (c *RedisHandler) RemoveByKey(ctx context.Context, key string) bool {
	k := ParseKey(key)
	var removed bool
	c.do(ctx, "remove", func(ctx context.Context) error {
		if k.IsComposite() {
			n, err := c.client.HDel(ctx, k.Container, k.Field).Result()
			removed = n > 0
			return err
		}
		pipe := c.client.TxPipeline()
		del := pipe.Del(ctx, key)
		pipe.ZRem(ctx, c.indexKey(), key)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		removed = del.Val() > 0
		return nil
	})
	return removed
}

func (c *RedisHandler) RemoveByPattern(ctx context.Context, pattern string) (bool, error) {
	if pattern == "" {
		return false, invalidArgument("pattern must not be empty")
	}
	var keys []string
	err := c.do(ctx, "scan index", func(ctx context.Context) error {
		iter := c.client.ZScan(ctx, c.indexKey(), 0, pattern, 100).Iterator()
		// ZSCAN yields member and score pairs
		even := true
		for iter.Next(ctx) {
			if even {
				keys = append(keys, iter.Val())
			}
			even = !even
		}
		return iter.Err()
	})
	if err != nil {
		return false, nil
	}
	return c.removeContainers(ctx, keys), nil
}

func (c *RedisHandler) RemoveByRegexp(_ context.Context, _ *regexp.Regexp) (bool, error) {
	return false, unsupported(c.cfg.name, "regular expression removal")
}

func (c *RedisHandler) RemoveByTag(ctx context.Context, tags ...string) bool {
	ok := true
	for _, tag := range tags {
		keys, err := c.liveMembers(ctx, c.tagKey(tag))
		if err != nil {
			ok = false
			continue
		}
		containers := make([]string, 0, len(keys))
		for _, key := range keys {
			containers = append(containers, containerOf(key))
		}
		c.removeContainers(ctx, containers)
		if err := c.do(ctx, "drop tag", func(ctx context.Context) error {
			pipe := c.client.TxPipeline()
			pipe.Del(ctx, c.tagKey(tag))
			pipe.SRem(ctx, c.tagRegistryKey(), tag)
			_, err := pipe.Exec(ctx)
			return err
		}); err != nil {
			ok = false
		}
	}
	return ok
}

func (c *RedisHandler) Purge(ctx context.Context) bool {
	keys, err := c.liveMembers(ctx, c.indexKey())
	if err != nil {
		return false
	}
	c.removeContainers(ctx, keys)
	err = c.do(ctx, "purge", func(ctx context.Context) error {
		tags, err := c.client.SMembers(ctx, c.tagRegistryKey()).Result()
		if err != nil {
			return err
		}
		drop := []string{c.indexKey(), c.tagRegistryKey()}
		for _, tag := range tags {
			drop = append(drop, c.tagKey(tag))
		}
		return c.client.Del(ctx, drop...).Err()
	})
	return err == nil
}

// Close closes the client only when the handler created it.
func (c *RedisHandler) Close() error {
	if c.closeClient {
		return c.client.Close()
	}
	return nil
}
