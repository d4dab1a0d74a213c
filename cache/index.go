package cache

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const (
	indexName       = "__index"
	tagRegistryName = "__tags"
	tagIndexName    = "__tag"
)

// maxScore marks index entries that never expire.
const maxScore = math.MaxFloat64

// score converts an expiry into an index score: Unix seconds with
// millisecond precision.
func score(t time.Time) float64 {
	if t.IsZero() || t.Equal(NoExpiry) {
		return maxScore
	}
	return float64(t.UnixMilli()) / 1000
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (c *RedisHandler) internalKey(parts ...string) string {
	sep := c.cfg.keys.separator()
	name := strings.Join(parts, sep)
	if c.cfg.keys.Prefix == "" {
		return name
	}
	return c.cfg.keys.Prefix + sep + name
}

// indexKey is the sorted set of every container written by this handler,
// scored by expiry.
func (c *RedisHandler) indexKey() string {
	return c.internalKey(indexName)
}

// tagRegistryKey is the set of tag names that have a tag index.
func (c *RedisHandler) tagRegistryKey() string {
	return c.internalKey(tagRegistryName)
}

// tagKey is the sorted set of full keys carrying tag, scored by expiry.
func (c *RedisHandler) tagKey(tag string) string {
	return c.internalKey(tagIndexName, tag)
}

// updateIndex records the write in the global index and the tag indexes.
// Scores only move forward: a later expiry is applied with ZINCRBY, an
// earlier one leaves the score alone.
func (c *RedisHandler) updateIndex(ctx context.Context, k Key, s float64, tags []string) {
	index := c.indexKey()
	c.do(ctx, "index", func(ctx context.Context) error {
		old, err := c.client.ZScore(ctx, index, k.Container).Result()
		switch {
		case errors.Is(err, redis.Nil):
			return c.client.ZAdd(ctx, index, redis.Z{Score: s, Member: k.Container}).Err()
		case err != nil:
			return err
		}
		if delta := s - old; delta > 0 {
			return c.client.ZIncrBy(ctx, index, delta, k.Container).Err()
		}
		return nil
	})
	if len(tags) == 0 {
		return
	}
	key := k.String()
	c.do(ctx, "tag index", func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		for _, tag := range tags {
			pipe.SAdd(ctx, c.tagRegistryKey(), tag)
			pipe.ZAdd(ctx, c.tagKey(tag), redis.Z{Score: s, Member: key})
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// liveMembers returns the members of a sorted set index that have not
// expired yet.
func (c *RedisHandler) liveMembers(ctx context.Context, index string) ([]string, error) {
	var members []string
	err := c.do(ctx, "range index", func(ctx context.Context) error {
		var err error
		members, err = c.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{
			Min: formatScore(score(c.cfg.now())),
			Max: "+inf",
		}).Result()
		return err
	})
	return members, err
}

// removeContainers deletes each container and drops it from the global
// index. Individual delete failures are tolerated.
func (c *RedisHandler) removeContainers(ctx context.Context, containers []string) bool {
	if len(containers) == 0 {
		return true
	}
	seen := make(map[string]bool, len(containers))
	members := make([]any, 0, len(containers))
	err := c.do(ctx, "remove keys", func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		for _, container := range containers {
			if seen[container] {
				continue
			}
			seen[container] = true
			members = append(members, container)
			pipe.Del(ctx, container)
		}
		pipe.ZRem(ctx, c.indexKey(), members...)
		cmds, err := pipe.Exec(ctx)
		failed := 0
		for _, cmd := range cmds {
			if cmd.Err() != nil {
				failed++
				c.cfg.logger.Warn("failed to run %v: %s", cmd.Args(), cmd.Err())
			}
		}
		if len(cmds) == 0 || failed == len(cmds) {
			return err
		}
		return nil
	})
	return err == nil
}

// RemoveExpiredKeys drops index entries whose expiry has passed from the
// global index and every tag index. It returns the number of entries removed.
func (c *RedisHandler) RemoveExpiredKeys(ctx context.Context) int64 {
	var removed int64
	upTo := formatScore(score(c.cfg.now()))
	c.do(ctx, "remove expired keys", func(ctx context.Context) error {
		tags, err := c.client.SMembers(ctx, c.tagRegistryKey()).Result()
		if err != nil {
			return err
		}
		pipe := c.client.Pipeline()
		counts := []*redis.IntCmd{pipe.ZRemRangeByScore(ctx, c.indexKey(), "-inf", upTo)}
		for _, tag := range tags {
			counts = append(counts, pipe.ZRemRangeByScore(ctx, c.tagKey(tag), "-inf", upTo))
		}
		exists := make([]*redis.IntCmd, len(tags))
		for i, tag := range tags {
			exists[i] = pipe.Exists(ctx, c.tagKey(tag))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		for _, n := range counts {
			removed += n.Val()
		}
		// emptied tag indexes are gone, forget their tags
		var gone []any
		for i, tag := range tags {
			if exists[i].Val() == 0 {
				gone = append(gone, tag)
			}
		}
		if len(gone) > 0 {
			return c.client.SRem(ctx, c.tagRegistryKey(), gone...).Err()
		}
		return nil
	})
	if removed > 0 {
		c.cfg.logger.Debug("removed %d expired index entries", removed)
	}
	return removed
}

// maintainIndex runs RemoveExpiredKeys before a write, at most once per
// index maintenance interval.
func (c *RedisHandler) maintainIndex(ctx context.Context) {
	if c.cfg.indexMaintenance <= 0 {
		c.RemoveExpiredKeys(ctx)
		return
	}
	now := c.cfg.now().UnixNano()
	last := c.lastIndexGC.Load()
	if now-last < int64(c.cfg.indexMaintenance) {
		return
	}
	if c.lastIndexGC.CompareAndSwap(last, now) {
		c.RemoveExpiredKeys(ctx)
	}
}
