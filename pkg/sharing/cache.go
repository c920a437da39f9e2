package sharing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/observability"
)

const (
	redisKeyPrefix = "assetvault:grants:"

	// generationTTL outlives any single source load
	generationTTL = 24 * time.Hour
)

var errStaleGeneration = errors.New("grant cache generation changed")

// CacheConfig configures the grant cache tiers
type CacheConfig struct {
	L1Size int
	L1TTL  time.Duration
	L2TTL  time.Duration
}

// CachedDirectory caches the boolean grant lookups the evaluator makes.
//
// L1 is an in-process expirable LRU; L2 is an optional redis hash per asset so
// invalidating an asset is a single DEL. Concurrent misses for the same key
// are collapsed. List lookups are passed through uncached.
//
// A source read that overlaps an Invalidate is answered but never cached.
// In process this is tracked with an epoch bumped by every Invalidate; across
// processes each asset has a redis generation counter that guards L2 writes.
type CachedDirectory struct {
	next    Lookup
	l1      *lru.LRU[string, bool]
	redis   *redis.Client
	l2TTL   time.Duration
	group   singleflight.Group
	metrics *observability.Metrics

	mu    sync.Mutex
	epoch uint64
}

var _ Lookup = (*CachedDirectory)(nil)

// NewCachedDirectory wraps next. client and metrics may be nil.
func NewCachedDirectory(next Lookup, client *redis.Client, cfg CacheConfig, metrics *observability.Metrics) *CachedDirectory {
	size := cfg.L1Size
	if size <= 0 {
		size = 10000
	}
	ttl := cfg.L1TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l2TTL := cfg.L2TTL
	if l2TTL <= 0 {
		l2TTL = 5 * time.Minute
	}

	return &CachedDirectory{
		next:    next,
		l1:      lru.NewLRU[string, bool](size, nil, ttl),
		redis:   client,
		l2TTL:   l2TTL,
		metrics: metrics,
	}
}

func l1Key(assetID, field string) string {
	return assetID + "|" + field
}

func redisKey(assetID string) string {
	return redisKeyPrefix + assetID
}

func generationKey(assetID string) string {
	return redisKeyPrefix + "gen:" + assetID
}

func userField(userID string) string {
	return "u:" + userID
}

func roleField(role assets.Role) string {
	return "r:" + string(role)
}

// HasUserGrant implements visibility.GrantLookup
func (c *CachedDirectory) HasUserGrant(ctx context.Context, assetID, userID string) (bool, error) {
	return c.lookup(ctx, assetID, userField(userID), func() (bool, error) {
		return c.next.HasUserGrant(ctx, assetID, userID)
	})
}

// HasRoleGrant implements visibility.GrantLookup
func (c *CachedDirectory) HasRoleGrant(ctx context.Context, assetID string, role assets.Role) (bool, error) {
	return c.lookup(ctx, assetID, roleField(role), func() (bool, error) {
		return c.next.HasRoleGrant(ctx, assetID, role)
	})
}

// GrantsForAsset is not cached
func (c *CachedDirectory) GrantsForAsset(ctx context.Context, assetID string) ([]*assets.ShareGrant, error) {
	return c.next.GrantsForAsset(ctx, assetID)
}

// GrantsForUser is not cached
func (c *CachedDirectory) GrantsForUser(ctx context.Context, userID string) ([]*assets.ShareGrant, error) {
	return c.next.GrantsForUser(ctx, userID)
}

func (c *CachedDirectory) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// addL1 caches v unless an Invalidate ran since epoch was read
func (c *CachedDirectory) addL1(key string, v bool, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch {
		c.l1.Add(key, v)
	}
}

func (c *CachedDirectory) generation(ctx context.Context, assetID string) (int64, error) {
	gen, err := c.redis.Get(ctx, generationKey(assetID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (c *CachedDirectory) lookup(ctx context.Context, assetID, field string, load func() (bool, error)) (bool, error) {
	key := l1Key(assetID, field)
	if v, ok := c.l1.Get(key); ok {
		c.metrics.RecordCacheLookup("l1", true)
		return v, nil
	}
	c.metrics.RecordCacheLookup("l1", false)

	// callers arriving after an Invalidate must not join a flight started before it
	epoch := c.currentEpoch()
	flight := key + "#" + strconv.FormatUint(epoch, 10)

	v, err, _ := c.group.Do(flight, func() (interface{}, error) {
		useL2 := c.redis != nil
		var gen int64
		if useL2 {
			var err error
			if gen, err = c.generation(ctx, assetID); err != nil {
				observability.FromContext(ctx).WithError(err).Warn("grant cache read failed")
				useL2 = false
			}
		}

		if useL2 {
			cached, err := c.redis.HGet(ctx, redisKey(assetID), field).Result()
			switch {
			case err == nil:
				c.metrics.RecordCacheLookup("l2", true)
				hit := cached == "1"
				c.addL1(key, hit, epoch)
				return hit, nil
			case err == redis.Nil:
				c.metrics.RecordCacheLookup("l2", false)
			default:
				// fall through to the source on redis errors
				observability.FromContext(ctx).WithError(err).Warn("grant cache read failed")
				useL2 = false
			}
		}

		ok, err := load()
		if err != nil {
			return false, err
		}
		if useL2 && !c.storeL2(ctx, assetID, field, ok, gen) {
			return ok, nil
		}
		c.addL1(key, ok, epoch)
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// storeL2 writes v only while the asset's generation is still gen. It returns
// false when another Invalidate got there first.
func (c *CachedDirectory) storeL2(ctx context.Context, assetID, field string, v bool, gen int64) bool {
	val := "0"
	if v {
		val = "1"
	}
	key, genKey := redisKey(assetID), generationKey(assetID)

	err := c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, val)
			pipe.Expire(ctx, key, c.l2TTL)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		observability.FromContext(ctx).WithField("asset_id", assetID).Debug("skipped grant cache write after invalidation")
		return false
	default:
		observability.FromContext(ctx).WithError(err).Warn("grant cache write failed")
	}
	return true
}

// Invalidate drops every cached answer for assetID from both tiers and stops
// reads already in flight from caching their result
func (c *CachedDirectory) Invalidate(ctx context.Context, assetID string) error {
	prefix := assetID + "|"
	c.mu.Lock()
	c.epoch++
	for _, key := range c.l1.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.l1.Remove(key)
		}
	}
	c.mu.Unlock()

	if c.redis == nil {
		return nil
	}
	genKey := generationKey(assetID)
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, redisKey(assetID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate grant cache for asset %s: %w", assetID, err)
	}
	return nil
}
