package sharing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetvault/pkg/assets"
	"github.com/platinummonkey/assetvault/pkg/observability"
)

// countingLookup answers from fixed maps and counts source hits
type countingLookup struct {
	mu     sync.Mutex
	users  map[string]bool
	roles  map[string]bool
	calls  int32
	delay  time.Duration
	failed error
}

func (c *countingLookup) HasUserGrant(ctx context.Context, assetID, userID string) (bool, error) {
	atomic.AddInt32(&c.calls, 1)
	time.Sleep(c.delay)
	if c.failed != nil {
		return false, c.failed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.users[assetID+"/"+userID], nil
}

func (c *countingLookup) HasRoleGrant(ctx context.Context, assetID string, role assets.Role) (bool, error) {
	atomic.AddInt32(&c.calls, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roles[assetID+"/"+string(role)], nil
}

func (c *countingLookup) GrantsForAsset(ctx context.Context, assetID string) ([]*assets.ShareGrant, error) {
	return nil, nil
}

func (c *countingLookup) GrantsForUser(ctx context.Context, userID string) ([]*assets.ShareGrant, error) {
	return nil, nil
}

func (c *countingLookup) set(key string, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[key] = v
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCachedDirectory_L1(t *testing.T) {
	src := &countingLookup{users: map[string]bool{"a1/u1": true}, roles: map[string]bool{"a1/seo_specialist": true}}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := NewCachedDirectory(src, nil, CacheConfig{}, metrics)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.HasUserGrant(ctx, "a1", "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.HasRoleGrant(ctx, "a1", assets.RoleSeoSpecialist)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasUserGrant(ctx, "a1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(3), atomic.LoadInt32(&src.calls))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.GrantCacheLookupsTotal.WithLabelValues("l1", "hit")))
}

func TestCachedDirectory_L2(t *testing.T) {
	mr, client := newRedis(t)
	src := &countingLookup{users: map[string]bool{"a1/u1": true}}
	ctx := context.Background()

	first := NewCachedDirectory(src, client, CacheConfig{L2TTL: time.Minute}, nil)
	ok, err := first.HasUserGrant(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "1", mr.HGet(redisKey("a1"), userField("u1")))
	assert.True(t, mr.TTL(redisKey("a1")) > 0)

	// a second process shares L2 but not L1
	second := NewCachedDirectory(src, client, CacheConfig{}, nil)
	ok, err = second.HasUserGrant(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
}

func TestCachedDirectory_Invalidate(t *testing.T) {
	mr, client := newRedis(t)
	src := &countingLookup{users: map[string]bool{}}
	c := NewCachedDirectory(src, client, CacheConfig{}, nil)
	ctx := context.Background()

	ok, err := c.HasUserGrant(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = c.HasUserGrant(ctx, "a2", "u1")
	require.NoError(t, err)

	src.set("a1/u1", true)
	require.NoError(t, c.Invalidate(ctx, "a1"))
	assert.False(t, mr.Exists(redisKey("a1")))
	assert.True(t, mr.Exists(redisKey("a2")))

	ok, err = c.HasUserGrant(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCachedDirectory_SingleflightCollapsesMisses(t *testing.T) {
	src := &countingLookup{users: map[string]bool{"a1/u1": true}, delay: 50 * time.Millisecond}
	c := NewCachedDirectory(src, nil, CacheConfig{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.HasUserGrant(context.Background(), "a1", "u1")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
}

func TestCachedDirectory_ErrorsAreNotCached(t *testing.T) {
	src := &countingLookup{users: map[string]bool{}, failed: errors.New("db down")}
	c := NewCachedDirectory(src, nil, CacheConfig{}, nil)

	_, err := c.HasUserGrant(context.Background(), "a1", "u1")
	require.Error(t, err)

	src.failed = nil
	ok, err := c.HasUserGrant(context.Background(), "a1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}

func TestCachedDirectory_RedisDownFallsBack(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	src := &countingLookup{users: map[string]bool{"a1/u1": true}}
	c := NewCachedDirectory(src, client, CacheConfig{}, nil)

	ok, err := c.HasUserGrant(context.Background(), "a1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

// pausingLookup reads the grant, then waits for release before answering
type pausingLookup struct {
	*countingLookup
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newPausingLookup(users map[string]bool) *pausingLookup {
	return &pausingLookup{
		countingLookup: &countingLookup{users: users},
		started:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (p *pausingLookup) HasUserGrant(ctx context.Context, assetID, userID string) (bool, error) {
	v, err := p.countingLookup.HasUserGrant(ctx, assetID, userID)
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.started)
		<-p.release
	}
	return v, err
}

func TestCachedDirectory_InvalidateDuringLoadIsNotCached(t *testing.T) {
	mr, client := newRedis(t)
	src := newPausingLookup(map[string]bool{"a1/u1": true})
	c := NewCachedDirectory(src, client, CacheConfig{}, nil)
	ctx := context.Background()

	result := make(chan bool, 1)
	go func() {
		ok, err := c.HasUserGrant(ctx, "a1", "u1")
		assert.NoError(t, err)
		result <- ok
	}()

	<-src.started
	src.set("a1/u1", false)
	require.NoError(t, c.Invalidate(ctx, "a1"))
	close(src.release)

	// the overlapping caller still gets the answer it read
	assert.True(t, <-result)
	assert.False(t, mr.Exists(redisKey("a1")))

	ok, err := c.HasUserGrant(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
	assert.Equal(t, "0", mr.HGet(redisKey("a1"), userField("u1")))
}

func TestCachedDirectory_InvalidateFromAnotherProcess(t *testing.T) {
	mr, client := newRedis(t)
	src := newPausingLookup(map[string]bool{"a1/u1": true})
	reader := NewCachedDirectory(src, client, CacheConfig{}, nil)
	writer := NewCachedDirectory(src, client, CacheConfig{}, nil)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := reader.HasUserGrant(ctx, "a1", "u1")
		assert.NoError(t, err)
	}()

	<-src.started
	src.set("a1/u1", false)
	require.NoError(t, writer.Invalidate(ctx, "a1"))
	close(src.release)
	<-done

	assert.False(t, mr.Exists(redisKey("a1")), "stale answer must not reach L2")
	gen, err := mr.Get(generationKey("a1"))
	require.NoError(t, err)
	assert.Equal(t, "1", gen)

	for _, c := range []*CachedDirectory{reader, writer} {
		ok, err := c.HasUserGrant(ctx, "a1", "u1")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestCachedDirectory_InvalidateStartsNewFlight(t *testing.T) {
	src := newPausingLookup(map[string]bool{"a1/u1": true})
	c := NewCachedDirectory(src, nil, CacheConfig{}, nil)
	ctx := context.Background()

	go func() {
		_, _ = c.HasUserGrant(ctx, "a1", "u1")
	}()
	<-src.started

	src.set("a1/u1", false)
	require.NoError(t, c.Invalidate(ctx, "a1"))

	// a caller after the invalidation does not wait on the paused read
	ok, err := c.HasUserGrant(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	close(src.release)
}
