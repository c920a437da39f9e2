package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetvault/pkg/storage"
)

func TestRedisOptions(t *testing.T) {
	t.Run("url values", func(t *testing.T) {
		opts, err := RedisOptions(storage.Config{RedisURL: "redis://:secret@cache:6380/2"})
		require.NoError(t, err)
		assert.Equal(t, "cache:6380", opts.Addr)
		assert.Equal(t, "secret", opts.Password)
		assert.Equal(t, 2, opts.DB)
		assert.Equal(t, time.Second, opts.ReadTimeout)
	})

	t.Run("explicit settings win", func(t *testing.T) {
		opts, err := RedisOptions(storage.Config{
			RedisURL:        "redis://:secret@cache:6380/2",
			RedisPassword:   "override",
			RedisDB:         5,
			RedisMaxRetries: 7,
			RedisPoolSize:   3,
		})
		require.NoError(t, err)
		assert.Equal(t, "override", opts.Password)
		assert.Equal(t, 5, opts.DB)
		assert.Equal(t, 7, opts.MaxRetries)
		assert.Equal(t, 3, opts.PoolSize)
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := RedisOptions(storage.Config{RedisURL: "http://cache"})
		assert.ErrorContains(t, err, "invalid redis URL")
	})
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), storage.Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(context.Background(), storage.Config{RedisURL: "redis://" + addr})
	assert.ErrorContains(t, err, "failed to connect to redis")
}
