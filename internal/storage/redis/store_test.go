package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailalias/backend/internal/config"
	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage"
	"mailalias/backend/internal/storage/storagetest"
)

func newTestClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return rdb, mr
}

func TestRedisStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		rdb, _ := newTestClient(t)
		return NewStore(rdb, "test")
	})
}

func TestRedisStore_Layout(t *testing.T) {
	ctx := context.Background()
	rdb, mr := newTestClient(t)
	s := NewStore(rdb, "layout")

	saved, err := s.SaveAliases(ctx, []domain.AliasRecord{
		storagetest.Sample("a@x.com", false),
		storagetest.Sample("b@x.com", false),
	})
	require.NoError(t, err)

	assert.True(t, mr.Exists("layout:aliases"))
	assert.True(t, mr.Exists("layout:order"))
	seq, err := mr.Get("layout:seq")
	require.NoError(t, err)
	assert.Equal(t, "2", seq)

	members, err := mr.ZMembers("layout:order")
	require.NoError(t, err)
	assert.Equal(t, []string{saved[0].ID, saved[1].ID}, members)
}

func TestRedisStore_Unavailable(t *testing.T) {
	rdb, mr := newTestClient(t)
	s := NewStore(rdb, "down")
	mr.Close()

	assert.Error(t, s.Health())
	_, err := s.ListAliases(context.Background())
	assert.Error(t, err)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	rdb, mr := newTestClient(t)
	cache := NewCache(rdb, "cache", time.Minute)

	_, err := cache.GetCachedAliases(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	records := []domain.AliasRecord{storagetest.Sample("a@x.com", false)}
	records[0].ID = "id-1"
	require.NoError(t, cache.CacheAliases(ctx, 0, records))

	cached, err := cache.GetCachedAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, cached)

	mr.FastForward(2 * time.Minute)
	_, err = cache.GetCachedAliases(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.CacheAliases(ctx, 0, records))
	require.NoError(t, cache.Invalidate(ctx))
	_, err = cache.GetCachedAliases(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCache_StaleSnapshotRejected(t *testing.T) {
	ctx := context.Background()
	rdb, _ := newTestClient(t)
	cache := NewCache(rdb, "cache", time.Minute)

	old := []domain.AliasRecord{storagetest.Sample("a@x.com", false)}

	// 读者先取代数，随后写者提交并失效
	generation, err := cache.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx))

	err = cache.CacheAliases(ctx, generation, old)
	assert.ErrorIs(t, err, ErrStaleSnapshot)
	_, err = cache.GetCachedAliases(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	current, err := cache.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, generation+1, current)
	require.NoError(t, cache.CacheAliases(ctx, current, old))
	cached, err := cache.GetCachedAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, old, cached)
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(&config.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	assert.NoError(t, client.Ping(context.Background()))
	assert.NotNil(t, client.Client())
	assert.NoError(t, client.Close())

	_, err = New(&config.RedisConfig{Address: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}
