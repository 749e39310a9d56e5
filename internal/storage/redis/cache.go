package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailalias/backend/internal/domain"
)

var (
	// ErrCacheMiss 缓存未命中
	ErrCacheMiss = errors.New("cache miss")
	// ErrStaleSnapshot 读取快照期间缓存已被失效，快照不再写入
	ErrStaleSnapshot = errors.New("stale snapshot")
)

// Cache 别名快照缓存
//
// 每次失效递增代数键；写入快照时 WATCH 代数键，
// 代数与读取数据库前取得的不一致则放弃写入。
type Cache struct {
	client *goredis.Client
	key    string
	genKey string
	ttl    time.Duration
}

// NewCache 创建 Redis 缓存实例
func NewCache(client *goredis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "aliasmap"
	}
	return &Cache{
		client: client,
		key:    prefix + ":snapshot",
		genKey: prefix + ":generation",
		ttl:    ttl,
	}
}

// Generation 返回当前缓存代数，需在读取数据库之前调用
func (c *Cache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return gen, err
}

// CacheAliases 缓存完整记录列表
//
// generation 为读取 records 之前取得的代数；期间发生过失效时返回 ErrStaleSnapshot。
func (c *Cache) CacheAliases(ctx context.Context, generation int64, records []domain.AliasRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	err = c.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, c.genKey).Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if current != generation {
			return ErrStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, c.key, data, c.ttl)
			return nil
		})
		return err
	}, c.genKey)

	if errors.Is(err, goredis.TxFailedErr) {
		return ErrStaleSnapshot
	}
	return err
}

// GetCachedAliases 获取缓存的记录列表
func (c *Cache) GetCachedAliases(ctx context.Context) ([]domain.AliasRecord, error) {
	data, err := c.client.Get(ctx, c.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var records []domain.AliasRecord
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, fmt.Errorf("failed to decode cached aliases: %w", err)
	}
	return records, nil
}

// Invalidate 递增代数并删除缓存
func (c *Cache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	return err
}

// Ping 测试连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *Cache) Close() error {
	return c.client.Close()
}
