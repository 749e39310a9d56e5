package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage"
)

// Store 基于 Redis 的别名存储
//
// 数据布局:
//   - <prefix>:aliases  哈希，id -> 记录 JSON
//   - <prefix>:order    有序集合，id 按 seq 排序
//   - <prefix>:seq      seq 计数器
type Store struct {
	rdb    *goredis.Client
	prefix string
	mu     sync.Mutex // 单写者
}

// NewStore 创建 Redis 存储
func NewStore(rdb *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "aliasmap"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) recordsKey() string { return s.prefix + ":aliases" }
func (s *Store) orderKey() string   { return s.prefix + ":order" }
func (s *Store) seqKey() string     { return s.prefix + ":seq" }

// ListAliases 按 seq 顺序返回全部记录
func (s *Store) ListAliases(ctx context.Context) ([]domain.AliasRecord, error) {
	ids, err := s.rdb.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list alias ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.AliasRecord{}, nil
	}

	values, err := s.rdb.HMGet(ctx, s.recordsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}

	records := make([]domain.AliasRecord, 0, len(values))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			// 顺序集合与哈希不一致时跳过
			continue
		}
		var record domain.AliasRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to decode alias %s: %w", ids[i], err)
		}
		records = append(records, record)
	}
	return records, nil
}

// SaveAliases 在一个 MULTI/EXEC 事务中保存整批记录
func (s *Store) SaveAliases(ctx context.Context, records []domain.AliasRecord) ([]domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCount := 0
	for _, record := range records {
		if record.ID == "" {
			newCount++
			continue
		}
		exists, err := s.rdb.HExists(ctx, s.recordsKey(), record.ID).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check alias: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", storage.ErrAliasNotFound, record.ID)
		}
	}

	var seq int64
	if newCount > 0 {
		last, err := s.rdb.IncrBy(ctx, s.seqKey(), int64(newCount)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to allocate sequence: %w", err)
		}
		seq = last - int64(newCount)
	}

	saved := make([]domain.AliasRecord, 0, len(records))
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, record := range records {
			isNew := record.ID == ""
			if isNew {
				record.ID = storage.NewID()
			}

			data, err := json.Marshal(record)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, s.recordsKey(), record.ID, data)
			if isNew {
				seq++
				pipe.ZAdd(ctx, s.orderKey(), goredis.Z{Score: float64(seq), Member: record.ID})
			}
			saved = append(saved, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save aliases: %w", err)
	}
	return saved, nil
}

// DeleteAlias 按 ID 删除
func (s *Store) DeleteAlias(ctx context.Context, id string) (domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.rdb.HGet(ctx, s.recordsKey(), id).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.AliasRecord{}, fmt.Errorf("%w: %s", storage.ErrAliasNotFound, id)
		}
		return domain.AliasRecord{}, fmt.Errorf("failed to load alias: %w", err)
	}

	var record domain.AliasRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return domain.AliasRecord{}, fmt.Errorf("failed to decode alias %s: %w", id, err)
	}

	if err := s.remove(ctx, id); err != nil {
		return domain.AliasRecord{}, err
	}
	return record, nil
}

// DeleteAliasesByPattern 删除所有模式相同的记录
func (s *Store) DeleteAliasesByPattern(ctx context.Context, pattern string) ([]domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.ListAliases(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []domain.AliasRecord
	var ids []string
	for _, record := range records {
		if record.Pattern == pattern {
			deleted = append(deleted, record)
			ids = append(ids, record.ID)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: pattern %s", storage.ErrAliasNotFound, pattern)
	}

	if err := s.remove(ctx, ids...); err != nil {
		return nil, err
	}
	return deleted, nil
}

// remove 调用方需持有写锁
func (s *Store) remove(ctx context.Context, ids ...string) error {
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HDel(ctx, s.recordsKey(), ids...)
		pipe.ZRem(ctx, s.orderKey(), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete aliases: %w", err)
	}
	return nil
}

// Health 检查 Redis 连接
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.rdb.Close()
}
