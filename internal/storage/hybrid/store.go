package hybrid

import (
	"context"
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage"
	"mailalias/backend/internal/storage/redis"
)

// Store 混合存储实现，数据库为准，Redis 缓存完整列表快照
type Store struct {
	db    storage.Store
	cache *redis.Cache
	log   *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(db storage.Store, cache *redis.Cache, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		db:    db,
		cache: cache,
		log:   log,
	}
}

// ListAliases 优先读取缓存快照
func (s *Store) ListAliases(ctx context.Context) ([]domain.AliasRecord, error) {
	// 先尝试从 Redis 获取
	records, err := s.cache.GetCachedAliases(ctx)
	if err == nil {
		return records, nil
	}
	if !errors.Is(err, redis.ErrCacheMiss) {
		s.log.Warn("alias cache read failed", zap.Error(err))
	}

	// 读取数据库之前记下代数，期间有写入时不回填旧快照
	generation, genErr := s.cache.Generation(ctx)

	// 从数据库获取
	records, err = s.db.ListAliases(ctx)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		return records, nil
	}

	// 缓存到 Redis
	if err := s.cache.CacheAliases(ctx, generation, records); err != nil {
		if errors.Is(err, redis.ErrStaleSnapshot) {
			s.log.Debug("alias snapshot changed while loading, not cached")
		} else {
			s.log.Warn("alias cache write failed", zap.Error(err))
		}
	}
	return records, nil
}

// SaveAliases 写入数据库并失效缓存
func (s *Store) SaveAliases(ctx context.Context, records []domain.AliasRecord) ([]domain.AliasRecord, error) {
	saved, err := s.db.SaveAliases(ctx, records)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return saved, nil
}

// DeleteAlias 从数据库删除并失效缓存
func (s *Store) DeleteAlias(ctx context.Context, id string) (domain.AliasRecord, error) {
	deleted, err := s.db.DeleteAlias(ctx, id)
	if err != nil {
		return domain.AliasRecord{}, err
	}
	s.invalidate(ctx)
	return deleted, nil
}

// DeleteAliasesByPattern 从数据库删除并失效缓存
func (s *Store) DeleteAliasesByPattern(ctx context.Context, pattern string) ([]domain.AliasRecord, error) {
	deleted, err := s.db.DeleteAliasesByPattern(ctx, pattern)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return deleted, nil
}

func (s *Store) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn("alias cache invalidation failed", zap.Error(err))
	}
}

// Health 数据库必须可用；缓存不可用只记录日志
func (s *Store) Health() error {
	if err := s.db.Health(); err != nil {
		return err
	}
	if err := s.cache.Ping(context.Background()); err != nil {
		s.log.Warn("alias cache unavailable", zap.Error(err))
	}
	return nil
}

// Close 关闭数据库和缓存连接
func (s *Store) Close() error {
	return multierr.Append(s.db.Close(), s.cache.Close())
}
