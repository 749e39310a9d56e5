package memory

import (
	"context"
	"fmt"
	"sync"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage"
)

// Store 使用内存保存别名记录，主要用于开发验证和测试。
type Store struct {
	mu      sync.RWMutex
	aliases map[string]*domain.AliasRecord // aliasID -> alias
	order   []string                       // 插入顺序
	closed  bool
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		aliases: make(map[string]*domain.AliasRecord),
	}
}

// NewStoreWithAliases 创建带初始数据的内存存储
func NewStoreWithAliases(records []domain.AliasRecord) (*Store, error) {
	s := NewStore()
	if _, err := s.SaveAliases(context.Background(), records); err != nil {
		return nil, err
	}
	return s, nil
}

// ListAliases 按插入顺序返回全部记录
func (s *Store) ListAliases(ctx context.Context) ([]domain.AliasRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	result := make([]domain.AliasRecord, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, *s.aliases[id])
	}
	return result, nil
}

// SaveAliases 原子保存一批记录
func (s *Store) SaveAliases(ctx context.Context, records []domain.AliasRecord) ([]domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	// 先检查全部 ID，保证整批要么全部写入要么全部不写
	for _, record := range records {
		if record.ID == "" {
			continue
		}
		if _, ok := s.aliases[record.ID]; !ok {
			return nil, fmt.Errorf("%w: %s", storage.ErrAliasNotFound, record.ID)
		}
	}

	saved := make([]domain.AliasRecord, 0, len(records))
	for _, record := range records {
		if record.ID == "" {
			record.ID = storage.NewID()
			s.order = append(s.order, record.ID)
		}
		stored := record
		s.aliases[record.ID] = &stored
		saved = append(saved, record)
	}

	return saved, nil
}

// DeleteAlias 按 ID 删除
func (s *Store) DeleteAlias(ctx context.Context, id string) (domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.AliasRecord{}, storage.ErrStoreClosed
	}

	record, ok := s.aliases[id]
	if !ok {
		return domain.AliasRecord{}, fmt.Errorf("%w: %s", storage.ErrAliasNotFound, id)
	}

	deleted := *record
	s.remove(id)
	return deleted, nil
}

// DeleteAliasesByPattern 删除所有模式相同的记录
func (s *Store) DeleteAliasesByPattern(ctx context.Context, pattern string) ([]domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	var deleted []domain.AliasRecord
	for _, id := range append([]string(nil), s.order...) {
		if record := s.aliases[id]; record.Pattern == pattern {
			deleted = append(deleted, *record)
			s.remove(id)
		}
	}

	if len(deleted) == 0 {
		return nil, fmt.Errorf("%w: pattern %s", storage.ErrAliasNotFound, pattern)
	}
	return deleted, nil
}

// remove 调用方需持有写锁
func (s *Store) remove(id string) {
	delete(s.aliases, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Health 内存存储始终健康（关闭后除外）
func (s *Store) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	return nil
}

// Close 关闭存储
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
