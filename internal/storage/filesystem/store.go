package filesystem

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage"
)

// documentVersion 数据文件格式版本
const documentVersion = 1

// document 数据文件结构
type document struct {
	Version int                  `json:"version"`
	Aliases []domain.AliasRecord `json:"aliases"`
}

// Store 基于单个 JSON 文件的别名存储
//
// 所有记录保存在内存中，每次修改后整体原子写回文件。
type Store struct {
	path          string
	platformUtils *PlatformUtils

	mu      sync.RWMutex
	records []domain.AliasRecord
	digest  [sha256.Size]byte // 最近一次读写的文件内容摘要
}

// NewStore 创建文件存储实例，文件不存在时创建空文件
func NewStore(path string) (*Store, error) {
	platformUtils := NewPlatformUtils()

	if err := platformUtils.ValidatePath(path); err != nil {
		return nil, fmt.Errorf("invalid store path: %w", err)
	}

	normalizedPath := platformUtils.NormalizePath(path)
	if err := os.MkdirAll(filepath.Dir(normalizedPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{
		path:          normalizedPath,
		platformUtils: platformUtils,
	}

	if _, err := os.Stat(normalizedPath); errors.Is(err, os.ErrNotExist) {
		if err := s.persist(nil); err != nil {
			return nil, err
		}
		return s, nil
	}

	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path 返回数据文件路径
func (s *Store) Path() string {
	return s.path
}

// Reload 从磁盘重新读取数据文件
//
// 读取与比较在写锁内完成，避免与并发保存交错后用旧内容覆盖内存状态。
// 文件中缺少 ID 的记录分配 ID 后立即写回，保证 ID 稳定。
//
// 返回值:
//   - bool: 文件内容是否与上次读写时不同
//   - error: 读取或解析失败
func (s *Store) Reload() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("failed to read store file: %w", err)
	}

	sum := sha256.Sum256(content)
	if sum == s.digest && s.records != nil {
		return false, nil
	}

	records, assigned, err := decode(content)
	if err != nil {
		return false, err
	}

	if assigned {
		if err := s.persist(records); err != nil {
			return false, err
		}
		return true, nil
	}

	s.records = records
	s.digest = sum
	return true, nil
}

// ListAliases 返回全部记录
func (s *Store) ListAliases(ctx context.Context) ([]domain.AliasRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AliasRecord, len(s.records))
	copy(result, s.records)
	return result, nil
}

// SaveAliases 原子保存一批记录
func (s *Store) SaveAliases(ctx context.Context, records []domain.AliasRecord) ([]domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.AliasRecord, len(s.records))
	copy(next, s.records)

	index := make(map[string]int, len(next))
	for i, record := range next {
		index[record.ID] = i
	}

	saved := make([]domain.AliasRecord, 0, len(records))
	for _, record := range records {
		if record.ID == "" {
			record.ID = storage.NewID()
			index[record.ID] = len(next)
			next = append(next, record)
		} else {
			i, ok := index[record.ID]
			if !ok {
				return nil, fmt.Errorf("%w: %s", storage.ErrAliasNotFound, record.ID)
			}
			next[i] = record
		}
		saved = append(saved, record)
	}

	if err := s.persist(next); err != nil {
		return nil, err
	}
	return saved, nil
}

// DeleteAlias 按 ID 删除
func (s *Store) DeleteAlias(ctx context.Context, id string) (domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, record := range s.records {
		if record.ID != id {
			continue
		}

		next := make([]domain.AliasRecord, 0, len(s.records)-1)
		next = append(next, s.records[:i]...)
		next = append(next, s.records[i+1:]...)
		if err := s.persist(next); err != nil {
			return domain.AliasRecord{}, err
		}
		return record, nil
	}

	return domain.AliasRecord{}, fmt.Errorf("%w: %s", storage.ErrAliasNotFound, id)
}

// DeleteAliasesByPattern 删除所有模式相同的记录
func (s *Store) DeleteAliasesByPattern(ctx context.Context, pattern string) ([]domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []domain.AliasRecord
	next := make([]domain.AliasRecord, 0, len(s.records))
	for _, record := range s.records {
		if record.Pattern == pattern {
			deleted = append(deleted, record)
			continue
		}
		next = append(next, record)
	}

	if len(deleted) == 0 {
		return nil, fmt.Errorf("%w: pattern %s", storage.ErrAliasNotFound, pattern)
	}

	if err := s.persist(next); err != nil {
		return nil, err
	}
	return deleted, nil
}

// Health 检查数据文件可写
func (s *Store) Health() error {
	return s.platformUtils.CheckWritable(s.path)
}

// Close 文件存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// persist 写回文件并更新内存状态，调用方需持有写锁
func (s *Store) persist(records []domain.AliasRecord) error {
	if records == nil {
		records = []domain.AliasRecord{}
	}

	content, err := json.MarshalIndent(document{Version: documentVersion, Aliases: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}
	content = append(content, '\n')

	if err := s.platformUtils.WriteFileAtomic(s.path, content, 0644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}

	s.records = records
	s.digest = sha256.Sum256(content)
	return nil
}

// decode 解析数据文件，空文件视为空集合
//
// assigned 表示有记录缺少 ID 并在此分配了新 ID。
func decode(content []byte) (records []domain.AliasRecord, assigned bool, err error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return []domain.AliasRecord{}, false, nil
	}

	var doc document
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to parse store file: %w", err)
	}
	if doc.Version > documentVersion {
		return nil, false, fmt.Errorf("unsupported store file version %d", doc.Version)
	}

	if doc.Aliases == nil {
		doc.Aliases = []domain.AliasRecord{}
	}
	for i, record := range doc.Aliases {
		if record.ID == "" {
			doc.Aliases[i].ID = storage.NewID()
			assigned = true
		}
	}
	return doc.Aliases, assigned, nil
}
