// Package badger 基于 BadgerDB 的嵌入式别名存储。
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	dgbadger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage"
)

const (
	aliasPrefix = "alias:"
	seqKey      = "meta:seq"
)

// Config Badger 存储配置
type Config struct {
	Path     string
	InMemory bool
	Logger   *zap.Logger
}

// entry 存储的值，Seq 决定迭代顺序
type entry struct {
	Seq    uint64             `json:"seq"`
	Record domain.AliasRecord `json:"record"`
}

// Store Badger 别名存储
type Store struct {
	db *dgbadger.DB
	mu sync.Mutex // 单写者
}

// zapLogger 将 zap 适配为 Badger 的日志接口
type zapLogger struct {
	log *zap.SugaredLogger
}

func (l *zapLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *zapLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})    { l.log.Infof(format, args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// Open 打开 Badger 数据库
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&zapLogger{log: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// ListAliases 按 seq 顺序返回全部记录
func (s *Store) ListAliases(ctx context.Context) ([]domain.AliasRecord, error) {
	var entries []entry
	err := s.db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(aliasPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	records := make([]domain.AliasRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.Record)
	}
	return records, nil
}

// SaveAliases 在单个事务中保存整批记录
func (s *Store) SaveAliases(ctx context.Context, records []domain.AliasRecord) ([]domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := make([]domain.AliasRecord, 0, len(records))
	err := s.db.Update(func(txn *dgbadger.Txn) error {
		seq, err := readSeq(txn)
		if err != nil {
			return err
		}

		for _, record := range records {
			e := entry{Record: record}
			if record.ID == "" {
				seq++
				e.Seq = seq
				e.Record.ID = storage.NewID()
			} else {
				existing, err := readEntry(txn, record.ID)
				if err != nil {
					return err
				}
				e.Seq = existing.Seq
			}

			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := txn.Set(aliasKey(e.Record.ID), data); err != nil {
				return err
			}
			saved = append(saved, e.Record)
		}

		return txn.Set([]byte(seqKey), encodeSeq(seq))
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// DeleteAlias 按 ID 删除
func (s *Store) DeleteAlias(ctx context.Context, id string) (domain.AliasRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted domain.AliasRecord
	err := s.db.Update(func(txn *dgbadger.Txn) error {
		e, err := readEntry(txn, id)
		if err != nil {
			return err
		}
		deleted = e.Record
		return txn.Delete(aliasKey(id))
	})
	if err != nil {
		return domain.AliasRecord{}, err
	}
	return deleted, nil
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
	err = s.db.Update(func(txn *dgbadger.Txn) error {
		for _, record := range records {
			if record.Pattern != pattern {
				continue
			}
			if err := txn.Delete(aliasKey(record.ID)); err != nil {
				return err
			}
			deleted = append(deleted, record)
		}
		if len(deleted) == 0 {
			return fmt.Errorf("%w: pattern %s", storage.ErrAliasNotFound, pattern)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Health 检查数据库是否已关闭
func (s *Store) Health() error {
	if s.db.IsClosed() {
		return storage.ErrStoreClosed
	}
	return nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

func aliasKey(id string) []byte {
	return []byte(aliasPrefix + id)
}

func readEntry(txn *dgbadger.Txn, id string) (entry, error) {
	var e entry
	item, err := txn.Get(aliasKey(id))
	if err != nil {
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return e, fmt.Errorf("%w: %s", storage.ErrAliasNotFound, id)
		}
		return e, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	return e, err
}

func readSeq(txn *dgbadger.Txn) (uint64, error) {
	item, err := txn.Get([]byte(seqKey))
	if err != nil {
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence value")
		}
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
