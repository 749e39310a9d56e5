// Package storagetest 提供所有存储实现共用的契约测试。
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage"
)

// Factory 为每个子测试创建一个空存储
type Factory func(t *testing.T) storage.Store

// Sample 测试用记录
func Sample(pattern string, blocked bool) domain.AliasRecord {
	return domain.AliasRecord{
		Pattern:     pattern,
		Destination: "dest@example.com",
		Description: "desc " + pattern,
		Blocked:     blocked,
	}
}

// Run 执行存储契约测试
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("空存储", func(t *testing.T) {
		s := newStore(t)
		records, err := s.ListAliases(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.NoError(t, s.Health())
	})

	t.Run("新建分配ID并保持顺序", func(t *testing.T) {
		s := newStore(t)
		saved, err := s.SaveAliases(ctx, []domain.AliasRecord{
			Sample("c@x.com", false),
			Sample("a@x.com", true),
		})
		require.NoError(t, err)
		require.Len(t, saved, 2)
		assert.NotEmpty(t, saved[0].ID)
		assert.NotEmpty(t, saved[1].ID)
		assert.NotEqual(t, saved[0].ID, saved[1].ID)

		more, err := s.SaveAliases(ctx, []domain.AliasRecord{Sample("b@x.com", false)})
		require.NoError(t, err)

		records, err := s.ListAliases(ctx)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []string{"c@x.com", "a@x.com", "b@x.com"}, patterns(records))
		assert.Equal(t, saved[0], records[0])
		assert.Equal(t, saved[1], records[1])
		assert.Equal(t, more[0], records[2])
	})

	t.Run("带ID保存原地替换", func(t *testing.T) {
		s := newStore(t)
		saved, err := s.SaveAliases(ctx, []domain.AliasRecord{
			Sample("a@x.com", false),
			Sample("b@x.com", false),
		})
		require.NoError(t, err)

		updated := saved[0]
		updated.Destination = "other@example.com"
		updated.Blocked = true
		updated.Reason = "gone"
		_, err = s.SaveAliases(ctx, []domain.AliasRecord{updated})
		require.NoError(t, err)

		records, err := s.ListAliases(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, updated, records[0])
		assert.Equal(t, saved[1], records[1])
	})

	t.Run("未知ID整批失败", func(t *testing.T) {
		s := newStore(t)
		_, err := s.SaveAliases(ctx, []domain.AliasRecord{Sample("a@x.com", false)})
		require.NoError(t, err)

		unknown := Sample("b@x.com", false)
		unknown.ID = "does-not-exist"
		_, err = s.SaveAliases(ctx, []domain.AliasRecord{Sample("c@x.com", false), unknown})
		assert.ErrorIs(t, err, storage.ErrAliasNotFound)

		records, err := s.ListAliases(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a@x.com"}, patterns(records))
	})

	t.Run("按ID删除", func(t *testing.T) {
		s := newStore(t)
		saved, err := s.SaveAliases(ctx, []domain.AliasRecord{
			Sample("a@x.com", false),
			Sample("b@x.com", true),
		})
		require.NoError(t, err)

		deleted, err := s.DeleteAlias(ctx, saved[1].ID)
		require.NoError(t, err)
		assert.Equal(t, saved[1], deleted)

		records, err := s.ListAliases(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, saved[0].ID, records[0].ID)

		_, err = s.DeleteAlias(ctx, saved[1].ID)
		assert.ErrorIs(t, err, storage.ErrAliasNotFound)
	})

	t.Run("按模式删除", func(t *testing.T) {
		s := newStore(t)
		_, err := s.SaveAliases(ctx, []domain.AliasRecord{
			Sample("dup@x.com", false),
			Sample("keep@x.com", false),
			Sample("dup@x.com", true),
		})
		require.NoError(t, err)

		deleted, err := s.DeleteAliasesByPattern(ctx, "dup@x.com")
		require.NoError(t, err)
		assert.Len(t, deleted, 2)

		records, err := s.ListAliases(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"keep@x.com"}, patterns(records))

		_, err = s.DeleteAliasesByPattern(ctx, "dup@x.com")
		assert.ErrorIs(t, err, storage.ErrAliasNotFound)
	})

	t.Run("并发保存不丢失不重复", func(t *testing.T) {
		s := newStore(t)
		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.SaveAliases(ctx, []domain.AliasRecord{Sample(fmt.Sprintf("u%d@x.com", i), false)})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		records, err := s.ListAliases(ctx)
		require.NoError(t, err)
		require.Len(t, records, workers)
		ids := make(map[string]bool)
		for _, record := range records {
			ids[record.ID] = true
		}
		assert.Len(t, ids, workers)
	})
}

func patterns(records []domain.AliasRecord) []string {
	out := make([]string, 0, len(records))
	for _, record := range records {
		out = append(out, record.Pattern)
	}
	return out
}
