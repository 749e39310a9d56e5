package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage"
	"mailalias/backend/internal/storage/storagetest"
)

func TestBadgerStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(Config{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBadgerStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Path: dir, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	saved, err := s.SaveAliases(ctx, []domain.AliasRecord{
		storagetest.Sample("a@x.com", false),
		storagetest.Sample("b@x.com", true),
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Health(), storage.ErrStoreClosed)

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	records, err := s.ListAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, records)

	more, err := s.SaveAliases(ctx, []domain.AliasRecord{storagetest.Sample("c@x.com", false)})
	require.NoError(t, err)
	records, err = s.ListAliases(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, more[0], records[2])
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
