package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage"
	"mailalias/backend/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return NewStore()
	})
}

func TestMemoryStore_Seeded(t *testing.T) {
	s, err := NewStoreWithAliases([]domain.AliasRecord{
		storagetest.Sample("a@x.com", false),
		storagetest.Sample("b@x.com", true),
	})
	require.NoError(t, err)

	records, err := s.ListAliases(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Close())

	_, err := s.ListAliases(context.Background())
	assert.ErrorIs(t, err, storage.ErrStoreClosed)
	assert.ErrorIs(t, s.Health(), storage.ErrStoreClosed)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	saved, err := s.SaveAliases(ctx, []domain.AliasRecord{storagetest.Sample("a@x.com", false)})
	require.NoError(t, err)

	records, err := s.ListAliases(ctx)
	require.NoError(t, err)
	records[0].Destination = "mutated"

	again, err := s.ListAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved[0], again[0])
}
