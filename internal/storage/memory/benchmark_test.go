package memory

import (
	"context"
	"fmt"
	"testing"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/mapfile"
)

func BenchmarkMemoryStore_SaveAliases(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.SaveAliases(ctx, []domain.AliasRecord{{
			Pattern:     fmt.Sprintf("user%d@example.com", i),
			Destination: "root",
			Description: "bench",
		}})
	}
}

func BenchmarkMemoryStore_ListAndRender(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	// 预先填充数据
	records := make([]domain.AliasRecord, 0, 1000)
	for i := 0; i < 1000; i++ {
		records = append(records, domain.AliasRecord{
			Pattern:     fmt.Sprintf("user%d@example.com", i),
			Destination: "root",
			Description: fmt.Sprintf("alias %d", i),
			Blocked:     i%10 == 0,
		})
	}
	store.SaveAliases(ctx, records)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		list, _ := store.ListAliases(ctx)
		mapfile.Render(list)
	}
}
