package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"mailalias/backend/internal/domain"
)

var (
	// ErrAliasNotFound 别名未找到错误
	ErrAliasNotFound = errors.New("alias not found")
	// ErrStoreClosed 存储已关闭
	ErrStoreClosed = errors.New("store closed")
)

// AliasRepository 定义别名记录的存取操作。
//
// 返回的记录顺序即存储的迭代顺序（按创建顺序，原地更新不改变位置）。
type AliasRepository interface {
	// ListAliases 读取全部记录
	ListAliases(ctx context.Context) ([]domain.AliasRecord, error)
	// SaveAliases 原子保存一批记录：无 ID 的新建，有 ID 的原地替换（ID 不存在时整批失败）
	SaveAliases(ctx context.Context, records []domain.AliasRecord) ([]domain.AliasRecord, error)
	// DeleteAlias 按 ID 删除，返回被删除的记录
	DeleteAlias(ctx context.Context, id string) (domain.AliasRecord, error)
	// DeleteAliasesByPattern 删除模式等于 pattern 的全部记录
	DeleteAliasesByPattern(ctx context.Context, pattern string) ([]domain.AliasRecord, error)
}

// Store 完整存储接口
type Store interface {
	AliasRepository
	Health() error
	Close() error
}

// NewID 生成记录 ID（UUIDv7，按时间有序）
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
