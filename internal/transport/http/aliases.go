package httptransport

import (
	"github.com/gin-gonic/gin"

	"mailalias/backend/internal/service"
)

// Handler 别名相关的 HTTP 处理器
type Handler struct {
	aliases *service.AliasService
}

// NewHandler 创建处理器
func NewHandler(aliases *service.AliasService) *Handler {
	return &Handler{aliases: aliases}
}

// ListAliases 返回全部记录
func (h *Handler) ListAliases(c *gin.Context) {
	records, err := h.aliases.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, records)
}

// PreviewMaps 返回按当前记录渲染的两个映射文件内容
func (h *Handler) PreviewMaps(c *gin.Context) {
	docs, err := h.aliases.Preview(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{
		"allow": docs.Allow,
		"block": docs.Block,
	})
}

// Reload 重建两个映射文件并执行重载命令
func (h *Handler) Reload(c *gin.Context) {
	records, err := h.aliases.Reload(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"count": len(records)})
}
