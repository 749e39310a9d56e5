package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/service"
	"mailalias/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = []struct {
	err    error
	status int
	msg    string
}{
	{domain.ErrNoAliases, http.StatusBadRequest, MsgNoAliases},
	{service.ErrDeleteTarget, http.StatusBadRequest, MsgDeleteTarget},
	{storage.ErrAliasNotFound, http.StatusNotFound, MsgAliasNotFound},
	{storage.ErrStoreClosed, http.StatusServiceUnavailable, MsgStoreUnavailable},
}

// 通用错误消息
const (
	MsgNoAliases        = "没有需要保存的别名"
	MsgDeleteTarget     = "需要提供 id 或 filter"
	MsgAliasNotFound    = "别名不存在"
	MsgStoreUnavailable = "存储不可用"
	MsgValidationFailed = "别名校验失败"
	MsgStoreFailed      = "读写存储失败"
	MsgMapWriteFailed   = "写入映射文件失败"
	MsgCommandFailed    = "重载命令执行失败"
	MsgInternalError    = "服务器内部错误，请稍后重试"
)

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	_, msg := classify(err)
	return msg
}

// classify 将错误映射为 HTTP 状态码和消息
func classify(err error) (int, string) {
	for _, entry := range errorMessages {
		if errors.Is(err, entry.err) {
			return entry.status, entry.msg
		}
	}

	var (
		validationErr *domain.ValidationError
		fileErr       *domain.FileWriteError
		commandErr    *domain.CommandError
		persistErr    *domain.PersistenceError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, MsgValidationFailed
	case errors.As(err, &commandErr):
		return http.StatusBadGateway, MsgCommandFailed
	case errors.As(err, &fileErr):
		return http.StatusInternalServerError, MsgMapWriteFailed
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, MsgStoreFailed
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 写出错误响应，附带原始错误信息
func respondError(c *gin.Context, err error) {
	status, msg := classify(err)
	_ = c.Error(err)

	data := gin.H{"error": err.Error()}
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		data["errors"] = validationErr.Lines()
	}
	ErrorWithData(c, status, msg, data)
}
