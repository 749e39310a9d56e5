package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/service"
)

// 客户端请求类型
const (
	OpInitialise = "alias:initialise"
	OpSave       = "aliases:save"
	OpRead       = "aliases:read"
	OpDelete     = "aliases:delete"
	OpReload     = "aliases:reload"
)

// 服务端消息类型
const (
	TypeInitialise = "initialise"
	TypeResult     = "result"
	TypeUpdated    = "aliases:updated"
	TypeError      = "error"
)

// 操作结果，用于指标
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeReloadError = "reload_error"
)

// Request 客户端请求帧
type Request struct {
	Type      string               `json:"type"`
	Reference json.RawMessage      `json:"reference,omitempty"`
	Aliases   []domain.AliasRecord `json:"aliases,omitempty"`
	ID        string               `json:"id,omitempty"`
	Filter    string               `json:"filter,omitempty"`
}

// HasReference 请求是否带有关联标识
func (r *Request) HasReference() bool {
	ref := bytes.TrimSpace(r.Reference)
	return len(ref) > 0 && !bytes.Equal(ref, []byte("null"))
}

// Response 服务端响应帧
//
// Reference 原样回传请求中的值。
type Response struct {
	Type        string            `json:"type"`
	Reference   json.RawMessage   `json:"reference,omitempty"`
	Result      interface{}       `json:"result,omitempty"`
	Options     *service.Defaults `json:"options,omitempty"`
	Error       string            `json:"error,omitempty"`
	Errors      []string          `json:"errors,omitempty"`
	ReloadError string            `json:"reloadError,omitempty"`
}

// AliasHandler 协议操作的业务实现
type AliasHandler interface {
	Initialise(ctx context.Context) (*service.Snapshot, error)
	List(ctx context.Context) ([]domain.AliasRecord, error)
	Save(ctx context.Context, input service.SaveInput) (*service.SaveResult, error)
	Delete(ctx context.Context, input service.DeleteInput) (*service.DeleteResult, error)
	Reload(ctx context.Context) ([]domain.AliasRecord, error)
}

// ErrUnknownOperation 未知请求类型
var ErrUnknownOperation = errors.New("unknown operation")

// Dispatcher 执行请求并生成关联响应
type Dispatcher struct {
	handler AliasHandler
	log     *zap.Logger
}

// NewDispatcher 创建请求分发器
func NewDispatcher(handler AliasHandler, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{handler: handler, log: log}
}

// Dispatch 执行一个请求，返回响应和结果分类
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, string) {
	switch req.Type {
	case OpInitialise:
		snapshot, err := d.handler.Initialise(ctx)
		if err != nil {
			return d.failure(TypeInitialise, req, err), OutcomeError
		}
		defaults := snapshot.Defaults
		return &Response{
			Type:      TypeInitialise,
			Reference: req.Reference,
			Result:    nonNil(snapshot.Aliases),
			Options:   &defaults,
		}, OutcomeOK

	case OpRead:
		records, err := d.handler.List(ctx)
		if err != nil {
			return d.failure(TypeResult, req, err), OutcomeError
		}
		return d.result(req, nonNil(records)), OutcomeOK

	case OpSave:
		result, err := d.handler.Save(ctx, service.SaveInput{Aliases: req.Aliases, ReplaceID: req.ID})
		if err != nil {
			return d.failure(TypeResult, req, err), OutcomeError
		}
		var payload interface{} = len(result.Saved)
		if len(result.Saved) == 1 {
			payload = result.Saved[0].Pattern
		}
		return d.withReloadError(d.result(req, payload), result.ReloadErr)

	case OpDelete:
		result, err := d.handler.Delete(ctx, service.DeleteInput{ID: req.ID, Filter: req.Filter})
		if err != nil {
			return d.failure(TypeResult, req, err), OutcomeError
		}
		return d.withReloadError(d.result(req, len(result.Deleted)), result.ReloadErr)

	case OpReload:
		records, err := d.handler.Reload(ctx)
		if err != nil {
			return d.failure(TypeResult, req, err), OutcomeError
		}
		return d.result(req, nonNil(records)), OutcomeOK

	default:
		return &Response{
			Type:      TypeError,
			Reference: req.Reference,
			Error:     fmt.Sprintf("%v: %q", ErrUnknownOperation, req.Type),
		}, OutcomeError
	}
}

func (d *Dispatcher) result(req *Request, payload interface{}) *Response {
	return &Response{Type: TypeResult, Reference: req.Reference, Result: payload}
}

func (d *Dispatcher) withReloadError(resp *Response, reloadErr error) (*Response, string) {
	if reloadErr == nil {
		return resp, OutcomeOK
	}
	resp.ReloadError = reloadErr.Error()
	return resp, OutcomeReloadError
}

func (d *Dispatcher) failure(msgType string, req *Request, err error) *Response {
	resp := &Response{
		Type:      msgType,
		Reference: req.Reference,
		Error:     err.Error(),
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		resp.Errors = validationErr.Lines()
	} else {
		d.log.Warn("operation failed", zap.String("type", req.Type), zap.Error(err))
	}
	return resp
}

func nonNil(records []domain.AliasRecord) []domain.AliasRecord {
	if records == nil {
		return []domain.AliasRecord{}
	}
	return records
}
