package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/service"
)

// MockHandler 模拟业务处理
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Initialise(ctx context.Context) (*service.Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Snapshot), args.Error(1)
}

func (m *MockHandler) List(ctx context.Context) ([]domain.AliasRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AliasRecord), args.Error(1)
}

func (m *MockHandler) Save(ctx context.Context, input service.SaveInput) (*service.SaveResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SaveResult), args.Error(1)
}

func (m *MockHandler) Delete(ctx context.Context, input service.DeleteInput) (*service.DeleteResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DeleteResult), args.Error(1)
}

func (m *MockHandler) Reload(ctx context.Context) ([]domain.AliasRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AliasRecord), args.Error(1)
}

func encode(t *testing.T, resp *Response) map[string]interface{} {
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestRequest_HasReference(t *testing.T) {
	tests := []struct {
		frame string
		want  bool
	}{
		{`{"type":"aliases:read","reference":1}`, true},
		{`{"type":"aliases:read","reference":"abc"}`, true},
		{`{"type":"aliases:read","reference":{"row":[1,2]}}`, true},
		{`{"type":"aliases:read","reference":null}`, false},
		{`{"type":"aliases:read"}`, false},
	}
	for _, tt := range tests {
		var req Request
		require.NoError(t, json.Unmarshal([]byte(tt.frame), &req))
		assert.Equal(t, tt.want, req.HasReference(), tt.frame)
	}
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	records := []domain.AliasRecord{{ID: "1", Pattern: "a@x.com", Destination: "u", Description: "d"}}
	ref := json.RawMessage(`{"rows":[3]}`)

	t.Run("initialise", func(t *testing.T) {
		h := new(MockHandler)
		h.On("Initialise", ctx).Return(&service.Snapshot{
			Aliases:  records,
			Defaults: service.Defaults{DefaultUser: "me", DefaultDomain: "x.com"},
		}, nil)

		resp, outcome := NewDispatcher(h, nil).Dispatch(ctx, &Request{Type: OpInitialise, Reference: ref})
		assert.Equal(t, OutcomeOK, outcome)

		out := encode(t, resp)
		assert.Equal(t, "initialise", out["type"])
		assert.Equal(t, map[string]interface{}{"rows": []interface{}{3.0}}, out["reference"])
		assert.Len(t, out["result"], 1)
		assert.Equal(t, map[string]interface{}{"defaultUser": "me", "defaultDomain": "x.com"}, out["options"])
	})

	t.Run("read 空列表返回空数组", func(t *testing.T) {
		h := new(MockHandler)
		h.On("List", ctx).Return(nil, nil)

		resp, _ := NewDispatcher(h, nil).Dispatch(ctx, &Request{Type: OpRead, Reference: ref})
		out := encode(t, resp)
		assert.Equal(t, "result", out["type"])
		assert.Equal(t, []interface{}{}, out["result"])
	})

	t.Run("save 单条返回别名", func(t *testing.T) {
		h := new(MockHandler)
		h.On("Save", ctx, service.SaveInput{Aliases: records, ReplaceID: "old"}).
			Return(&service.SaveResult{Saved: records}, nil)

		resp, outcome := NewDispatcher(h, nil).Dispatch(ctx, &Request{Type: OpSave, Reference: ref, Aliases: records, ID: "old"})
		assert.Equal(t, OutcomeOK, outcome)
		assert.Equal(t, "a@x.com", resp.Result)
	})

	t.Run("save 多条返回数量并附带重载错误", func(t *testing.T) {
		h := new(MockHandler)
		two := append(append([]domain.AliasRecord{}, records...), records...)
		h.On("Save", ctx, mock.Anything).Return(&service.SaveResult{
			Saved:     two,
			ReloadErr: &domain.CommandError{Command: "postmap", Err: errors.New("exit status 1")},
		}, nil)

		resp, outcome := NewDispatcher(h, nil).Dispatch(ctx, &Request{Type: OpSave, Reference: ref, Aliases: two})
		assert.Equal(t, OutcomeReloadError, outcome)
		assert.Equal(t, 2, resp.Result)
		assert.Empty(t, resp.Error)
		assert.Contains(t, resp.ReloadError, "postmap")
	})

	t.Run("save 校验失败列出全部问题", func(t *testing.T) {
		h := new(MockHandler)
		h.On("Save", ctx, mock.Anything).Return(nil, &domain.ValidationError{Records: []domain.RecordProblem{
			{Index: 1, Problems: []string{domain.MsgPatternRequired}},
			{Index: 2, Pattern: "a@b.com", Problems: []string{domain.MsgIllegalDestination}},
		}})

		resp, outcome := NewDispatcher(h, nil).Dispatch(ctx, &Request{Type: OpSave, Reference: ref})
		assert.Equal(t, OutcomeError, outcome)
		assert.Equal(t, TypeResult, resp.Type)
		assert.Len(t, resp.Errors, 2)
		assert.Nil(t, resp.Result)
		assert.Equal(t, ref, resp.Reference)
	})

	t.Run("delete 返回删除数量", func(t *testing.T) {
		h := new(MockHandler)
		h.On("Delete", ctx, service.DeleteInput{Filter: "a@x.com"}).
			Return(&service.DeleteResult{Deleted: records}, nil)

		resp, _ := NewDispatcher(h, nil).Dispatch(ctx, &Request{Type: OpDelete, Reference: ref, Filter: "a@x.com"})
		assert.Equal(t, 1, resp.Result)
	})

	t.Run("reload 失败", func(t *testing.T) {
		h := new(MockHandler)
		h.On("Reload", ctx).Return(nil, &domain.FileWriteError{Path: "/maps/allow", Err: errors.New("denied")})

		resp, outcome := NewDispatcher(h, nil).Dispatch(ctx, &Request{Type: OpReload, Reference: ref})
		assert.Equal(t, OutcomeError, outcome)
		assert.Contains(t, resp.Error, "/maps/allow")
	})

	t.Run("未知类型", func(t *testing.T) {
		resp, outcome := NewDispatcher(new(MockHandler), nil).Dispatch(ctx, &Request{Type: "aliases:explode", Reference: ref})
		assert.Equal(t, OutcomeError, outcome)
		assert.Equal(t, TypeError, resp.Type)
		assert.Contains(t, resp.Error, "aliases:explode")
	})
}
