// Package syncclient 实现同步协议的客户端：分配请求关联标识，跟踪待完成请求，
// 并把服务端结果应用到 rowview 行视图。
package syncclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/rowview"
	"mailalias/backend/internal/service"
	protocol "mailalias/backend/internal/websocket"
)

// ErrNothingToSave 没有可保存的行
var ErrNothingToSave = errors.New("nothing to save")

// Transport 帧收发，*websocket.Conn 满足该接口
type Transport interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// Frame 服务端下发的帧
type Frame struct {
	Type        string            `json:"type"`
	Reference   json.RawMessage   `json:"reference,omitempty"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Options     *service.Defaults `json:"options,omitempty"`
	Error       string            `json:"error,omitempty"`
	Errors      []string          `json:"errors,omitempty"`
	ReloadError string            `json:"reloadError,omitempty"`
}

// RequestError 服务端拒绝了请求
type RequestError struct {
	Op      string
	Message string
	Errors  []string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

// Outcome 一个请求的完成结果
type Outcome struct {
	Op          string
	Reference   int64
	Result      json.RawMessage
	Error       string
	Errors      []string
	ReloadError string
}

// Err 请求失败时返回 *RequestError
func (o *Outcome) Err() error {
	if o.Error == "" {
		return nil
	}
	return &RequestError{Op: o.Op, Message: o.Error, Errors: o.Errors}
}

// Count 删除或批量保存的结果数量
func (o *Outcome) Count() (int, error) {
	var n int
	if err := json.Unmarshal(o.Result, &n); err == nil {
		return n, nil
	}
	// 单条保存的结果是别名字符串
	var alias string
	if err := json.Unmarshal(o.Result, &alias); err != nil {
		return 0, fmt.Errorf("unexpected result %s", o.Result)
	}
	return 1, nil
}

// Records 读取类结果的记录列表
func (o *Outcome) Records() ([]domain.AliasRecord, error) {
	var records []domain.AliasRecord
	if err := json.Unmarshal(o.Result, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

type pendingRequest struct {
	op   string
	keys []rowview.RowKey
	sent []rowview.Fields // 保存请求中每行实际发送的字段，与 keys 对齐
}

// Session 一个客户端同步会话
type Session struct {
	transport Transport
	view      *rowview.View
	log       *zap.Logger

	mu      sync.Mutex
	next    int64
	pending map[int64]pendingRequest
}

// NewSession 创建会话
func NewSession(transport Transport, view *rowview.View, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		transport: transport,
		view:      view,
		log:       log,
		pending:   make(map[int64]pendingRequest),
	}
}

// View 返回会话驱动的行视图
func (s *Session) View() *rowview.View {
	return s.view
}

// Pending 待完成请求数
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Initialise 请求完整记录列表和默认值
func (s *Session) Initialise() (int64, error) {
	return s.send(protocol.Request{Type: protocol.OpInitialise}, pendingRequest{})
}

// Read 请求当前记录列表，结果以增量方式合并
func (s *Session) Read() (int64, error) {
	return s.send(protocol.Request{Type: protocol.OpRead}, pendingRequest{})
}

// Reload 请求服务端重建映射，结果整体替换视图
func (s *Session) Reload() (int64, error) {
	return s.send(protocol.Request{Type: protocol.OpReload}, pendingRequest{})
}

// Save 保存指定的行
func (s *Session) Save(keys ...rowview.RowKey) (int64, error) {
	records := make([]domain.AliasRecord, 0, len(keys))
	sent := make([]rowview.Fields, 0, len(keys))
	for _, key := range keys {
		row, ok := s.view.Get(key)
		if !ok {
			return 0, fmt.Errorf("%w: %d", rowview.ErrRowNotFound, key)
		}
		records = append(records, row.Record())
		sent = append(sent, row.Edit)
	}
	if len(records) == 0 {
		return 0, ErrNothingToSave
	}
	return s.send(protocol.Request{Type: protocol.OpSave, Aliases: records}, pendingRequest{keys: keys, sent: sent})
}

// SaveChanged 保存所有已修改的行
func (s *Session) SaveChanged() (int64, error) {
	rows := s.view.ChangedRows()
	keys := make([]rowview.RowKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.Key)
	}
	return s.Save(keys...)
}

// Delete 删除一行
//
// 未保存的行只在本地删除，返回的关联标识为 0。
func (s *Session) Delete(key rowview.RowKey) (int64, error) {
	row, ok := s.view.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: %d", rowview.ErrRowNotFound, key)
	}
	if row.Unsaved {
		s.view.Remove(key)
		return 0, nil
	}
	return s.send(protocol.Request{Type: protocol.OpDelete, ID: row.ID, Filter: row.Data.Pattern}, pendingRequest{keys: []rowview.RowKey{key}})
}

// DeletePattern 删除模式相同的全部记录
func (s *Session) DeletePattern(pattern string) (int64, error) {
	var keys []rowview.RowKey
	for _, row := range s.view.Rows() {
		if !row.Unsaved && row.Data.Pattern == pattern {
			keys = append(keys, row.Key)
		}
	}
	return s.send(protocol.Request{Type: protocol.OpDelete, Filter: pattern}, pendingRequest{keys: keys})
}

// Receive 读取并应用一帧
//
// 推送和无法关联的帧返回 nil Outcome。
func (s *Session) Receive() (*Outcome, error) {
	var frame Frame
	if err := s.transport.ReadJSON(&frame); err != nil {
		return nil, err
	}
	return s.Handle(&frame)
}

// Await 持续接收直到指定请求完成
func (s *Session) Await(reference int64) (*Outcome, error) {
	for {
		outcome, err := s.Receive()
		if err != nil {
			return nil, err
		}
		if outcome != nil && outcome.Reference == reference {
			return outcome, nil
		}
	}
}

// Handle 应用一帧到视图
func (s *Session) Handle(frame *Frame) (*Outcome, error) {
	if frame.Type == protocol.TypeUpdated {
		records, err := decodeRecords(frame.Result)
		if err != nil {
			return nil, err
		}
		s.view.Merge(records)
		return nil, nil
	}

	ref := bytes.TrimSpace(frame.Reference)
	if len(ref) == 0 {
		if frame.Error != "" {
			s.log.Warn("server error", zap.String("type", frame.Type), zap.String("error", frame.Error))
		}
		return nil, nil
	}

	reference, err := strconv.ParseInt(string(ref), 10, 64)
	if err != nil {
		s.log.Debug("dropping frame with foreign reference", zap.ByteString("reference", ref))
		return nil, nil
	}

	s.mu.Lock()
	req, ok := s.pending[reference]
	delete(s.pending, reference)
	s.mu.Unlock()

	if !ok {
		s.log.Debug("dropping frame with unknown reference", zap.Int64("reference", reference))
		return nil, nil
	}

	outcome := &Outcome{
		Op:          req.op,
		Reference:   reference,
		Result:      frame.Result,
		Error:       frame.Error,
		Errors:      frame.Errors,
		ReloadError: frame.ReloadError,
	}
	if outcome.Error != "" {
		return outcome, nil
	}

	switch req.op {
	case protocol.OpInitialise, protocol.OpReload:
		records, err := decodeRecords(frame.Result)
		if err != nil {
			return nil, err
		}
		if frame.Options != nil {
			s.view.SetDefaults(rowview.Defaults{
				User:   frame.Options.DefaultUser,
				Domain: frame.Options.DefaultDomain,
			})
		}
		s.view.FullReplace(records)

	case protocol.OpRead:
		records, err := decodeRecords(frame.Result)
		if err != nil {
			return nil, err
		}
		s.view.Merge(records)

	case protocol.OpSave:
		for i, key := range req.keys {
			if err := s.view.MarkSaved(key, "", req.sent[i]); err != nil {
				s.log.Debug("saved row no longer present", zap.Int("row", int(key)))
			}
		}
		// 重新读取以获得新记录的 ID
		if _, err := s.Read(); err != nil {
			return outcome, err
		}

	case protocol.OpDelete:
		for _, key := range req.keys {
			s.view.Remove(key)
		}
	}

	return outcome, nil
}

func (s *Session) send(req protocol.Request, pending pendingRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	reference := s.next
	req.Reference = json.RawMessage(strconv.FormatInt(reference, 10))

	if err := s.transport.WriteJSON(&req); err != nil {
		return 0, fmt.Errorf("failed to send %s: %w", req.Type, err)
	}
	pending.op = req.Type
	s.pending[reference] = pending
	return reference, nil
}

func decodeRecords(raw json.RawMessage) ([]domain.AliasRecord, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var records []domain.AliasRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}
