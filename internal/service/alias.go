package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/mapfile"
	"mailalias/backend/internal/storage"
)

// ErrDeleteTarget 删除请求既没有 id 也没有 filter
var ErrDeleteTarget = errors.New("id or filter required")

// Notifier 在记录集合变化后接收完整列表
type Notifier interface {
	AliasesUpdated(records []domain.AliasRecord)
}

// Defaults 新建记录的默认值，随 initialise 下发给客户端
type Defaults struct {
	DefaultUser   string `json:"defaultUser"`
	DefaultDomain string `json:"defaultDomain"`
}

// Snapshot initialise 的结果
type Snapshot struct {
	Aliases  []domain.AliasRecord
	Defaults Defaults
}

// SaveInput 保存请求
type SaveInput struct {
	Aliases   []domain.AliasRecord
	ReplaceID string // 保存成功后删除的旧记录 ID
}

// SaveResult 保存结果；ReloadErr 为保存成功后映射重建的失败
type SaveResult struct {
	Saved     []domain.AliasRecord
	ReloadErr error
}

// DeleteInput 删除请求，ID 优先于 Filter
type DeleteInput struct {
	ID     string
	Filter string
}

// DeleteResult 删除结果
type DeleteResult struct {
	Deleted   []domain.AliasRecord
	ReloadErr error
}

// AliasService 封装别名记录的业务流程：校验、持久化、重建映射和通知。
type AliasService struct {
	store     storage.AliasRepository
	validator *domain.AliasValidator
	sequencer *Sequencer
	defaults  Defaults
	notifier  Notifier
	log       *zap.Logger
}

// NewAliasService 创建别名业务服务。
func NewAliasService(store storage.AliasRepository, sequencer *Sequencer, defaults Defaults, log *zap.Logger) *AliasService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AliasService{
		store:     store,
		validator: domain.NewAliasValidator(mapfile.MatchExpression),
		sequencer: sequencer,
		defaults:  defaults,
		log:       log,
	}
}

// SetNotifier 设置变更通知接收者
func (s *AliasService) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// Initialise 返回完整记录列表和客户端默认值
func (s *AliasService) Initialise(ctx context.Context) (*Snapshot, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Aliases: records, Defaults: s.defaults}, nil
}

// List 读取全部记录
func (s *AliasService) List(ctx context.Context) ([]domain.AliasRecord, error) {
	records, err := s.store.ListAliases(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read aliases", Err: err}
	}
	return records, nil
}

// Save 校验并保存一批记录
//
// 任一记录无效时整批拒绝，不写入任何数据。保存成功后若提供了 ReplaceID 则删除旧记录，
// 然后按涉及的类别重建映射文件。类别同时取自新值和被替换记录的旧值。
func (s *AliasService) Save(ctx context.Context, input SaveInput) (*SaveResult, error) {
	records, err := s.validator.ValidateBatch(input.Aliases)
	if err != nil {
		return nil, err
	}

	previous, err := s.previousVersions(ctx, records)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read aliases", Err: err}
	}

	saved, err := s.store.SaveAliases(ctx, records)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "save aliases", Err: err}
	}

	touched := append(previous, saved...)
	if input.ReplaceID != "" && !containsID(saved, input.ReplaceID) {
		old, err := s.store.DeleteAlias(ctx, input.ReplaceID)
		if err != nil {
			// 新记录已经保存，仍然重建映射
			s.refresh(ctx, touched)
			return nil, &domain.PersistenceError{Op: "delete replaced alias", Err: err}
		}
		touched = append(touched, old)
	}

	s.log.Info("aliases saved", zap.Int("count", len(saved)), zap.String("replaced", input.ReplaceID))

	return &SaveResult{
		Saved:     saved,
		ReloadErr: s.refresh(ctx, touched),
	}, nil
}

// Delete 按 ID 或模式删除
func (s *AliasService) Delete(ctx context.Context, input DeleteInput) (*DeleteResult, error) {
	var deleted []domain.AliasRecord
	switch {
	case input.ID != "":
		record, err := s.store.DeleteAlias(ctx, input.ID)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "delete alias", Err: err}
		}
		deleted = []domain.AliasRecord{record}
	case input.Filter != "":
		records, err := s.store.DeleteAliasesByPattern(ctx, input.Filter)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "delete aliases", Err: err}
		}
		deleted = records
	default:
		return nil, ErrDeleteTarget
	}

	s.log.Info("aliases deleted", zap.Int("count", len(deleted)), zap.String("id", input.ID), zap.String("filter", input.Filter))

	return &DeleteResult{
		Deleted:   deleted,
		ReloadErr: s.refresh(ctx, deleted),
	}, nil
}

// Reload 手动重建两个映射文件并执行重载命令，返回当前记录列表
func (s *AliasService) Reload(ctx context.Context) ([]domain.AliasRecord, error) {
	if _, err := s.sequencer.Reload(ctx, true, true); err != nil {
		return nil, err
	}

	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	s.notify(records)
	return records, nil
}

// StoreChanged 存储被外部修改后重建映射并通知客户端
func (s *AliasService) StoreChanged(ctx context.Context) error {
	_, reloadErr := s.sequencer.Reload(ctx, true, true)

	records, err := s.List(ctx)
	if err != nil {
		return err
	}
	s.notify(records)
	return reloadErr
}

// Preview 渲染当前记录，不写入文件
func (s *AliasService) Preview(ctx context.Context) (mapfile.Documents, error) {
	records, err := s.List(ctx)
	if err != nil {
		return mapfile.Documents{}, err
	}
	return mapfile.Render(records), nil
}

// refresh 重建受影响的映射并通知客户端，返回重建错误
func (s *AliasService) refresh(ctx context.Context, touched []domain.AliasRecord) error {
	allow, block := domain.Categories(touched)

	_, reloadErr := s.sequencer.Reload(ctx, allow, block)
	if reloadErr != nil {
		s.log.Warn("map reload after mutation failed", zap.Error(reloadErr))
	}

	if s.notifier != nil {
		records, err := s.store.ListAliases(ctx)
		if err != nil {
			s.log.Warn("failed to read aliases for broadcast", zap.Error(err))
		} else {
			s.notify(records)
		}
	}
	return reloadErr
}

func (s *AliasService) notify(records []domain.AliasRecord) {
	if s.notifier != nil {
		s.notifier.AliasesUpdated(records)
	}
}

// previousVersions 返回批次中带 ID 记录在存储中的当前版本
func (s *AliasService) previousVersions(ctx context.Context, records []domain.AliasRecord) ([]domain.AliasRecord, error) {
	ids := make(map[string]bool)
	for _, record := range records {
		if record.ID != "" {
			ids[record.ID] = true
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	stored, err := s.store.ListAliases(ctx)
	if err != nil {
		return nil, err
	}

	var previous []domain.AliasRecord
	for _, record := range stored {
		if ids[record.ID] {
			previous = append(previous, record)
		}
	}
	return previous, nil
}

func containsID(records []domain.AliasRecord, id string) bool {
	for _, record := range records {
		if record.ID == id {
			return true
		}
	}
	return false
}

// IsNotFound 判断错误是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrAliasNotFound)
}

