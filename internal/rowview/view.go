// Package rowview 维护客户端的行视图，并将服务端快照合并进来而不覆盖本地未保存的编辑。
package rowview

import (
	"errors"
	"regexp"
	"sort"
	"sync"

	"mailalias/backend/internal/domain"
)

var (
	// ErrRowNotFound 行不存在
	ErrRowNotFound = errors.New("row not found")
	// ErrIdentityLocked 已保存行的别名不可修改
	ErrIdentityLocked = errors.New("alias of a saved row cannot be changed")
)

// RowKey 客户端本地行标识，与服务端 ID 无关
type RowKey int

// Fields 行的可编辑字段
type Fields struct {
	Pattern     string
	IsRegex     bool
	Destination string
	Description string
	Blocked     bool
	Reason      string
}

// FieldsOf 从记录中取出可编辑字段
func FieldsOf(record domain.AliasRecord) Fields {
	return Fields{
		Pattern:     record.Pattern,
		IsRegex:     record.IsRegex,
		Destination: record.Destination,
		Description: record.Description,
		Blocked:     record.Blocked,
		Reason:      record.Reason,
	}
}

// Record 转换为记录
func (f Fields) Record(id string) domain.AliasRecord {
	return domain.AliasRecord{
		ID:          id,
		Pattern:     f.Pattern,
		IsRegex:     f.IsRegex,
		Destination: f.Destination,
		Description: f.Description,
		Blocked:     f.Blocked,
		Reason:      f.Reason,
	}
}

// Defaults 新建空行时的默认值
type Defaults struct {
	User   string
	Domain string
}

// Row 一行的状态
type Row struct {
	Key     RowKey
	ID      string // 服务端 ID，未保存时为空
	Data    Fields // 最近一次已知的已保存值
	Edit    Fields // 当前编辑值
	Changed bool
	Unsaved bool
}

// Locked 已保存行的别名不可修改
func (r Row) Locked() bool {
	return !r.Unsaved
}

// Record 以当前编辑值生成待保存记录
func (r Row) Record() domain.AliasRecord {
	return r.Edit.Record(r.ID)
}

// View 行视图，并发安全
type View struct {
	mu       sync.Mutex
	rows     map[RowKey]*Row
	next     RowKey
	defaults Defaults
}

// NewView 创建空视图
func NewView(defaults Defaults) *View {
	return &View{
		rows:     make(map[RowKey]*Row),
		defaults: defaults,
	}
}

// SetDefaults 更新新建行的默认值
func (v *View) SetDefaults(defaults Defaults) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.defaults = defaults
}

// Defaults 返回新建行的默认值
func (v *View) Defaults() Defaults {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.defaults
}

// NewRow 创建一个未保存的行
//
// fields 为 nil 时使用默认目标用户，并以 @<默认域名> 预填别名。
func (v *View) NewRow(fields *Fields) RowKey {
	v.mu.Lock()
	defer v.mu.Unlock()

	var edit Fields
	if fields != nil {
		edit = *fields
	} else {
		edit.Destination = v.defaults.User
		if v.defaults.Domain != "" {
			edit.Pattern = "@" + v.defaults.Domain
		}
	}

	row := v.add()
	row.Edit = edit
	row.Changed = true
	row.Unsaved = true
	return row.Key
}

// Edit 更新行的编辑值并重新计算 Changed
func (v *View) Edit(key RowKey, fields Fields) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	row, ok := v.rows[key]
	if !ok {
		return ErrRowNotFound
	}
	if row.Locked() && fields.Pattern != row.Data.Pattern {
		return ErrIdentityLocked
	}

	row.Edit = fields
	row.Changed = row.Unsaved || row.Edit != row.Data
	return nil
}

// FullReplace 丢弃所有行，为每条记录新建一行
func (v *View) FullReplace(records []domain.AliasRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rows = make(map[RowKey]*Row, len(records))
	for _, record := range records {
		v.addSaved(record)
	}
}

// Merge 增量合并服务端记录
//
// 已保存行按已保存的别名匹配，未保存行按编辑中的别名匹配。匹配到且未修改的行被覆盖，
// 已修改的行保持不变，未匹配的记录新建一行。合并后删除未被引用且不是未保存状态的行。
func (v *View) Merge(records []domain.AliasRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()

	candidates := make(map[string][]RowKey)
	for _, key := range v.sortedKeys() {
		row := v.rows[key]
		pattern := row.Data.Pattern
		if row.Unsaved {
			pattern = row.Edit.Pattern
		}
		candidates[pattern] = append(candidates[pattern], key)
	}

	touched := make(map[RowKey]bool, len(records))
	for _, record := range records {
		keys := candidates[record.Pattern]
		if len(keys) == 0 {
			touched[v.addSaved(record).Key] = true
			continue
		}

		key := keys[0]
		candidates[record.Pattern] = keys[1:]
		touched[key] = true

		row := v.rows[key]
		if row.Changed {
			// 已保存行只补齐 ID，不覆盖编辑中的字段
			if row.ID == "" && !row.Unsaved {
				row.ID = record.ID
			}
			continue
		}
		row.ID = record.ID
		row.Data = FieldsOf(record)
		row.Edit = row.Data
	}

	for key, row := range v.rows {
		if !touched[key] && !row.Unsaved {
			delete(v.rows, key)
		}
	}
}

// MarkSaved 标记行已保存，id 为空时保留原 ID
//
// sent 为实际发送给服务端的字段；发送之后的编辑仍保留为已修改状态。
func (v *View) MarkSaved(key RowKey, id string, sent Fields) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	row, ok := v.rows[key]
	if !ok {
		return ErrRowNotFound
	}
	if id != "" {
		row.ID = id
	}
	row.Data = sent
	row.Unsaved = false
	row.Changed = row.Edit != row.Data
	return nil
}

// Remove 删除一行
func (v *View) Remove(key RowKey) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.rows[key]; !ok {
		return false
	}
	delete(v.rows, key)
	return true
}

// Get 返回行的副本
func (v *View) Get(key RowKey) (Row, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	row, ok := v.rows[key]
	if !ok {
		return Row{}, false
	}
	return *row, true
}

// Rows 按行标识顺序返回全部行
func (v *View) Rows() []Row {
	v.mu.Lock()
	defer v.mu.Unlock()

	rows := make([]Row, 0, len(v.rows))
	for _, key := range v.sortedKeys() {
		rows = append(rows, *v.rows[key])
	}
	return rows
}

// ChangedRows 返回所有已修改的行
func (v *View) ChangedRows() []Row {
	var changed []Row
	for _, row := range v.Rows() {
		if row.Changed {
			changed = append(changed, row)
		}
	}
	return changed
}

// Search 返回别名或描述匹配表达式的行，忽略大小写；空表达式匹配全部
func (v *View) Search(expr string) ([]RowKey, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, err
	}

	var keys []RowKey
	for _, row := range v.Rows() {
		if re.MatchString(row.Edit.Pattern) || re.MatchString(row.Edit.Description) {
			keys = append(keys, row.Key)
		}
	}
	return keys, nil
}

// Randomize 为未保存行生成随机别名，保留已填写的域名
func (v *View) Randomize(key RowKey, length int) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	row, ok := v.rows[key]
	if !ok {
		return "", ErrRowNotFound
	}
	if row.Locked() {
		return "", ErrIdentityLocked
	}

	domainName := v.defaults.Domain
	if _, d, found := cut(row.Edit.Pattern); found {
		domainName = d
	}

	row.Edit.Pattern = RandomAlias(length, domainName)
	row.Changed = true
	return row.Edit.Pattern, nil
}

// add 调用方需持有锁
func (v *View) add() *Row {
	v.next++
	row := &Row{Key: v.next}
	v.rows[row.Key] = row
	return row
}

// addSaved 调用方需持有锁
func (v *View) addSaved(record domain.AliasRecord) *Row {
	row := v.add()
	row.ID = record.ID
	row.Data = FieldsOf(record)
	row.Edit = row.Data
	return row
}

func (v *View) sortedKeys() []RowKey {
	keys := make([]RowKey, 0, len(v.rows))
	for key := range v.rows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
