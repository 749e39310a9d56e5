package domain

// AliasRecord 表示一条别名规则。
// Pattern 为字面量或正则（IsRegex），匹配后转发到 Destination，Blocked 时写入拒绝表。
type AliasRecord struct {
	ID          string `json:"id,omitempty"`          // 存储层分配的唯一标识
	Pattern     string `json:"alias"`                 // 匹配模式
	IsRegex     bool   `json:"regex"`                 // Pattern 是否为正则表达式
	Destination string `json:"user"`                  // 目标用户/邮箱（逗号分隔）
	Description string `json:"description"`           // 描述，渲染为注释行
	Blocked     bool   `json:"blocked"`               // 是否为拒绝规则
	Reason      string `json:"reason,omitempty"`      // 拒绝原因，追加在 REJECT 之后
}

// Categories 返回记录集合涉及的类别
//
// 返回值:
//   - allow: 是否包含放行规则
//   - block: 是否包含拒绝规则
func Categories(records []AliasRecord) (allow, block bool) {
	for _, record := range records {
		if record.Blocked {
			block = true
		} else {
			allow = true
		}
	}
	return allow, block
}

// SameFields 比较除 ID 以外的字段
func (r AliasRecord) SameFields(other AliasRecord) bool {
	return r.Pattern == other.Pattern &&
		r.IsRegex == other.IsRegex &&
		r.Destination == other.Destination &&
		r.Description == other.Description &&
		r.Blocked == other.Blocked &&
		r.Reason == other.Reason
}
