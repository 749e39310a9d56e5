// Package mapfile 将别名记录渲染为 MTA 使用的 regexp 映射表，并负责原子写入。
package mapfile

import (
	"strings"

	"mailalias/backend/internal/domain"
)

// Reject 拒绝表中的动作关键字
const Reject = "REJECT"

// literalEscaper 字面量模式需要转义的正则元字符
var literalEscaper = strings.NewReplacer(
	".", `\.`,
	"?", `\?`,
	"+", `\+`,
	"(", `\(`,
	")", `\)`,
	"[", `\[`,
	"]", `\]`,
	"*", `\*`,
)

// Documents 渲染结果
type Documents struct {
	Allow string // 别名映射表
	Block string // 拒绝映射表
}

// Render 渲染全部记录
//
// 每条记录输出两行：注释行 "# <description>" 与指令行。
// 记录顺序与输入一致，不做排序；空集合输出空文档。
func Render(records []domain.AliasRecord) Documents {
	var allow, block []string

	for _, record := range records {
		expr := MatchExpression(record)
		if record.Blocked {
			directive := expr + " " + Reject
			if record.Reason != "" {
				directive += " " + record.Reason
			}
			block = append(block, "# "+record.Description, directive)
			continue
		}
		allow = append(allow, "# "+record.Description, expr+" "+record.Destination)
	}

	return Documents{
		Allow: strings.Join(allow, "\n"),
		Block: strings.Join(block, "\n"),
	}
}

// MatchExpression 构造记录的匹配表达式
//
// 正则模式补齐 "/" 分隔符；字面量转义后整串锚定，以 "@" 开头的域规则只锚定结尾。
func MatchExpression(record domain.AliasRecord) string {
	if record.IsRegex {
		expr := record.Pattern
		if !strings.HasPrefix(expr, "/") {
			expr = "/" + expr
		}
		if !strings.HasSuffix(expr, "/") {
			expr += "/"
		}
		return expr
	}

	escaped := literalEscaper.Replace(record.Pattern)
	if strings.HasPrefix(record.Pattern, "@") {
		return escaped + "$"
	}
	return "^" + escaped + "$"
}
