package domain

import (
	"errors"
	"regexp"
	"strings"
)

// errEmptyExpression 正则模式去掉分隔符后为空
var errEmptyExpression = errors.New("empty expression")

// 校验错误信息
const (
	MsgPatternRequired     = "pattern required"
	MsgIllegalDestination  = "illegal or missing destination"
	MsgInvalidPattern      = "invalid pattern"
	MsgDescriptionRequired = "description required"
	MsgLineBreak           = "fields must not contain line breaks"
)

// MaxDestinationLength 单个目标地址的最大长度（RFC 5321）
const MaxDestinationLength = 254

var (
	// 本地系统用户名
	localUserRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,30}$`)

	// 邮箱地址（本地部分允许引号形式，域名允许 IPv4 字面量）
	addressRegex = regexp.MustCompile(`^(([^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*)|(".+"))@((\[[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}])|(([a-zA-Z\-0-9]+\.)+[a-zA-Z]{2,}))$`)
)

// ExpressionFunc 根据记录生成匹配表达式，用于字面量模式的编译检查
type ExpressionFunc func(record AliasRecord) string

// AliasValidator 别名记录校验器
type AliasValidator struct {
	expression ExpressionFunc
}

// NewAliasValidator 创建校验器
//
// 参数:
//   - expression: 渲染器使用的匹配表达式构造函数，保证校验与渲染一致
func NewAliasValidator(expression ExpressionFunc) *AliasValidator {
	return &AliasValidator{expression: expression}
}

// ValidateBatch 校验整个批次
//
// 每条记录的每条规则都会检查，所有无效记录的问题合并为一个 *ValidationError。
// 只要有一条记录无效，整个批次都不应持久化。
func (v *AliasValidator) ValidateBatch(records []AliasRecord) ([]AliasRecord, error) {
	if len(records) == 0 {
		return nil, ErrNoAliases
	}

	normalized := make([]AliasRecord, len(records))
	var problems []RecordProblem
	for i, record := range records {
		record = Normalize(record)
		normalized[i] = record

		if issues := v.Check(record); len(issues) > 0 {
			problems = append(problems, RecordProblem{
				Index:    i + 1,
				Pattern:  record.Pattern,
				Problems: issues,
			})
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Records: problems}
	}
	return normalized, nil
}

// Check 返回单条记录违反的所有规则
func (v *AliasValidator) Check(record AliasRecord) []string {
	var issues []string

	if record.Pattern == "" {
		issues = append(issues, MsgPatternRequired)
	}

	if !ValidDestination(record.Destination, record.Blocked) {
		issues = append(issues, MsgIllegalDestination)
	}

	if record.Pattern != "" {
		if err := v.compilePattern(record); err != nil {
			issues = append(issues, MsgInvalidPattern+": "+err.Error())
		}
	}

	if record.Description == "" {
		issues = append(issues, MsgDescriptionRequired)
	}

	if hasLineBreak(record.Pattern, record.Destination, record.Description, record.Reason) {
		issues = append(issues, MsgLineBreak)
	}

	return issues
}

// compilePattern 正则直接编译（去掉分隔符），字面量编译其渲染后的匹配表达式
func (v *AliasValidator) compilePattern(record AliasRecord) error {
	if record.IsRegex {
		expr := StripDelimiters(record.Pattern)
		if strings.TrimSpace(expr) == "" {
			return errEmptyExpression
		}
		_, err := regexp.Compile(expr)
		return err
	}
	if v.expression == nil {
		return nil
	}
	_, err := regexp.Compile(v.expression(record))
	return err
}

// ValidDestination 检查目标地址
//
// 目标为逗号分隔的列表，每一项是本地用户名或邮箱地址。
// 拒绝规则只要求非空。
func ValidDestination(destination string, blocked bool) bool {
	if destination == "" {
		return false
	}
	if blocked {
		return true
	}

	for _, entry := range strings.Split(destination, ",") {
		if entry == "" || len(entry) > MaxDestinationLength {
			return false
		}
		if !localUserRegex.MatchString(entry) && !addressRegex.MatchString(entry) {
			return false
		}
	}
	return true
}

// Normalize 去除各文本字段首尾空白
func Normalize(record AliasRecord) AliasRecord {
	record.Pattern = strings.TrimSpace(record.Pattern)
	record.Destination = strings.TrimSpace(record.Destination)
	record.Description = strings.TrimSpace(record.Description)
	record.Reason = strings.TrimSpace(record.Reason)
	return record
}

// StripDelimiters 去掉正则模式两端的 "/"
func StripDelimiters(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")
	return strings.TrimSuffix(pattern, "/")
}

func hasLineBreak(fields ...string) bool {
	for _, field := range fields {
		if strings.ContainsAny(field, "\r\n") {
			return true
		}
	}
	return false
}
