package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoAliases 保存请求中没有任何别名
var ErrNoAliases = errors.New("no aliases given")

// RecordProblem 单条记录的全部校验问题
type RecordProblem struct {
	Index    int      `json:"index"` // 批次中的序号（从 1 开始）
	Pattern  string   `json:"alias"`
	Problems []string `json:"problems"`
}

// String 格式化为一行错误描述
func (p RecordProblem) String() string {
	if p.Pattern == "" {
		return fmt.Sprintf("alias %d: %s", p.Index, strings.Join(p.Problems, "; "))
	}
	return fmt.Sprintf("alias %d (%s): %s", p.Index, p.Pattern, strings.Join(p.Problems, "; "))
}

// ValidationError 批次校验失败，包含每条无效记录的所有问题
type ValidationError struct {
	Records []RecordProblem
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Lines(), "\n")
}

// Lines 每条无效记录一行
func (e *ValidationError) Lines() []string {
	lines := make([]string, 0, len(e.Records))
	for _, record := range e.Records {
		lines = append(lines, record.String())
	}
	return lines
}

// PersistenceError 存储层读写失败
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// FileWriteError 映射文件写入失败
type FileWriteError struct {
	Path string
	Err  error
}

func (e *FileWriteError) Error() string {
	return fmt.Sprintf("failed to write map file %s: %v", e.Path, e.Err)
}

func (e *FileWriteError) Unwrap() error {
	return e.Err
}

// CommandError 外部重载命令执行失败
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	output := strings.TrimSpace(e.Output)
	if output == "" {
		return fmt.Sprintf("reload command %q failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("reload command %q failed: %v: %s", e.Command, e.Err, output)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
