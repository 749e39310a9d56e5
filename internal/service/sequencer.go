package service

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/mapfile"
	"mailalias/backend/internal/storage"
)

// 映射文件标识，用于日志和指标
const (
	MapAllow = "allow"
	MapBlock = "block"
)

// 重载结果，用于指标
const (
	OutcomeSuccess      = "success"
	OutcomeSkipped      = "skipped"
	OutcomeStoreError   = "store_error"
	OutcomeWriteError   = "write_error"
	OutcomeCommandError = "command_error"
)

// MapWriter 写入映射文件
type MapWriter interface {
	WriteMap(path, content string) error
}

// CommandRunner 执行外部重载命令
type CommandRunner interface {
	Run(ctx context.Context, command string) error
}

// ReloadObserver 接收重载过程的观测数据
type ReloadObserver interface {
	ObserveReload(outcome string, duration time.Duration)
	ObserveMapWrite(file string, err error)
	SetAliasCount(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveReload(string, time.Duration) {}
func (nopObserver) ObserveMapWrite(string, error)       {}
func (nopObserver) SetAliasCount(int)                   {}

// ShellRunner 通过 /bin/sh -c 执行命令
type ShellRunner struct {
	Timeout time.Duration // 0 表示不限时
}

// Run 执行命令，失败时返回 *domain.CommandError
func (r ShellRunner) Run(ctx context.Context, command string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.WaitDelay = time.Second // 超时后子进程仍持有输出管道时不再等待
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &domain.CommandError{Command: command, Output: string(output), Err: err}
	}
	return nil
}

// ReloadOptions 映射文件路径和重载命令
type ReloadOptions struct {
	AllowPath string
	BlockPath string
	Command   string
}

// ReloadReport 一次重载的执行情况
type ReloadReport struct {
	Records   int      // 渲染时的记录数
	Written   []string // 成功写入的文件路径
	Commanded bool     // 是否执行了重载命令
}

// Sequencer 按顺序执行 读取 -> 渲染 -> 写文件 -> 重载命令
//
// 同一时刻只有一个序列在执行，保证最后完成的序列反映最新快照。
type Sequencer struct {
	store    storage.AliasRepository
	writer   MapWriter
	runner   CommandRunner
	opts     ReloadOptions
	log      *zap.Logger
	observer ReloadObserver

	mu sync.Mutex
}

// NewSequencer 创建重载序列执行器
func NewSequencer(store storage.AliasRepository, writer MapWriter, runner CommandRunner, opts ReloadOptions, log *zap.Logger) *Sequencer {
	if log == nil {
		log = zap.NewNop()
	}
	if runner == nil {
		runner = ShellRunner{}
	}
	return &Sequencer{
		store:    store,
		writer:   writer,
		runner:   runner,
		opts:     opts,
		log:      log,
		observer: nopObserver{},
	}
}

// SetObserver 设置观测回调
func (s *Sequencer) SetObserver(observer ReloadObserver) {
	if observer == nil {
		observer = nopObserver{}
	}
	s.observer = observer
}

// Options 返回当前配置
func (s *Sequencer) Options() ReloadOptions {
	return s.opts
}

// Reload 重新生成选定的映射文件并执行重载命令
//
// 参数:
//   - doAllow: 是否重写放行映射
//   - doBlock: 是否重写拒收映射
//
// 两个文件的写入互不影响，全部尝试后合并错误；只有在至少写入一个文件、
// 所有写入都成功并且配置了命令时才执行重载命令。
func (s *Sequencer) Reload(ctx context.Context, doAllow, doBlock bool) (*ReloadReport, error) {
	writeAllow := doAllow && s.opts.AllowPath != ""
	writeBlock := doBlock && s.opts.BlockPath != ""
	report := &ReloadReport{}

	if !writeAllow && !writeBlock {
		s.observer.ObserveReload(OutcomeSkipped, 0)
		return report, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	outcome := OutcomeSuccess
	defer func() {
		s.observer.ObserveReload(outcome, time.Since(start))
	}()

	records, err := s.store.ListAliases(ctx)
	if err != nil {
		outcome = OutcomeStoreError
		return report, &domain.PersistenceError{Op: "read aliases", Err: err}
	}
	report.Records = len(records)
	s.observer.SetAliasCount(len(records))

	docs := mapfile.Render(records)

	var writeErr error
	if writeBlock {
		writeErr = multierr.Append(writeErr, s.write(report, MapBlock, s.opts.BlockPath, docs.Block))
	}
	if writeAllow {
		writeErr = multierr.Append(writeErr, s.write(report, MapAllow, s.opts.AllowPath, docs.Allow))
	}
	if writeErr != nil {
		outcome = OutcomeWriteError
		return report, writeErr
	}

	if s.opts.Command == "" {
		return report, nil
	}

	if err := s.runner.Run(ctx, s.opts.Command); err != nil {
		outcome = OutcomeCommandError
		var cmdErr *domain.CommandError
		if !errors.As(err, &cmdErr) {
			err = &domain.CommandError{Command: s.opts.Command, Err: err}
		}
		s.log.Error("reload command failed", zap.String("command", s.opts.Command), zap.Error(err))
		return report, err
	}
	report.Commanded = true

	s.log.Info("maps reloaded",
		zap.Int("records", report.Records),
		zap.Strings("written", report.Written),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (s *Sequencer) write(report *ReloadReport, file, path, content string) error {
	err := s.writer.WriteMap(path, content)
	s.observer.ObserveMapWrite(file, err)
	if err != nil {
		s.log.Error("failed to write map", zap.String("file", file), zap.String("path", path), zap.Error(err))
		var writeErr *domain.FileWriteError
		if !errors.As(err, &writeErr) {
			err = &domain.FileWriteError{Path: path, Err: err}
		}
		return err
	}
	report.Written = append(report.Written, path)
	return nil
}
