// Package watch 监听文件存储的数据文件，外部修改后重新加载并触发映射重建。
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce 连续事件合并的等待时间
const DefaultDebounce = 250 * time.Millisecond

// Reloader 可从磁盘重新加载的存储
type Reloader interface {
	Path() string
	// Reload 返回内容是否与上次读写时不同
	Reload() (bool, error)
}

// ChangeHandler 存储内容发生外部变化后调用
type ChangeHandler func(ctx context.Context) error

// Watcher 数据文件监听器
type Watcher struct {
	store    Reloader
	onChange ChangeHandler
	debounce time.Duration
	path     string
	watcher  *fsnotify.Watcher
	log      *zap.Logger
}

// New 创建监听器
//
// 监听数据文件所在目录而不是文件本身，原子替换写入会更换文件的 inode。
func New(store Reloader, onChange ChangeHandler, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	path := filepath.Clean(store.Path())
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		store:    store,
		onChange: onChange,
		debounce: debounce,
		path:     path,
		watcher:  watcher,
		log:      log,
	}, nil
}

// Run 处理文件事件直到 ctx 取消
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("watching store file", zap.String("path", w.path))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("store watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			w.apply(ctx)

		case <-ctx.Done():
			w.log.Debug("store watcher stopping")
			return nil
		}
	}
}

// Close 停止监听
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) apply(ctx context.Context) {
	changed, err := w.store.Reload()
	if err != nil {
		w.log.Warn("failed to reload store file", zap.String("path", w.path), zap.Error(err))
		return
	}
	if !changed {
		return
	}

	w.log.Info("store file changed externally", zap.String("path", w.path))
	if w.onChange == nil {
		return
	}
	if err := w.onChange(ctx); err != nil {
		w.log.Warn("reload after external change failed", zap.Error(err))
	}
}
