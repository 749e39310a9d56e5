package mapfile

import (
	"os"

	"mailalias/backend/internal/domain"
	"mailalias/backend/internal/storage/filesystem"
)

// DefaultFileMode 映射文件默认权限
const DefaultFileMode os.FileMode = 0644

// Writer 映射文件写入器
type Writer struct {
	utils *filesystem.PlatformUtils
	mode  os.FileMode
}

// NewWriter 创建写入器，mode 为 0 时使用 DefaultFileMode
func NewWriter(mode os.FileMode) *Writer {
	if mode == 0 {
		mode = DefaultFileMode
	}
	return &Writer{
		utils: filesystem.NewPlatformUtils(),
		mode:  mode,
	}
}

// WriteMap 原子写入一个映射文件，失败时返回 *domain.FileWriteError
func (w *Writer) WriteMap(path, content string) error {
	if err := w.utils.WriteFileAtomic(path, []byte(content), w.mode); err != nil {
		return &domain.FileWriteError{Path: path, Err: err}
	}
	return nil
}

// CheckWritable 检查映射文件路径是否可写
func (w *Writer) CheckWritable(path string) error {
	return w.utils.CheckWritable(path)
}
