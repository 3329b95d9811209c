package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LogRotator 带大小轮转的文件写入器，只保留一个 .old 备份
type LogRotator struct {
	filename    string
	maxSize     int64 // bytes
	file        *os.File
	mu          sync.Mutex
	currentSize int64
}

// NewLogRotator 创建新的日志轮转器 (maxSize in MB)，父目录不存在时自动创建
func NewLogRotator(filename string, maxSizeMB int) (*LogRotator, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	r := &LogRotator{
		filename: filename,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LogRotator) openFile() error {
	file, err := os.OpenFile(r.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	r.file = file
	r.currentSize = stat.Size()
	return nil
}

func (r *LogRotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentSize+int64(len(p)) > r.maxSize && r.currentSize > 0 {
		if err := r.rotate(); err != nil {
			// 轮转失败时继续写入当前文件
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
	}

	if r.file == nil {
		return 0, os.ErrClosed
	}
	n, err = r.file.Write(p)
	r.currentSize += int64(n)
	return n, err
}

// rotate 乒乓轮转: gateway.log -> gateway.log.old，旧备份被覆盖
func (r *LogRotator) rotate() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	backupName := r.filename + ".old"
	os.Remove(backupName) // 忽略错误，文件可能不存在

	if err := os.Rename(r.filename, backupName); err != nil {
		// 改名失败也要重新打开原文件，保证后续写入可用
		if openErr := r.openFile(); openErr != nil {
			return openErr
		}
		return err
	}

	return r.openFile()
}

// Filename 当前日志文件路径
func (r *LogRotator) Filename() string {
	return r.filename
}

func (r *LogRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
