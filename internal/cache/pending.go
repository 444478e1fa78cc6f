package cache

import (
	"fmt"
	"os"
	"time"
)

// Pending 表示一次尚未生效的缓存写入。写入期间最终路径保持不变，
// Commit 成功后新内容才可见；Abort 删除临时文件。
type Pending struct {
	store   *fileStore
	key     string
	name    string
	file    *os.File
	written int64
	done    bool
}

// Write 追加写入临时文件。
func (p *Pending) Write(b []byte) (int, error) {
	if p.done {
		return 0, ErrPendingClosed
	}
	n, err := p.file.Write(b)
	p.written += int64(n)
	return n, err
}

// TempPath 返回临时文件路径。
func (p *Pending) TempPath() string {
	return p.file.Name()
}

// Commit 刷盘、关闭并将临时文件替换到最终路径。关闭失败同样视为提交失败。
func (p *Pending) Commit() (*Entry, error) {
	if p.done {
		return nil, ErrPendingClosed
	}
	p.done = true
	tempName := p.file.Name()

	if p.written == 0 {
		_ = p.file.Close()
		_ = os.Remove(tempName)
		return nil, ErrEmptyEntry
	}

	err := p.file.Sync()
	closeErr := p.file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempName)
		return nil, fmt.Errorf("flush cache entry: %w", err)
	}

	if err := p.store.commit(p.name, tempName, p.written); err != nil {
		_ = os.Remove(tempName)
		return nil, fmt.Errorf("commit cache entry: %w", err)
	}

	return &Entry{
		Key:       p.key,
		FilePath:  p.store.PathFor(p.key),
		SizeBytes: p.written,
		ModTime:   time.Now().UTC(),
	}, nil
}

// Abort 放弃本次写入并删除临时文件，可重复调用。
func (p *Pending) Abort() error {
	if p.done {
		return nil
	}
	p.done = true
	closeErr := p.file.Close()
	if err := os.Remove(p.file.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return closeErr
}
