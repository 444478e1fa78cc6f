package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

// Locker 为缓存键提供跨进程互斥，锁文件位于 <root>/.locks/<sha1(key)>.lock。
type Locker struct {
	locksDir string
}

// NewLocker 在缓存根目录下创建锁目录。
func NewLocker(root string) *Locker {
	return &Locker{locksDir: filepath.Join(root, ".locks")}
}

func (l *Locker) lockPath(key string) string {
	return filepath.Join(l.locksDir, hashKey(key)+".lock")
}

// Acquire 获取键的排他锁，返回的函数用于释放；ctx 取消时放弃等待。
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if err := os.MkdirAll(l.locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks directory: %w", err)
	}

	fl := flock.New(l.lockPath(key))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("acquire lock: %v", ctx.Err())
	}
	return func() { _ = fl.Unlock() }, nil
}
