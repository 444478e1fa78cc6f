package cache

import (
	"errors"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/http/cache_<key>    # 原始图片字节
//
// 键过长时文件名退化为 cache_<sha1(key)>。文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// PathFor 返回键对应的最终文件路径，纯函数，不触碰磁盘。
	PathFor(key string) string

	// Exists 判断键对应的文件是否为非空普通文件，命中时刷新 LRU 顺序。
	Exists(key string) bool

	// Begin 在最终路径所在目录创建临时文件，调用方写完后 Commit 或 Abort。
	Begin(key string) (*Pending, error)

	// Remove 删除键对应的文件，不存在时返回 nil。
	Remove(key string) error

	// Root 返回缓存根目录，用于磁盘空间探测。
	Root() string

	// Stats 返回当前索引中的条目数与总字节数。
	Stats() Stats
}

// Options 控制缓存容量。零值表示不限制。
type Options struct {
	MaxBytes   int64
	MaxEntries int
}

// Entry 描述一个已落盘的缓存条目。
type Entry struct {
	Key       string    `json:"key"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// Stats 是缓存占用快照。
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

var (
	// ErrPendingClosed 表示 Pending 已经提交或放弃。
	ErrPendingClosed = errors.New("pending cache write already finished")
	// ErrEmptyEntry 表示提交时临时文件为空，空文件不会被视为有效缓存。
	ErrEmptyEntry = errors.New("cache entry is empty")
)
