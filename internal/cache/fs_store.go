package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// 与 HTTP 缓存目录保持一致的子目录名。
	entryDir     = "http"
	entryPrefix  = "cache_"
	tempPrefix   = ".tmp-"
	maxEntryName = 200
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
// 启动时会清理残留的临时文件，并按修改时间把已有条目载入 LRU 索引。
func NewStore(basePath string, opts Options) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	dir := filepath.Join(abs, entryDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	s := &fileStore{
		basePath: abs,
		dir:      dir,
		maxBytes: opts.MaxBytes,
		locks:    make(map[string]*entryLock),
	}

	capacity := opts.MaxEntries
	if capacity <= 0 {
		capacity = math.MaxInt32
	}
	index, err := lru.NewWithEvict[string, int64](capacity, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create cache index: %w", err)
	}
	s.index = index

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// fileStore 通过 entryLock 避免同一文件并发 rename/删除；index 以文件名为键记录字节数。
type fileStore struct {
	basePath string
	dir      string
	maxBytes int64

	mu    sync.Mutex
	index *lru.Cache[string, int64]
	total int64

	locksMu sync.Mutex
	locks   map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Root() string {
	return s.basePath
}

func (s *fileStore) PathFor(key string) string {
	return filepath.Join(s.dir, entryName(key))
}

func (s *fileStore) Exists(key string) bool {
	name := entryName(key)
	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		s.mu.Lock()
		s.index.Remove(name)
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index.Get(name); !ok {
		// 其他进程写入的文件，补录进索引
		s.recordLocked(name, info.Size())
	}
	return true
}

func (s *fileStore) Begin(key string) (*Pending, error) {
	name := entryName(key)
	tempFile, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &Pending{
		store: s,
		key:   key,
		name:  name,
		file:  tempFile,
	}, nil
}

func (s *fileStore) Remove(key string) error {
	name := entryName(key)
	unlock := s.lockEntry(name)
	defer unlock()

	s.mu.Lock()
	s.index.Remove(name)
	s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Entries: s.index.Len(), Bytes: s.total}
}

// commit 把临时文件原子替换到最终路径并登记到索引。
func (s *fileStore) commit(name, tempName string, size int64) error {
	unlock := s.lockEntry(name)
	defer unlock()

	if err := os.Rename(tempName, filepath.Join(s.dir, name)); err != nil {
		return err
	}

	s.mu.Lock()
	s.recordLocked(name, size)
	s.mu.Unlock()
	return nil
}

func (s *fileStore) recordLocked(name string, size int64) {
	if old, ok := s.index.Peek(name); ok {
		s.total -= old
	}
	s.total += size
	s.index.Add(name, size)
	for s.maxBytes > 0 && s.total > s.maxBytes && s.index.Len() > 1 {
		s.index.RemoveOldest()
	}
}

// onEvict 在索引淘汰条目时同步删除文件，调用方已持有 s.mu。
func (s *fileStore) onEvict(name string, size int64) {
	s.total -= size
	_ = os.Remove(filepath.Join(s.dir, name))
}

func (s *fileStore) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan storage path: %w", err)
	}

	type seed struct {
		name string
		info fs.FileInfo
	}
	var seeds []seed
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, tempPrefix) {
			_ = os.Remove(filepath.Join(s.dir, name))
			continue
		}
		if !entry.Type().IsRegular() || !strings.HasPrefix(name, entryPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		seeds = append(seeds, seed{name: name, info: info})
	}
	sort.Slice(seeds, func(i, j int) bool {
		return seeds[i].info.ModTime().Before(seeds[j].info.ModTime())
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range seeds {
		s.recordLocked(item.name, item.info.Size())
	}
	return nil
}

func (s *fileStore) lockEntry(name string) func() {
	s.locksMu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &entryLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.locksMu.Unlock()
	}
}

// entryName 把缓存键转换为扁平文件名：cache_ + 查询串编码，过长时改用 SHA-1。
func entryName(key string) string {
	name := entryPrefix + url.QueryEscape(key)
	if len(name) <= maxEntryName {
		return name
	}
	return entryPrefix + hashKey(key)
}

func hashKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
