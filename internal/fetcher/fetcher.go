// Package fetcher 负责“下载一次、之后走缓存”：为 locator 派生缓存键，命中时直接返回
// 缓存文件路径，未命中时在有限次数内重试下载，并保证失败后不留下可被视为有效的文件。
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/imghub/internal/cache"
	"github.com/any-hub/imghub/internal/config"
	"github.com/any-hub/imghub/internal/logging"
	"github.com/any-hub/imghub/internal/metrics"
	"github.com/any-hub/imghub/internal/stream"
)

// 默认重试与空间阈值。
const (
	DefaultMaxAttempts  = 3
	DefaultMinFreeSpace = 10 * 1024 * 1024
)

// Opener 打开 locator 对应的远端字节流，*transport.Transport 实现该接口。
type Opener interface {
	OpenStream(ctx context.Context, locator string) (io.ReadCloser, error)
}

// FileLocker 提供跨进程的按键互斥，*cache.Locker 实现该接口。
type FileLocker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// SpaceProbe 返回 path 所在磁盘的可用字节数。
type SpaceProbe func(path string) (uint64, error)

// Options 汇总 Fetcher 的协作者与策略参数。Store 与 Transport 必填。
type Options struct {
	Store        cache.Store
	Transport    Opener
	Logger       logrus.FieldLogger
	KeyDeriver   KeyDeriver
	MaxAttempts  int
	MinFreeSpace int64
	RetryBackoff time.Duration
	SpaceProbe   SpaceProbe
	NetworkProbe NetworkProbe
	Metrics      *metrics.Metrics
	Locker       FileLocker
	BufferSize   int
}

// OptionsFromConfig 从全局配置填充重试、空间阈值、缓冲区与缓存键策略，协作者由调用方补齐。
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	if cfg == nil {
		return Options{}, errors.New("config required")
	}
	deriver, err := ResolveKeyDeriver(cfg.Global.KeyMode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		KeyDeriver:   deriver,
		MaxAttempts:  cfg.Global.MaxRetries,
		MinFreeSpace: cfg.Global.MinFreeSpace,
		RetryBackoff: cfg.Global.RetryBackoff.DurationValue(),
		BufferSize:   cfg.Global.BufferSize,
	}, nil
}

// Result 描述一次成功的 Fetch。
type Result struct {
	Locator string `json:"locator"`
	Key     string `json:"key,omitempty"`
	Path    string `json:"path"`
	// CacheHit 表示未发起任何网络请求。
	CacheHit bool `json:"cache_hit"`
	Attempts int  `json:"attempts,omitempty"`
	// Shared 表示结果来自同键的并发调用。
	Shared bool `json:"shared,omitempty"`
	// Local 表示 locator 不是网络地址，原样返回。
	Local bool `json:"local,omitempty"`
}

// Fetcher 可被多个 goroutine 并发使用。
type Fetcher struct {
	store      cache.Store
	opener     Opener
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
	locker     FileLocker
	spaceProbe SpaceProbe

	maxAttempts  int
	minFreeSpace int64
	backoff      time.Duration
	bufferSize   int

	mu      sync.RWMutex
	deriver KeyDeriver

	group     singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*flight
	flightSeq uint64
}

// flight 是同键共享下载的生命周期：下载使用脱离调用方的 ctx，
// 只有全部等待者都离开后才会被取消。
type flight struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New 校验协作者并构造 Fetcher；若提供 NetworkProbe 且当前离线，仅记录警告。
func New(opts Options) (*Fetcher, error) {
	if opts.Store == nil {
		return nil, errors.New("fetcher: store required")
	}
	if opts.Transport == nil {
		return nil, errors.New("fetcher: transport required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logging.Component(logger, "fetcher")

	f := &Fetcher{
		store:        opts.Store,
		opener:       opts.Transport,
		logger:       logger,
		metrics:      opts.Metrics,
		locker:       opts.Locker,
		spaceProbe:   opts.SpaceProbe,
		maxAttempts:  opts.MaxAttempts,
		minFreeSpace: opts.MinFreeSpace,
		backoff:      opts.RetryBackoff,
		bufferSize:   opts.BufferSize,
		deriver:      opts.KeyDeriver,
		flights:      make(map[string]*flight),
	}
	if f.maxAttempts <= 0 {
		f.maxAttempts = DefaultMaxAttempts
	}
	if f.minFreeSpace < 0 {
		f.minFreeSpace = 0
	}
	if f.bufferSize <= 0 {
		f.bufferSize = stream.DefaultBufferSize
	}
	if f.spaceProbe == nil {
		f.spaceProbe = AvailableBytes
	}
	if f.deriver == nil {
		f.deriver = IdentityKey
	}

	if opts.NetworkProbe != nil && !opts.NetworkProbe.IsConnected() {
		logger.WithField("action", "probe").Warn("network_unavailable")
	}
	return f, nil
}

// SetKeyDeriver 替换缓存键派生函数，应在首次 Fetch 之前调用；nil 恢复为 identity。
func (f *Fetcher) SetKeyDeriver(deriver KeyDeriver) {
	if deriver == nil {
		deriver = IdentityKey
	}
	f.mu.Lock()
	f.deriver = deriver
	f.mu.Unlock()
}

// Key 返回 locator 对应的缓存键。
func (f *Fetcher) Key(locator string) string {
	f.mu.RLock()
	deriver := f.deriver
	f.mu.RUnlock()
	return deriver(locator)
}

// Store 返回底层缓存。
func (f *Fetcher) Store() cache.Store {
	return f.store
}

// IsNetworkLocator 判断 locator 是否以 http:// 或 https:// 开头（大小写不敏感）。
func IsNetworkLocator(locator string) bool {
	lower := strings.ToLower(locator)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Fetch 保证 locator 的原始字节存在于缓存中并返回文件路径。
// 非网络 locator 原样返回；命中缓存时不发起网络请求；同键并发调用只会下载一次。
func (f *Fetcher) Fetch(ctx context.Context, locator string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()

	if !IsNetworkLocator(locator) {
		f.metrics.RecordFetch(metrics.OutcomeLocal, time.Since(started))
		return Result{Locator: locator, Path: locator, Local: true}, nil
	}

	if err := f.checkSpace(); err != nil {
		f.metrics.RecordFetch(metrics.OutcomeNoSpace, time.Since(started))
		f.logger.WithFields(logrus.Fields{"action": "fetch", "locator": locator}).
			WithError(err).Warn("fetch_rejected")
		return Result{}, err
	}

	key := f.Key(locator)
	path := f.store.PathFor(key)
	if f.store.Exists(key) {
		f.metrics.RecordFetch(metrics.OutcomeHit, time.Since(started))
		f.logger.WithFields(logging.FetchFields(locator, key, true)).Debug("fetch_cache_hit")
		return Result{Locator: locator, Key: key, Path: path, CacheHit: true}, nil
	}

	fl := f.joinFlight(ctx, key)
	defer f.leaveFlight(key, fl)

	ch := f.group.DoChan(fl.id, func() (interface{}, error) {
		return f.fill(fl.ctx, locator, key)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		f.metrics.RecordFetch(metrics.OutcomeFailed, time.Since(started))
		f.logger.WithFields(logging.FetchFields(locator, key, false)).
			WithError(ctx.Err()).Debug("fetch_wait_cancelled")
		return Result{}, fmt.Errorf("fetch %s: %w", locator, ctx.Err())
	}
	if res.Err != nil {
		f.metrics.RecordFetch(metrics.OutcomeFailed, time.Since(started))
		f.logger.WithFields(logging.FetchFields(locator, key, false)).
			WithError(res.Err).Warn("fetch_failed")
		return Result{}, res.Err
	}

	result := res.Val.(Result)
	result.Locator = locator
	result.Shared = res.Shared
	outcome := metrics.OutcomeMiss
	if result.CacheHit {
		outcome = metrics.OutcomeHit
	}
	f.metrics.RecordFetch(outcome, time.Since(started))
	return result, nil
}

// joinFlight 登记一个等待者；该键没有进行中的下载时新建 flight。
func (f *Fetcher) joinFlight(ctx context.Context, key string) *flight {
	f.flightsMu.Lock()
	defer f.flightsMu.Unlock()

	fl := f.flights[key]
	if fl == nil {
		f.flightSeq++
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{
			id:     key + "\x00" + strconv.FormatUint(f.flightSeq, 10),
			ctx:    shared,
			cancel: cancel,
		}
		f.flights[key] = fl
	}
	fl.waiters++
	return fl
}

// leaveFlight 注销等待者，最后一个离开时取消共享下载。
func (f *Fetcher) leaveFlight(key string, fl *flight) {
	f.flightsMu.Lock()
	defer f.flightsMu.Unlock()

	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if f.flights[key] == fl {
		delete(f.flights, key)
	}
}

// fill 在持有同键互斥的前提下重新检查缓存，然后按次数重试下载。
func (f *Fetcher) fill(ctx context.Context, locator, key string) (Result, error) {
	path := f.store.PathFor(key)
	logger := f.logger.WithFields(logging.FetchFields(locator, key, false))

	if f.locker != nil {
		unlock, err := f.locker.Acquire(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("lock cache key: %w", err)
		}
		defer unlock()
	}

	if f.store.Exists(key) {
		return Result{Key: key, Path: path, CacheHit: true}, nil
	}

	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 && f.backoff > 0 {
			if err := sleepContext(ctx, f.backoff); err != nil {
				lastErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		attempts = attempt
		written, err := f.download(ctx, locator, key, logger)
		f.metrics.RecordAttempt(err == nil, written)
		if err == nil {
			logger.WithFields(logrus.Fields{
				"action":   "fetch",
				"attempts": attempt,
				"bytes":    written,
				"path":     path,
			}).Info("fetch_complete")
			return Result{Key: key, Path: path, Attempts: attempt}, nil
		}

		lastErr = err
		logger.WithFields(logrus.Fields{
			"action":  "fetch",
			"attempt": attempt,
			"max":     f.maxAttempts,
		}).WithError(err).Warn("fetch_attempt_failed")
	}

	if err := f.store.Remove(key); err != nil {
		logger.WithError(err).Debug("fetch_cleanup_failed")
	}
	return Result{}, &ExhaustedError{Locator: locator, Attempts: attempts, Last: lastErr}
}

// download 执行单次尝试：清理旧文件、写入临时文件，成功后原子提交。
func (f *Fetcher) download(ctx context.Context, locator, key string, logger logrus.FieldLogger) (int64, error) {
	if err := f.store.Remove(key); err != nil {
		return 0, fmt.Errorf("remove stale entry: %w", err)
	}

	pending, err := f.store.Begin(key)
	if err != nil {
		return 0, fmt.Errorf("create cache entry: %w", err)
	}
	// Commit 之后 Abort 为空操作
	defer discardPending(logger, pending)

	body, err := f.opener.OpenStream(ctx, locator)
	if err != nil {
		return 0, err
	}
	defer stream.CloseQuietly(logger, body, "response body")

	written, err := stream.CopyBuffer(ctx, pending, body, make([]byte, f.bufferSize))
	if err != nil {
		return written, fmt.Errorf("copy response: %w", err)
	}

	if _, err := pending.Commit(); err != nil {
		return written, err
	}
	return written, nil
}

func discardPending(logger logrus.FieldLogger, pending *cache.Pending) {
	if err := pending.Abort(); err != nil {
		logger.WithField("temp", pending.TempPath()).WithError(err).Debug("fetch_abort_failed")
	}
}

func (f *Fetcher) checkSpace() error {
	if f.minFreeSpace == 0 {
		return nil
	}
	available, err := f.spaceProbe(f.store.Root())
	if err != nil {
		f.logger.WithField("action", "probe").WithError(err).Debug("space_probe_failed")
		return nil
	}
	if available < uint64(f.minFreeSpace) {
		return fmt.Errorf("%w: %d bytes available, %d required", ErrInsufficientSpace, available, f.minFreeSpace)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
