// Package loader 组合 fetcher 与 decoder，为调用方提供“给我一张适合显示的图”的单一入口。
// 任何失败都只表现为 ok=false，细节写入日志。
package loader

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/decoder"
	"github.com/any-hub/imghub/internal/fetcher"
	"github.com/any-hub/imghub/internal/logging"
	"github.com/any-hub/imghub/internal/metrics"
)

// Fetcher 是 loader 依赖的下载能力，*fetcher.Fetcher 实现该接口。
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (fetcher.Result, error)
	SetKeyDeriver(deriver fetcher.KeyDeriver)
}

// Decoder 是 loader 依赖的解码能力，*decoder.Decoder 实现该接口。
type Decoder interface {
	Decode(ctx context.Context, path string, size decoder.Size) (image.Image, error)
}

// Options 汇总 loader 的协作者。
type Options struct {
	Fetcher Fetcher
	Decoder Decoder
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Loader 可并发使用。
type Loader struct {
	fetcher Fetcher
	decoder Decoder
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// New 构造 Loader。
func New(opts Options) (*Loader, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("loader: fetcher required")
	}
	if opts.Decoder == nil {
		return nil, errors.New("loader: decoder required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loader{
		fetcher: opts.Fetcher,
		decoder: opts.Decoder,
		logger:  logging.Component(logger, "loader"),
		metrics: opts.Metrics,
	}, nil
}

// SetKeyDeriver 替换缓存键策略，需在首次 Load 之前调用。
func (l *Loader) SetKeyDeriver(deriver fetcher.KeyDeriver) {
	l.fetcher.SetKeyDeriver(deriver)
}

// Load 获取 locator 的缓存文件并解码到 size，失败时返回 nil, false。
func (l *Loader) Load(ctx context.Context, locator string, size decoder.Size) (image.Image, bool) {
	img, _, err := l.LoadResult(ctx, locator, size)
	return img, err == nil
}

// LoadResult 与 Load 相同，但保留 fetch 结果与错误，供 HTTP 层区分状态码。
func (l *Loader) LoadResult(ctx context.Context, locator string, size decoder.Size) (img image.Image, res fetcher.Result, err error) {
	started := time.Now()
	defer func() {
		l.metrics.RecordLoad(err == nil, time.Since(started))
	}()

	res, err = l.fetcher.Fetch(ctx, locator)
	if err != nil {
		l.logger.WithFields(logrus.Fields{"action": "load", "locator": locator}).
			WithError(err).Warn("load_fetch_failed")
		return nil, fetcher.Result{}, err
	}

	img, err = l.decoder.Decode(ctx, res.Path, size)
	if err != nil {
		l.logger.WithFields(logging.FetchFields(locator, res.Key, res.CacheHit)).
			WithField("action", "load").
			WithError(err).Warn("load_decode_failed")
		return nil, res, err
	}
	return img, res, nil
}
