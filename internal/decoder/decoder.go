// Package decoder 把缓存中的原始图片文件解码为 image.Image，并按目标尺寸以 2 的幂次降采样，
// 避免把全分辨率位图长期留在内存中。
package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	// 额外注册 webp/bmp/tiff 解码器
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/any-hub/imghub/internal/config"
	"github.com/any-hub/imghub/internal/logging"
	"github.com/any-hub/imghub/internal/metrics"
	"github.com/any-hub/imghub/internal/stream"
)

// DefaultMaxPixels 是单张图片允许解码的最大像素数。
const DefaultMaxPixels = 64 * 1024 * 1024

// ErrOutOfMemory 表示图片超出解码像素预算，或解码过程中发生内存分配失败。
var ErrOutOfMemory = errors.New("image too large to decode")

// Size 是解码目标尺寸，零值表示该维度不限制。
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Square 返回宽高相同的目标尺寸。
func Square(n int) Size {
	return Size{Width: n, Height: n}
}

// IsZero 判断是否未指定任何目标尺寸。
func (s Size) IsZero() bool {
	return s.Width <= 0 && s.Height <= 0
}

// Options 控制像素预算与可观测性。
type Options struct {
	MaxPixels int64
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
}

// OptionsFromConfig 读取 MaxDecodePixels。
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{MaxPixels: cfg.Global.MaxDecodePixels}
}

// Decoder 无内部状态，可并发使用。
type Decoder struct {
	maxPixels int64
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
}

// New 构造 Decoder，MaxPixels<=0 时使用 DefaultMaxPixels。
func New(opts Options) *Decoder {
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Decoder{
		maxPixels: opts.MaxPixels,
		logger:    logging.Component(logger, "decoder"),
		metrics:   opts.Metrics,
	}
}

// Decode 读取 path 并返回按 size 降采样后的图片。
func (d *Decoder) Decode(ctx context.Context, path string, size Size) (img image.Image, err error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	started := time.Now()
	defer func() {
		outcome := metrics.OutcomeDecoded
		switch {
		case errors.Is(err, ErrOutOfMemory):
			outcome = metrics.OutcomeOOM
		case err != nil:
			outcome = metrics.OutcomeDecodeErr
		}
		d.metrics.RecordDecode(outcome, time.Since(started))
	}()

	width, height, format, err := d.probe(path)
	if err != nil {
		return nil, err
	}
	if int64(width)*int64(height) > d.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrOutOfMemory, width, height, d.maxPixels)
	}

	img, err = d.decodeSampled(path, size)
	if err != nil {
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		"action": "decode",
		"path":   path,
		"format": format,
		"source": fmt.Sprintf("%dx%d", width, height),
		"result": fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()),
	}).Debug("decode_complete")
	return img, nil
}

func (d *Decoder) probe(path string) (int, int, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, "", err
	}
	defer stream.CloseQuietly(d.logger, f, "image file")

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, "", fmt.Errorf("decode config: %w", err)
	}
	return cfg.Width, cfg.Height, format, nil
}

// decodeSampled 完整解码后按采样率缩小；分配失败的 panic 转换为 ErrOutOfMemory。
func (d *Decoder) decodeSampled(path string, size Size) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("%w: %v", ErrOutOfMemory, r)
		}
	}()

	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	sample := SampleSize(bounds.Dx(), bounds.Dy(), size.Width, size.Height)
	if sample <= 1 {
		return src, nil
	}
	w := max(1, bounds.Dx()/sample)
	h := max(1, bounds.Dy()/sample)
	return imaging.Resize(src, w, h, imaging.Box), nil
}

// SampleSize 计算最大的 2 的幂采样率，使降采样后的宽高仍不小于请求尺寸。
// 请求维度 <=0 视为不限制；两个维度均未指定时返回 1。
func SampleSize(width, height, reqWidth, reqHeight int) int {
	if reqWidth <= 0 && reqHeight <= 0 {
		return 1
	}
	if reqWidth < 0 {
		reqWidth = 0
	}
	if reqHeight < 0 {
		reqHeight = 0
	}

	sample := 1
	if height > reqHeight || width > reqWidth {
		halfHeight := height / 2
		halfWidth := width / 2
		for halfHeight/sample >= reqHeight && halfWidth/sample >= reqWidth {
			sample *= 2
		}
	}
	return sample
}
