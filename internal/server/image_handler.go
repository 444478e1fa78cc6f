package server

import (
	"bytes"
	"context"
	"image"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/decoder"
	"github.com/any-hub/imghub/internal/fetcher"
)

// ImageLoader 是 image handler 依赖的加载能力，*loader.Loader 实现该接口。
type ImageLoader interface {
	LoadResult(ctx context.Context, locator string, size decoder.Size) (image.Image, fetcher.Result, error)
}

type imageHandler struct {
	loader ImageLoader
	logger *logrus.Logger
}

// NewImageHandler 返回加载、解码并重新编码图片的 ImageHandler。
func NewImageHandler(loader ImageLoader, logger *logrus.Logger) ImageHandler {
	return &imageHandler{loader: loader, logger: logger}
}

func (h *imageHandler) Handle(c fiber.Ctx, req ImageRequest) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fields := logrus.Fields{
		"action":     "image",
		"locator":    req.Locator,
		"preset":     req.Preset,
		"width":      req.Size.Width,
		"height":     req.Size.Height,
		"request_id": RequestID(c),
	}

	img, res, err := h.loader.LoadResult(ctx, req.Locator, req.Size)
	if err != nil {
		h.logger.WithFields(fields).WithError(err).Warn("image_unavailable")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "image_unavailable",
		})
	}

	var buf bytes.Buffer
	contentType := "image/png"
	format := imaging.PNG
	var encodeOpts []imaging.EncodeOption
	if req.Format == FormatJPEG {
		contentType = "image/jpeg"
		format = imaging.JPEG
		encodeOpts = append(encodeOpts, imaging.JPEGQuality(req.Quality))
	}
	if err := imaging.Encode(&buf, img, format, encodeOpts...); err != nil {
		h.logger.WithFields(fields).WithError(err).Error("image_encode_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "image_encode_failed",
		})
	}

	bounds := img.Bounds()
	resultSize := strconv.Itoa(bounds.Dx()) + "x" + strconv.Itoa(bounds.Dy())
	fields["cache_hit"] = res.CacheHit
	fields["result"] = resultSize
	h.logger.WithFields(fields).Info("image_served")

	c.Set(fiber.HeaderContentType, contentType)
	c.Set("X-Imghub-Cache-Hit", strconv.FormatBool(res.CacheHit))
	c.Set("X-Imghub-Size", resultSize)
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}
