package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/decoder"
	"github.com/any-hub/imghub/internal/fetcher"
)

// ImageRequest 是路由层解析出的图片请求。
type ImageRequest struct {
	Locator string
	Size    decoder.Size
	Format  string
	Quality int
	Preset  string
}

// ImageHandler describes the component responsible for producing the encoded
// image for a request. It allows injecting fake handlers during tests.
type ImageHandler interface {
	Handle(fiber.Ctx, ImageRequest) error
}

// ImageHandlerFunc adapts a function to the ImageHandler interface.
type ImageHandlerFunc func(fiber.Ctx, ImageRequest) error

// Handle makes ImageHandlerFunc satisfy ImageHandler.
func (f ImageHandlerFunc) Handle(c fiber.Ctx, req ImageRequest) error {
	return f(c, req)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Presets    *PresetRegistry
	Images     ImageHandler
	ListenPort int
}

const contextKeyRequestID = "_imghub_request_id"

// NewApp builds a Fiber application with request ID middleware, panic recovery
// and the GET /image endpoint.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Presets == nil {
		return nil, errors.New("preset registry is required")
	}
	if opts.Images == nil {
		return nil, errors.New("image handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/image", func(c fiber.Ctx) error {
		req, errCode := parseImageRequest(c, opts.Presets)
		if errCode != "" {
			return renderBadRequest(c, opts.Logger, errCode)
		}
		return opts.Images.Handle(c, req)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// parseImageRequest 解析 url/preset/width/height/format；显式宽高覆盖预设。
func parseImageRequest(c fiber.Ctx, presets *PresetRegistry) (ImageRequest, string) {
	locator := strings.TrimSpace(c.Query("url"))
	if locator == "" {
		return ImageRequest{}, "url_required"
	}
	if !fetcher.IsNetworkLocator(locator) {
		return ImageRequest{}, "local_locator_forbidden"
	}

	req := ImageRequest{
		Locator: locator,
		Size:    presets.DefaultSize(),
		Format:  FormatPNG,
	}

	if name := strings.TrimSpace(c.Query("preset")); name != "" {
		preset, ok := presets.Lookup(name)
		if !ok {
			return ImageRequest{}, "preset_not_found"
		}
		req.Preset = preset.Name
		req.Size = preset.Size
		req.Format = preset.Format
		req.Quality = preset.Quality
	}

	if raw := c.Query("width"); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil || width < 0 {
			return ImageRequest{}, "invalid_width"
		}
		req.Size.Width = width
	}
	if raw := c.Query("height"); raw != "" {
		height, err := strconv.Atoi(raw)
		if err != nil || height < 0 {
			return ImageRequest{}, "invalid_height"
		}
		req.Size.Height = height
	}

	if raw := strings.ToLower(strings.TrimSpace(c.Query("format"))); raw != "" {
		switch raw {
		case FormatPNG:
			req.Format = FormatPNG
		case FormatJPEG, "jpg":
			req.Format = FormatJPEG
		default:
			return ImageRequest{}, "unsupported_format"
		}
	}
	if req.Format == FormatJPEG && req.Quality == 0 {
		req.Quality = defaultJPEGQuality
	}

	return req, ""
}

func renderBadRequest(c fiber.Ctx, logger *logrus.Logger, code string) error {
	logger.WithFields(logrus.Fields{
		"action":     "image_request",
		"error":      code,
		"request_id": RequestID(c),
	}).Warn("image_request_rejected")

	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": code,
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
