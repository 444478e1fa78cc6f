package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/imghub/internal/cache"
	"github.com/any-hub/imghub/internal/fetcher"
	"github.com/any-hub/imghub/internal/metrics"
	"github.com/any-hub/imghub/internal/server"
	"github.com/any-hub/imghub/internal/version"
)

// DiagnosticsOptions 汇总诊断接口需要的只读依赖，字段均可为空。
type DiagnosticsOptions struct {
	Presets *server.PresetRegistry
	Store   cache.Store
	Metrics *metrics.Metrics
	Network fetcher.NetworkProbe
}

// RegisterDiagnosticRoutes 暴露 /-/health、/-/presets 与 /-/metrics 诊断接口。
func RegisterDiagnosticRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil {
		return
	}

	app.Get("/-/health", func(c fiber.Ctx) error {
		payload := healthPayload{
			Status:  "ok",
			Version: version.Full(),
			Network: opts.Network == nil || opts.Network.IsConnected(),
		}
		if opts.Store != nil {
			stats := opts.Store.Stats()
			payload.Cache = &stats
			opts.Metrics.SetCacheUsage(stats.Entries, stats.Bytes)
		}
		return c.JSON(payload)
	})

	app.Get("/-/presets", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"presets": encodePresets(opts.Presets.List()),
			"default": opts.Presets.DefaultSize(),
		})
	})

	metricsHandler := adaptor.HTTPHandler(opts.Metrics.Handler())
	app.Get("/-/metrics", func(c fiber.Ctx) error {
		if opts.Store != nil {
			stats := opts.Store.Stats()
			opts.Metrics.SetCacheUsage(stats.Entries, stats.Bytes)
		}
		return metricsHandler(c)
	})
}

type healthPayload struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Network bool         `json:"network"`
	Cache   *cache.Stats `json:"cache,omitempty"`
}

type presetPayload struct {
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
	Quality int    `json:"quality,omitempty"`
}

func encodePresets(presets []server.Preset) []presetPayload {
	result := make([]presetPayload, 0, len(presets))
	for _, preset := range presets {
		result = append(result, presetPayload{
			Name:    preset.Name,
			Width:   preset.Size.Width,
			Height:  preset.Size.Height,
			Format:  preset.Format,
			Quality: preset.Quality,
		})
	}
	return result
}
