package config

import (
	"errors"
	"strings"
)

// 缓存键派生模式。
const (
	KeyModeIdentity = "identity"
	KeyModeSHA1     = "sha1"
	KeyModeMD5      = "md5"
)

var supportedKeyModes = map[string]struct{}{
	KeyModeIdentity: {},
	KeyModeSHA1:     {},
	KeyModeMD5:      {},
}

var supportedFormats = map[string]struct{}{
	"":     {},
	"png":  {},
	"jpeg": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxCacheSize <= 0 {
		return newFieldError("Global.MaxCacheSize", "必须大于 0")
	}
	if g.MaxCacheEntries <= 0 {
		return newFieldError("Global.MaxCacheEntries", "必须大于 0")
	}
	if g.MinFreeSpace < 0 {
		return newFieldError("Global.MinFreeSpace", "不能为负数")
	}
	if _, ok := supportedKeyModes[strings.ToLower(g.KeyMode)]; !ok {
		return newFieldError("Global.KeyMode", "仅支持 identity/sha1/md5")
	}
	if g.MaxRetries < 1 {
		return newFieldError("Global.MaxRetries", "至少为 1")
	}
	if g.RetryBackoff.DurationValue() < 0 {
		return newFieldError("Global.RetryBackoff", "不能为负数")
	}
	if g.ConnectTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ConnectTimeout", "必须大于 0")
	}
	if g.ReadTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ReadTimeout", "必须大于 0")
	}
	if g.MaxRedirects < 0 {
		return newFieldError("Global.MaxRedirects", "不能为负数")
	}
	if g.BufferSize <= 0 {
		return newFieldError("Global.BufferSize", "必须大于 0")
	}
	if g.DefaultWidth < 0 || g.DefaultHeight < 0 {
		return newFieldError("Global.DefaultWidth/DefaultHeight", "不能为负数")
	}
	if g.MaxDecodePixels <= 0 {
		return newFieldError("Global.MaxDecodePixels", "必须大于 0")
	}
	if g.PrefetchConcurrency <= 0 {
		return newFieldError("Global.PrefetchConcurrency", "必须大于 0")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Presets {
		preset := &c.Presets[i]
		if preset.Name == "" {
			return newFieldError("Preset[].Name", "不能为空")
		}
		normalized := strings.ToLower(preset.Name)
		if _, exists := seenNames[normalized]; exists {
			return newFieldError(presetField(preset.Name, "Name"), "重复")
		}
		seenNames[normalized] = struct{}{}

		if preset.Width <= 0 || preset.Height <= 0 {
			return newFieldError(presetField(preset.Name, "Width/Height"), "必须大于 0")
		}
		if _, ok := supportedFormats[preset.Format]; !ok {
			return newFieldError(presetField(preset.Name, "Format"), "仅支持 png/jpeg")
		}
		if preset.Quality < 0 || preset.Quality > 100 {
			return newFieldError(presetField(preset.Name, "Quality"), "必须在 0-100")
		}
	}

	return nil
}
