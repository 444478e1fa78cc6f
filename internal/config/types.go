package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为：日志、缓存目录、回源参数与解码限制。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	StoragePath     string `mapstructure:"StoragePath"`
	MaxCacheSize    int64  `mapstructure:"MaxCacheSize"`
	MaxCacheEntries int    `mapstructure:"MaxCacheEntries"`
	MinFreeSpace    int64  `mapstructure:"MinFreeSpace"`
	FileLock        bool   `mapstructure:"FileLock"`
	KeyMode         string `mapstructure:"KeyMode"`

	MaxRetries      int      `mapstructure:"MaxRetries"`
	RetryBackoff    Duration `mapstructure:"RetryBackoff"`
	ConnectTimeout  Duration `mapstructure:"ConnectTimeout"`
	ReadTimeout     Duration `mapstructure:"ReadTimeout"`
	MaxRedirects    int      `mapstructure:"MaxRedirects"`
	StrictRedirects bool     `mapstructure:"StrictRedirects"`
	BufferSize      int      `mapstructure:"BufferSize"`

	DefaultWidth        int   `mapstructure:"DefaultWidth"`
	DefaultHeight       int   `mapstructure:"DefaultHeight"`
	MaxDecodePixels     int64 `mapstructure:"MaxDecodePixels"`
	PrefetchConcurrency int   `mapstructure:"PrefetchConcurrency"`
}

// PresetConfig 为常用目标尺寸命名，HTTP 接口可通过 preset 参数引用。
type PresetConfig struct {
	Name    string `mapstructure:"Name"`
	Width   int    `mapstructure:"Width"`
	Height  int    `mapstructure:"Height"`
	Format  string `mapstructure:"Format"`
	Quality int    `mapstructure:"Quality"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Presets []PresetConfig `mapstructure:"Preset"`
}

// PresetNames 返回所有预设名称，供启动日志输出。
func PresetNames(presets []PresetConfig) []string {
	if len(presets) == 0 {
		return nil
	}
	result := make([]string, len(presets))
	for i, preset := range presets {
		result[i] = fmt.Sprintf("%s:%dx%d", preset.Name, preset.Width, preset.Height)
	}
	return result
}
