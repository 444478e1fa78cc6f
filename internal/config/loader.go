package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultCacheSize    = 10 * 1024 * 1024
	defaultMinFreeSpace = 10 * 1024 * 1024
	defaultBufferSize   = 8 * 1024
	defaultDecodePixels = 64 * 1024 * 1024
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Presets {
		applyPresetDefaults(&cfg.Presets[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("MaxCacheSize", defaultCacheSize)
	v.SetDefault("MaxCacheEntries", 4096)
	v.SetDefault("MinFreeSpace", defaultMinFreeSpace)
	v.SetDefault("FileLock", true)
	v.SetDefault("KeyMode", KeyModeIdentity)
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("RetryBackoff", "0s")
	v.SetDefault("ConnectTimeout", "5s")
	v.SetDefault("ReadTimeout", "60s")
	v.SetDefault("MaxRedirects", 5)
	v.SetDefault("StrictRedirects", false)
	v.SetDefault("BufferSize", defaultBufferSize)
	v.SetDefault("DefaultWidth", 0)
	v.SetDefault("DefaultHeight", 0)
	v.SetDefault("MaxDecodePixels", defaultDecodePixels)
	v.SetDefault("PrefetchConcurrency", 4)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.ConnectTimeout.DurationValue() == 0 {
		g.ConnectTimeout = Duration(5 * time.Second)
	}
	if g.ReadTimeout.DurationValue() == 0 {
		g.ReadTimeout = Duration(60 * time.Second)
	}
	if g.BufferSize == 0 {
		g.BufferSize = defaultBufferSize
	}
	g.KeyMode = strings.ToLower(strings.TrimSpace(g.KeyMode))
	if g.KeyMode == "" {
		g.KeyMode = KeyModeIdentity
	}
}

func applyPresetDefaults(p *PresetConfig) {
	p.Name = strings.TrimSpace(p.Name)
	p.Format = strings.ToLower(strings.TrimSpace(p.Format))
	if p.Format == "jpg" {
		p.Format = "jpeg"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
