package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/any-hub/imghub/internal/config"
	"github.com/any-hub/imghub/internal/decoder"
)

// 输出编码格式。
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

const defaultJPEGQuality = 85

// Preset 将配置中的 [[Preset]] 与解析后的尺寸/格式聚合在一起，供路由层直接复用。
type Preset struct {
	Name    string       `json:"name"`
	Size    decoder.Size `json:"size"`
	Format  string       `json:"format"`
	Quality int          `json:"quality,omitempty"`
}

// PresetRegistry 提供名称到 Preset 的查询能力，名称大小写不敏感。
type PresetRegistry struct {
	presets     map[string]*Preset
	ordered     []*Preset
	defaultSize decoder.Size
}

// NewPresetRegistry 根据配置构建预设表。调用方应在启动阶段创建一次并复用。
func NewPresetRegistry(cfg *config.Config) (*PresetRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &PresetRegistry{
		presets: make(map[string]*Preset, len(cfg.Presets)),
		defaultSize: decoder.Size{
			Width:  cfg.Global.DefaultWidth,
			Height: cfg.Global.DefaultHeight,
		},
	}

	for _, item := range cfg.Presets {
		name := normalizePresetName(item.Name)
		if name == "" {
			return nil, errors.New("preset name required")
		}
		if _, exists := registry.presets[name]; exists {
			return nil, fmt.Errorf("duplicate preset detected for %s", item.Name)
		}

		preset := buildPreset(item)
		registry.presets[name] = preset
		registry.ordered = append(registry.ordered, preset)
	}

	return registry, nil
}

// Lookup 根据名称查找 Preset。
func (r *PresetRegistry) Lookup(name string) (*Preset, bool) {
	if r == nil {
		return nil, false
	}
	preset, ok := r.presets[normalizePresetName(name)]
	return preset, ok
}

// List 返回按配置顺序排列的预设副本，用于 /-/presets 输出。
func (r *PresetRegistry) List() []Preset {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]Preset, len(r.ordered))
	for i, preset := range r.ordered {
		result[i] = *preset
	}
	return result
}

// DefaultSize 返回未指定尺寸时使用的全局默认值。
func (r *PresetRegistry) DefaultSize() decoder.Size {
	if r == nil {
		return decoder.Size{}
	}
	return r.defaultSize
}

func buildPreset(item config.PresetConfig) *Preset {
	format := strings.ToLower(item.Format)
	if format == "" {
		format = FormatPNG
	}
	quality := item.Quality
	if format == FormatJPEG && quality == 0 {
		quality = defaultJPEGQuality
	}
	return &Preset{
		Name:    item.Name,
		Size:    decoder.Size{Width: item.Width, Height: item.Height},
		Format:  format,
		Quality: quality,
	}
}

func normalizePresetName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
