package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供 locator/缓存键/命中状态字段，供回源与解码日志复用。
func FetchFields(locator, key string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"locator":   locator,
		"cache_key": key,
		"cache_hit": cacheHit,
	}
}

// Discard 返回丢弃全部输出的 logger，适合未注入 logger 的组件与测试。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
