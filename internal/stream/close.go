package stream

import (
	"io"

	"github.com/sirupsen/logrus"
)

// CloseQuietly 关闭资源并吞掉错误，仅在 debug 级别记录，保证清理失败不会覆盖主流程错误。
func CloseQuietly(logger logrus.FieldLogger, closer io.Closer, what string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil && logger != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"action":   "close",
			"resource": what,
		}).Debug("close_failed")
	}
}
