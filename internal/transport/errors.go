package transport

import (
	"errors"
	"fmt"
)

// ErrTooManyRedirects 仅在 StrictRedirects 模式下返回；默认模式静默停止跟随。
var ErrTooManyRedirects = errors.New("redirect limit reached")

// StatusError 表示最终响应状态码不可读取（>= 400）。
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}
