package fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientSpace 表示缓存目录所在磁盘可用空间低于阈值，不会发起任何网络请求。
	ErrInsufficientSpace = errors.New("insufficient free space for cache")
	// ErrRetriesExhausted 表示所有下载尝试均失败。
	ErrRetriesExhausted = errors.New("fetch retries exhausted")
)

// ExhaustedError 记录最后一次失败原因，同时满足 errors.Is(err, ErrRetriesExhausted)。
type ExhaustedError struct {
	Locator  string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.Locator, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}
