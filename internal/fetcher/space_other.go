//go:build !linux && !darwin

package fetcher

import "errors"

// AvailableBytes 在不支持 statfs 的平台上返回错误，调用方按“未知”处理。
func AvailableBytes(string) (uint64, error) {
	return 0, errors.New("free space probe unsupported on this platform")
}
