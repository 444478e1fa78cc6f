// Package stream 提供固定缓冲区的流拷贝与静默关闭工具，供回源写缓存时复用。
// 拷贝函数不会关闭任何一端，释放由调用方通过 defer CloseQuietly 完成。
package stream

import (
	"context"
	"errors"
	"io"
)

// DefaultBufferSize 是单次读写使用的缓冲区大小（8 KiB）。
const DefaultBufferSize = 8 * 1024

// Copy 使用 size 大小的固定缓冲区把 src 拷贝到 dst，直到 EOF。
func Copy(ctx context.Context, dst io.Writer, src io.Reader, size int) (int64, error) {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return CopyBuffer(ctx, dst, src, make([]byte, size))
}

// CopyBuffer 与 Copy 相同，但复用调用方提供的缓冲区；每次读取前检查 ctx。
func CopyBuffer(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, DefaultBufferSize)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var copied int64
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
