package fetcher

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/any-hub/imghub/internal/config"
)

// KeyDeriver 把 locator 映射为缓存键，必须是确定性的纯函数。
type KeyDeriver func(locator string) string

// IdentityKey 直接使用 locator 作为缓存键。
func IdentityKey(locator string) string {
	return locator
}

// SHA1Key 使用 locator 的 SHA-1 十六进制摘要作为缓存键。
func SHA1Key(locator string) string {
	sum := sha1.Sum([]byte(locator))
	return hex.EncodeToString(sum[:])
}

// MD5Key 使用 locator 的 MD5 十六进制摘要作为缓存键。
func MD5Key(locator string) string {
	sum := md5.Sum([]byte(locator))
	return hex.EncodeToString(sum[:])
}

// ResolveKeyDeriver 将配置中的 KeyMode 转换为 KeyDeriver，空值视为 identity。
func ResolveKeyDeriver(mode string) (KeyDeriver, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", config.KeyModeIdentity:
		return IdentityKey, nil
	case config.KeyModeSHA1:
		return SHA1Key, nil
	case config.KeyModeMD5:
		return MD5Key, nil
	default:
		return nil, fmt.Errorf("unsupported key mode %q", mode)
	}
}
