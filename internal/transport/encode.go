package transport

import "strings"

// allowedLocatorChars 是编码时保留原样的标点集合，其余非字母数字字节一律百分号编码。
const allowedLocatorChars = "@#&=*+-_.,:!?()/~'%"

const upperHex = "0123456789ABCDEF"

// EncodeLocator 对 locator 中不安全的字节进行百分号编码，保留 HTTP 语法字符与已有的 %XX 转义。
func EncodeLocator(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c < 0x80:
		return strings.IndexByte(allowedLocatorChars, c) >= 0
	default:
		return false
	}
}
