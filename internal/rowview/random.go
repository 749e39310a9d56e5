package rowview

import (
	"math/rand/v2"
	"strings"
)

const randomAlphabet = "0123456789abcdefghijklmnopqrstuvwxy"

// DefaultRandomLength 随机别名本地部分的默认长度
const DefaultRandomLength = 10

// RandomAlias 生成随机本地部分，domain 非空时追加 @domain
func RandomAlias(length int, domain string) string {
	if length <= 0 {
		length = DefaultRandomLength
	}

	var b strings.Builder
	b.Grow(length + len(domain) + 1)
	for i := 0; i < length; i++ {
		b.WriteByte(randomAlphabet[rand.IntN(len(randomAlphabet))])
	}
	if domain != "" {
		b.WriteByte('@')
		b.WriteString(domain)
	}
	return b.String()
}

// cut 拆分别名为本地部分和域名
func cut(pattern string) (local, domain string, found bool) {
	i := strings.LastIndexByte(pattern, '@')
	if i < 0 {
		return pattern, "", false
	}
	return pattern[:i], pattern[i+1:], true
}
