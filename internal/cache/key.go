package cache

import (
	"path"
	"strings"
)

// NormalizeKey 将 "./index.html"、"index.html"、"/index.html" 统一为 "/index.html"，
// 空路径与 "./" 映射为 "/"。可选的查询串原样保留在 "?" 之后。
func NormalizeKey(raw string) string {
	raw = strings.TrimSpace(raw)
	query := ""
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		query = raw[idx+1:]
		raw = raw[:idx]
	}
	return KeyFor(raw, query)
}

// KeyFor 根据请求路径与原始查询串构造缓存 key。
func KeyFor(rawPath, rawQuery string) string {
	clean := CleanPath(rawPath)
	if rawQuery == "" {
		return clean
	}
	return clean + "?" + rawQuery
}

// CleanPath 返回以 "/" 开头且已清理 "."/".." 的路径，保留目录语义的结尾斜杠。
func CleanPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

// SplitKey 拆分 key 的路径与查询部分。
func SplitKey(key string) (string, string) {
	if idx := strings.IndexByte(key, '?'); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}
