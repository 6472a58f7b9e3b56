package fetch

import (
	"context"
	"errors"
	"net/http"

	"github.com/any-hub/shellcache/internal/cache"
)

// Request 描述一次被拦截的请求；Navigate 表示顶层页面导航意图。
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	Navigate bool
}

// Key 返回请求对应的缓存 key（路径 + 可选查询串）。
func (r *Request) Key() string {
	return cache.KeyFor(r.Path, r.RawQuery)
}

// Interceptable 仅 GET/HEAD 请求进入缓存策略，其它方法直接透传到网络。
func (r *Request) Interceptable() bool {
	switch r.Method {
	case "", http.MethodGet, http.MethodHead:
		return true
	default:
		return false
	}
}

// ForKey 构造针对某个缓存 key 的 GET 请求，供 install 预缓存使用。
func ForKey(key string) *Request {
	path, query := cache.SplitKey(cache.NormalizeKey(key))
	return &Request{
		Method:   http.MethodGet,
		Path:     path,
		RawQuery: query,
		Header:   http.Header{},
	}
}

// Fetcher 是“通过网络获取资源”的能力。传输失败返回 error；任何 HTTP 状态码都视为响应。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Entry, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Entry, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Entry, error) {
	return f(ctx, req)
}

// ErrBodyTooLarge 表示上游响应超出 MaxBodySize，视为一次网络失败。
var ErrBodyTooLarge = errors.New("upstream body exceeds size limit")

// IsOK 判断状态码是否为 2xx。
func IsOK(status int) bool {
	return status >= 200 && status < 300
}
