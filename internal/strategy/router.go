package strategy

import (
	"strings"

	"github.com/any-hub/shellcache/internal/fetch"
)

// Kind 标识请求被分派到的策略。
type Kind string

const (
	KindNavigation Kind = "navigation"
	KindPinned     Kind = "pinned"
	KindDefault    Kind = "default"
	// KindBypass 用于不可缓存的方法（POST 等），请求直接透传网络。
	KindBypass Kind = "bypass"
)

// Router 按固定优先级分类请求：导航 > 固定资源 > 默认。
type Router struct {
	pinned string
}

// NewRouter 创建 Router；pinned 为固定资源文件名（如 data.csv），允许带前导 "/" 或 "./"。
func NewRouter(pinned string) *Router {
	pinned = strings.TrimPrefix(strings.TrimSpace(pinned), "./")
	pinned = strings.TrimPrefix(pinned, "/")
	return &Router{pinned: pinned}
}

// Pinned returns the pinned resource file name.
func (r *Router) Pinned() string {
	return r.pinned
}

// Classify 返回唯一匹配的策略，导航意图优先于路径匹配。
func (r *Router) Classify(req *fetch.Request) Kind {
	if req == nil || !req.Interceptable() {
		return KindBypass
	}
	if req.Navigate {
		return KindNavigation
	}
	if r.MatchesPinned(req.Path) {
		return KindPinned
	}
	return KindDefault
}

// MatchesPinned 判断路径的最后一段是否与固定资源名相同，前导分隔符可有可无。
func (r *Router) MatchesPinned(p string) bool {
	if r.pinned == "" {
		return false
	}
	segment := p[strings.LastIndex(p, "/")+1:]
	return segment == r.pinned
}
