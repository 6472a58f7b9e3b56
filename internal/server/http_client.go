package server

import (
	"net/http"

	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/fetch"
)

// NewUpstreamClient 返回共享 http.Client，用于所有回源请求。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	return fetch.NewClient(cfg.Global.UpstreamTimeout.DurationValue())
}

// NewOriginFetcher 根据配置构造回源 Fetcher，超时与正文上限来自全局配置。
func NewOriginFetcher(cfg *config.Config) (*fetch.Origin, error) {
	base, err := cfg.Site.OriginURL()
	if err != nil {
		return nil, err
	}
	return fetch.NewOrigin(fetch.OriginOptions{
		Base:        base,
		Client:      NewUpstreamClient(cfg),
		MaxBodySize: cfg.Global.MaxBodySize.Int64(),
	})
}
