package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/any-hub/shellcache/internal/cache"
)

// DefaultMaxBodySize 是未配置时单个响应允许缓冲的最大字节数。
const DefaultMaxBodySize int64 = 64 << 20

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewClient 返回共享 http.Client，用于所有回源请求。
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// OriginOptions 描述回源所需的依赖。
type OriginOptions struct {
	// Base 是站点根地址（作用域根），请求路径会拼接在其 Path 之后。
	Base        *url.URL
	Client      *http.Client
	MaxBodySize int64
}

// Origin 通过 HTTP 从静态站点源拉取资源，并把响应完整缓冲为 cache.Entry。
type Origin struct {
	base    *url.URL
	client  *http.Client
	maxBody int64
}

// NewOrigin 校验 Base 并构造 Origin。
func NewOrigin(opts OriginOptions) (*Origin, error) {
	if opts.Base == nil {
		return nil, errors.New("origin base url required")
	}
	if opts.Base.Scheme != "http" && opts.Base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported origin scheme: %s", opts.Base.Scheme)
	}
	if opts.Base.Host == "" {
		return nil, fmt.Errorf("origin host missing: %s", opts.Base.String())
	}
	client := opts.Client
	if client == nil {
		client = NewClient(0)
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	base := *opts.Base
	return &Origin{base: &base, client: client, maxBody: maxBody}, nil
}

// Fetch 执行一次回源；HEAD 以 GET 发出，保证写回缓存的正文完整。
func (o *Origin) Fetch(ctx context.Context, req *Request) (*cache.Entry, error) {
	upstream := o.ResolveURL(req)
	method := req.Method
	if method == "" || method == http.MethodHead {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, upstream.String(), body)
	if err != nil {
		return nil, err
	}
	CopyHeaders(httpReq.Header, req.Header)
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Host")
	httpReq.Host = upstream.Host

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, o.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(payload)) > o.maxBody {
		return nil, fmt.Errorf("%w: %s", ErrBodyTooLarge, upstream.String())
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &cache.Entry{
		Key:    req.Key(),
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
	}, nil
}

// ResolveURL 将请求路径拼接到站点根地址之后，保留站点子路径（如 GitHub Pages 的项目目录）。
func (o *Origin) ResolveURL(req *Request) *url.URL {
	resolved := *o.base
	basePath := strings.TrimSuffix(o.base.Path, "/")
	reqPath := cache.CleanPath(req.Path)
	resolved.Path = basePath + reqPath
	resolved.RawPath = ""
	resolved.RawQuery = req.RawQuery
	resolved.Fragment = ""
	return &resolved
}

// Base returns the configured origin root.
func (o *Origin) Base() *url.URL {
	base := *o.base
	return &base
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
