// Package strategy 实现请求分类与三种缓存策略：
// 导航走 app shell 缓存优先，固定资源走缓存优先 + 后台刷新，其余走网络优先 + 缓存兜底。
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/background"
	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
)

var (
	// ErrNetwork 表示导航请求在缓存未命中时回源失败，没有更多兜底。
	ErrNetwork = errors.New("network fetch failed")
	// ErrNoResponse 表示网络失败且缓存中也没有对应条目。
	ErrNoResponse = errors.New("no cached response available")
)

// Result 是一次策略执行的结果。
type Result struct {
	Entry      *cache.Entry
	Kind       Kind
	Key        string
	Generation string
	FromCache  bool
}

// Options 描述 Engine 的依赖。
type Options struct {
	Generation cache.Generation
	Fetcher    fetch.Fetcher
	Tasks      *background.Group
	Router     *Router
	// AppShell 为导航请求读取与写回的 key，例如 "./index.html"。
	AppShell string
	Logger   *logrus.Logger
}

// Engine 在当前代上执行策略；多个请求可并发调用 Serve。
type Engine struct {
	gen       cache.Generation
	fetcher   fetch.Fetcher
	tasks     *background.Group
	router    *Router
	shellKey  string
	pinnedKey string
	logger    *logrus.Logger
}

// NewEngine 校验依赖并构造 Engine。
func NewEngine(opts Options) (*Engine, error) {
	if opts.Generation == nil {
		return nil, errors.New("strategy engine requires a cache generation")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("strategy engine requires a fetcher")
	}
	if opts.Router == nil {
		return nil, errors.New("strategy engine requires a router")
	}
	tasks := opts.Tasks
	if tasks == nil {
		tasks = background.NewGroup(opts.Logger)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		gen:       opts.Generation,
		fetcher:   opts.Fetcher,
		tasks:     tasks,
		router:    opts.Router,
		shellKey:  cache.NormalizeKey(opts.AppShell),
		pinnedKey: cache.NormalizeKey(opts.Router.Pinned()),
		logger:    logger,
	}, nil
}

// Generation returns the generation this engine reads and writes.
func (e *Engine) Generation() cache.Generation {
	return e.gen
}

// Serve 分类请求并执行唯一匹配的策略。
func (e *Engine) Serve(ctx context.Context, req *fetch.Request) (Result, error) {
	var (
		result Result
		err    error
	)
	switch e.router.Classify(req) {
	case KindNavigation:
		result, err = e.serveNavigation(ctx, req)
	case KindPinned:
		result, err = e.servePinned(ctx, req)
	case KindDefault:
		result, err = e.serveDefault(ctx, req)
	default:
		result, err = e.serveBypass(ctx, req)
	}
	result.Generation = e.gen.Name()
	return result, err
}

// serveNavigation: app shell 命中直接返回；未命中回源并在后台写回 app shell key。
func (e *Engine) serveNavigation(ctx context.Context, req *fetch.Request) (Result, error) {
	result := Result{Kind: KindNavigation, Key: e.shellKey}
	if shell := e.lookup(ctx, e.shellKey); shell != nil {
		result.Entry = shell
		result.FromCache = true
		return result, nil
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return result, fmt.Errorf("%w: %s: %w", ErrNetwork, req.Key(), err)
	}
	e.writeBack(ctx, e.shellKey, resp)
	result.Entry = resp
	return result, nil
}

// servePinned: 总是发起后台刷新；有缓存时立即返回缓存，没有时等待刷新给出的兜底值。
func (e *Engine) servePinned(ctx context.Context, req *fetch.Request) (Result, error) {
	result := Result{Kind: KindPinned, Key: e.pinnedKey}
	cached := e.lookup(ctx, e.pinnedKey)

	fallback := make(chan *cache.Entry, 1)
	refresh := func(taskCtx context.Context) error {
		resp, err := e.fetcher.Fetch(taskCtx, req)
		if err != nil {
			fallback <- cached
			e.logger.WithFields(logrus.Fields{
				"action":     "refresh",
				"generation": e.gen.Name(),
				"key":        e.pinnedKey,
			}).Debugf("background refresh failed: %v", err)
			return nil
		}
		fallback <- resp.Clone()
		return e.put(taskCtx, e.pinnedKey, resp)
	}
	if err := e.tasks.Go(ctx, "refresh", refresh); err != nil {
		if cached != nil {
			// 后台任务组已关闭：已有缓存时放弃本次刷新，不阻塞响应。
			e.logger.WithFields(logrus.Fields{
				"action":     "refresh",
				"generation": e.gen.Name(),
				"key":        e.pinnedKey,
			}).Debugf("background refresh skipped: %v", err)
		} else if refreshErr := refresh(context.WithoutCancel(ctx)); refreshErr != nil {
			e.logWriteBackFailure(e.pinnedKey, refreshErr)
		}
	}

	if cached != nil {
		result.Entry = cached
		result.FromCache = true
		return result, nil
	}

	select {
	case fresh := <-fallback:
		if fresh == nil {
			return result, fmt.Errorf("%w: %s", ErrNoResponse, e.pinnedKey)
		}
		result.Entry = fresh
		return result, nil
	case <-ctx.Done():
		return result, ctx.Err()
	}
}

// serveDefault: 网络优先，成功后写回请求 key，失败时读取缓存。
func (e *Engine) serveDefault(ctx context.Context, req *fetch.Request) (Result, error) {
	key := req.Key()
	result := Result{Kind: KindDefault, Key: key}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		e.writeBack(ctx, key, resp)
		result.Entry = resp
		return result, nil
	}

	if cached := e.lookup(ctx, key); cached != nil {
		result.Entry = cached
		result.FromCache = true
		return result, nil
	}
	return result, fmt.Errorf("%w: %s: %w", ErrNoResponse, key, err)
}

func (e *Engine) serveBypass(ctx context.Context, req *fetch.Request) (Result, error) {
	result := Result{Kind: KindBypass, Key: req.Key()}
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return result, fmt.Errorf("%w: %s: %w", ErrNetwork, req.Key(), err)
	}
	result.Entry = resp
	return result, nil
}

// lookup 读取缓存；ErrNotFound 以外的读错误记录日志并按未命中处理。
func (e *Engine) lookup(ctx context.Context, key string) *cache.Entry {
	entry, err := e.gen.Get(ctx, key)
	if err == nil {
		return entry
	}
	if !errors.Is(err, cache.ErrNotFound) {
		e.logger.WithFields(logrus.Fields{
			"action":     "cache_read",
			"generation": e.gen.Name(),
			"key":        key,
		}).Warnf("cache read failed: %v", err)
	}
	return nil
}

// writeBack 以后台任务写回响应副本，不阻塞当前响应。
func (e *Engine) writeBack(ctx context.Context, key string, resp *cache.Entry) {
	if !isCacheableStatus(resp.Status) {
		return
	}
	copied := resp.Clone()
	task := func(taskCtx context.Context) error {
		return e.put(taskCtx, key, copied)
	}
	if err := e.tasks.Go(ctx, "write_back", task); err != nil {
		if putErr := task(context.WithoutCancel(ctx)); putErr != nil {
			e.logWriteBackFailure(key, putErr)
		}
	}
}

func (e *Engine) put(ctx context.Context, key string, resp *cache.Entry) error {
	if !isCacheableStatus(resp.Status) {
		return nil
	}
	stored := resp.Clone()
	stored.Key = key
	stored.StoredAt = time.Time{}
	if err := e.gen.Put(ctx, stored); err != nil {
		return fmt.Errorf("write back %s to %s: %w", key, e.gen.Name(), err)
	}
	return nil
}

func (e *Engine) logWriteBackFailure(key string, err error) {
	e.logger.WithFields(logrus.Fields{
		"action":     "write_back",
		"generation": e.gen.Name(),
		"key":        key,
	}).Warn(err.Error())
}

// isCacheableStatus 只缓存 200 响应。404、5xx 等响应照常返回给客户端，
// 但既不写回也不会覆盖已缓存的条目，因此离线时不会回放错误页。
func isCacheableStatus(status int) bool {
	return status == http.StatusOK
}
