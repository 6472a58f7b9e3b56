// Package worker 把生命周期管理与策略引擎组装成一个可部署的 Worker，
// 并由 Host 负责部署、切换控制者与请求分发。
package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/background"
	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/lifecycle"
	"github.com/any-hub/shellcache/internal/strategy"
)

// ErrNotInstalled 表示 Worker 尚未安装或恢复，不能处理请求。
var ErrNotInstalled = errors.New("worker not installed")

// Hooks 是宿主运行时驱动的三个事件：install、activate、fetch。
type Hooks interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	Fetch(ctx context.Context, req *fetch.Request) (strategy.Result, error)
}

// Options 描述一个 Worker 版本的全部编译期参数与共享依赖。
type Options struct {
	Store       cache.Store
	Fetcher     fetch.Fetcher
	Tasks       *background.Group
	Generation  string
	Manifest    []string
	AppShell    string
	Pinned      string
	Concurrency int
	Logger      *logrus.Logger
}

// Worker 实现 Hooks；安装或恢复成功后才会持有策略引擎。
type Worker struct {
	opts    Options
	manager *lifecycle.Manager
	router  *strategy.Router

	mu     sync.RWMutex
	engine *strategy.Engine
}

var _ Hooks = (*Worker)(nil)

// NewWorker 构造未安装的 Worker。
func NewWorker(opts Options) (*Worker, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Tasks == nil {
		opts.Tasks = background.NewGroup(opts.Logger)
	}
	manager, err := lifecycle.NewManager(lifecycle.Options{
		Store:       opts.Store,
		Fetcher:     opts.Fetcher,
		Generation:  opts.Generation,
		Manifest:    opts.Manifest,
		Concurrency: opts.Concurrency,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	opts.Manifest = slices.Clone(opts.Manifest)
	return &Worker{
		opts:    opts,
		manager: manager,
		router:  strategy.NewRouter(opts.Pinned),
	}, nil
}

// Generation returns the generation identifier this worker owns.
func (w *Worker) Generation() string {
	return w.opts.Generation
}

// Manifest returns the precache manifest.
func (w *Worker) Manifest() []string {
	return slices.Clone(w.opts.Manifest)
}

// AppShell returns the navigation cache key.
func (w *Worker) AppShell() string {
	return cache.NormalizeKey(w.opts.AppShell)
}

// Pinned returns the pinned resource file name.
func (w *Worker) Pinned() string {
	return w.router.Pinned()
}

// Install 预缓存清单并挂载策略引擎。
func (w *Worker) Install(ctx context.Context) error {
	gen, err := w.manager.Install(ctx)
	if err != nil {
		return err
	}
	return w.attach(gen)
}

// Resume 挂载已存在的当前代而不重新安装，用于进程重启且代未变化的场景。
func (w *Worker) Resume(ctx context.Context) error {
	names, err := w.opts.Store.Generations(ctx)
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}
	if !slices.Contains(names, w.opts.Generation) {
		return fmt.Errorf("%w: generation %s not found", ErrNotInstalled, w.opts.Generation)
	}
	gen, err := w.opts.Store.Open(ctx, w.opts.Generation)
	if err != nil {
		return err
	}
	return w.attach(gen)
}

// Activate 清理当前代以外的全部旧代。
func (w *Worker) Activate(ctx context.Context) error {
	if !w.Installed() {
		return ErrNotInstalled
	}
	return w.manager.Activate(ctx)
}

// Fetch 通过策略引擎处理一次被拦截的请求。
func (w *Worker) Fetch(ctx context.Context, req *fetch.Request) (strategy.Result, error) {
	w.mu.RLock()
	engine := w.engine
	w.mu.RUnlock()
	if engine == nil {
		return strategy.Result{}, ErrNotInstalled
	}
	return engine.Serve(ctx, req)
}

// Installed reports whether the worker has an attached generation.
func (w *Worker) Installed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.engine != nil
}

func (w *Worker) attach(gen cache.Generation) error {
	engine, err := strategy.NewEngine(strategy.Options{
		Generation: gen,
		Fetcher:    w.opts.Fetcher,
		Tasks:      w.opts.Tasks,
		Router:     w.router,
		AppShell:   w.opts.AppShell,
		Logger:     w.opts.Logger,
	})
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.engine = engine
	w.mu.Unlock()
	return nil
}
