// Package lifecycle 管理缓存代的安装与激活：install 预缓存清单并原子发布，
// activate 删除当前代以外的全部旧代。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
)

// ErrInstallFailed 表示预缓存未能完整完成，新代未发布。
var ErrInstallFailed = errors.New("install failed")

// DefaultConcurrency 是未配置时的预缓存并发度。
const DefaultConcurrency = 4

// Options 描述 Manager 的依赖与清单。
type Options struct {
	Store       cache.Store
	Fetcher     fetch.Fetcher
	Generation  string
	Manifest    []string
	Concurrency int
	Logger      *logrus.Logger
}

// Manager 负责一个代的 install / activate。
type Manager struct {
	store       cache.Store
	fetcher     fetch.Fetcher
	generation  string
	manifest    []string
	concurrency int
	logger      *logrus.Logger
}

// NewManager 校验代名称与清单并构造 Manager。
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("lifecycle manager requires a cache store")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("lifecycle manager requires a fetcher")
	}
	if err := cache.ValidateGeneration(opts.Generation); err != nil {
		return nil, err
	}
	if len(opts.Manifest) == 0 {
		return nil, errors.New("precache manifest is empty")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		store:       opts.Store,
		fetcher:     opts.Fetcher,
		generation:  opts.Generation,
		manifest:    slices.Clone(opts.Manifest),
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Generation returns the current generation identifier.
func (m *Manager) Generation() string {
	return m.generation
}

// Manifest returns a copy of the precache manifest.
func (m *Manager) Manifest() []string {
	return slices.Clone(m.manifest)
}

// Install 打开（或创建）当前代并预缓存清单中的全部资源。
// 任一资源失败时不写入任何条目；若该代由本次调用创建，则会被删除。
func (m *Manager) Install(ctx context.Context) (cache.Generation, error) {
	started := time.Now()
	existing, err := m.store.Generations(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list generations: %w", ErrInstallFailed, err)
	}
	existed := slices.Contains(existing, m.generation)

	gen, err := m.store.Open(ctx, m.generation)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrInstallFailed, m.generation, err)
	}

	entries, err := m.precache(ctx)
	if err == nil {
		err = gen.PutAll(ctx, entries)
	}
	if err != nil {
		if !existed {
			if delErr := m.store.Delete(context.WithoutCancel(ctx), m.generation); delErr != nil {
				err = errors.Join(err, fmt.Errorf("discard %s: %w", m.generation, delErr))
			}
		}
		m.logger.WithFields(logrus.Fields{
			"action":     "install",
			"generation": m.generation,
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).Error(err.Error())
		return nil, fmt.Errorf("%w: %s: %w", ErrInstallFailed, m.generation, err)
	}

	m.logger.WithFields(logrus.Fields{
		"action":     "install",
		"generation": m.generation,
		"entries":    len(entries),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("generation installed")
	return gen, nil
}

// precache 并发拉取清单，结果按清单顺序返回；重复 key 只拉取一次。
func (m *Manager) precache(ctx context.Context) ([]*cache.Entry, error) {
	keys := make([]string, 0, len(m.manifest))
	for _, raw := range m.manifest {
		key := cache.NormalizeKey(raw)
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}

	entries := make([]*cache.Entry, len(keys))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.concurrency)
	for i, key := range keys {
		group.Go(func() error {
			resp, err := m.fetcher.Fetch(groupCtx, fetch.ForKey(key))
			if err != nil {
				return fmt.Errorf("precache %s: %w", key, err)
			}
			if !fetch.IsOK(resp.Status) {
				return fmt.Errorf("precache %s: unexpected status %d", key, resp.Status)
			}
			resp.Key = key
			entries[i] = resp
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Activate 删除当前代以外的全部代，删除错误合并返回。
func (m *Manager) Activate(ctx context.Context) error {
	names, err := m.store.Generations(ctx)
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}
	var errs []error
	removed := 0
	for _, name := range names {
		if name == m.generation {
			continue
		}
		if err := m.store.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		removed++
	}
	m.logger.WithFields(logrus.Fields{
		"action":     "activate",
		"generation": m.generation,
		"removed":    removed,
	}).Info("stale generations removed")
	return errors.Join(errs...)
}
