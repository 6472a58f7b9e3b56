package worker

import (
	"context"
	"errors"
	"slices"

	"github.com/sirupsen/logrus"
)

// Start 在进程启动时建立控制者：
// 当前代已存在则直接恢复并清理旧代；否则完整部署；
// 部署失败时恢复名称最新的旧代继续服务，并返回安装错误。
func Start(ctx context.Context, host *Host, opts Options) (*Worker, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Tasks == nil {
		opts.Tasks = host.Tasks()
	}
	w, err := NewWorker(opts)
	if err != nil {
		return nil, err
	}

	names, err := opts.Store.Generations(ctx)
	if err != nil {
		return nil, err
	}

	if slices.Contains(names, opts.Generation) {
		if err := w.Resume(ctx); err != nil {
			return nil, err
		}
		host.Claim(w)
		if err := w.Activate(ctx); err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "activate",
				"generation": opts.Generation,
			}).Error(err.Error())
		}
		return w, nil
	}

	deployErr := host.Deploy(ctx, w)
	if deployErr == nil || w.Installed() {
		return w, deployErr
	}

	previous := newestOther(names, opts.Generation)
	if previous == "" {
		return nil, deployErr
	}
	fallbackOpts := opts
	fallbackOpts.Generation = previous
	fallback, err := NewWorker(fallbackOpts)
	if err != nil {
		return nil, errors.Join(deployErr, err)
	}
	if err := fallback.Resume(ctx); err != nil {
		return nil, errors.Join(deployErr, err)
	}
	host.Claim(fallback)
	opts.Logger.WithFields(logrus.Fields{
		"action":     "resume",
		"generation": previous,
		"wanted":     opts.Generation,
	}).Warn("install failed, serving previous generation")
	return fallback, deployErr
}

// newestOther 返回按名称排序后最后一个非当前代。
func newestOther(names []string, current string) string {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i] != current {
			return sorted[i]
		}
	}
	return ""
}
