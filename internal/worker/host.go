package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/background"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/strategy"
)

// controller 包装当前控制者，便于通过 atomic.Pointer 原子替换。
type controller struct {
	hooks Hooks
}

// Host 是宿主运行时：部署 Worker、原子切换控制者，并把请求分发给当前控制者。
type Host struct {
	network fetch.Fetcher
	tasks   *background.Group
	logger  *logrus.Logger

	deployMu sync.Mutex
	current  atomic.Pointer[controller]
}

// NewHost 创建没有控制者的 Host；此时请求直接透传到 network。
func NewHost(network fetch.Fetcher, tasks *background.Group, logger *logrus.Logger) *Host {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if tasks == nil {
		tasks = background.NewGroup(logger)
	}
	return &Host{network: network, tasks: tasks, logger: logger}
}

// Tasks returns the shared background task group.
func (h *Host) Tasks() *background.Group {
	return h.tasks
}

// Deploy 依次执行 install、立即接管（跳过等待）与 activate。
// install 失败时保留原控制者；接管发生在清理旧代之前，activate 失败时仅返回该错误。
func (h *Host) Deploy(ctx context.Context, hooks Hooks) error {
	h.deployMu.Lock()
	defer h.deployMu.Unlock()

	generation := GenerationOf(hooks)
	if err := hooks.Install(ctx); err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "deploy",
			"generation": generation,
			"previous":   GenerationOf(h.Controller()),
		}).Warnf("install failed, keeping previous controller: %v", err)
		return err
	}

	h.claim(hooks)

	if err := hooks.Activate(ctx); err != nil {
		err = fmt.Errorf("activate %s: %w", generation, err)
		h.logger.WithFields(logrus.Fields{
			"action":     "activate",
			"generation": generation,
		}).Error(err.Error())
		return err
	}
	return nil
}

// Claim 直接接管请求而不经过 install，用于恢复已存在的代。
func (h *Host) Claim(hooks Hooks) {
	h.deployMu.Lock()
	defer h.deployMu.Unlock()
	h.claim(hooks)
}

func (h *Host) claim(hooks Hooks) {
	previous := h.current.Swap(&controller{hooks: hooks})
	fields := logrus.Fields{
		"action":     "claim",
		"generation": GenerationOf(hooks),
	}
	if previous != nil {
		fields["previous"] = GenerationOf(previous.hooks)
	}
	h.logger.WithFields(fields).Info("controller claimed")
}

// Controller 返回当前控制者，没有时返回 nil。
func (h *Host) Controller() Hooks {
	if c := h.current.Load(); c != nil {
		return c.hooks
	}
	return nil
}

// Fetch 把请求交给当前控制者；没有控制者时直接回源，不读写缓存。
func (h *Host) Fetch(ctx context.Context, req *fetch.Request) (strategy.Result, error) {
	if c := h.current.Load(); c != nil {
		return c.hooks.Fetch(ctx, req)
	}
	result := strategy.Result{Kind: strategy.KindBypass, Key: req.Key()}
	if h.network == nil {
		return result, fmt.Errorf("%w: no controller and no network", strategy.ErrNetwork)
	}
	resp, err := h.network.Fetch(ctx, req)
	if err != nil {
		return result, fmt.Errorf("%w: %s: %w", strategy.ErrNetwork, req.Key(), err)
	}
	result.Entry = resp
	return result, nil
}

// Shutdown 排空后台任务，ctx 到期后取消剩余任务。
func (h *Host) Shutdown(ctx context.Context) error {
	err := h.tasks.Shutdown(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.WithFields(logrus.Fields{
			"action":    "shutdown",
			"in_flight": h.tasks.InFlight(),
		}).Warnf("background tasks not drained: %v", err)
	}
	return err
}

// GenerationOf 返回控制者所属的代名称；不提供代信息时返回空串。
func GenerationOf(hooks Hooks) string {
	if named, ok := hooks.(interface{ Generation() string }); ok {
		return named.Generation()
	}
	return ""
}
