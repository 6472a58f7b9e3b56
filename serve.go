package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/background"
	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/server/routes"
	"github.com/any-hub/shellcache/internal/worker"
)

// serve 按“回源 Fetcher → Host → Worker 启动 → Fiber server”顺序装配并阻塞到收到退出信号。
func serve(opts cliOptions, cfg *config.Config, store cache.Store, logger *logrus.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	origin, err := server.NewOriginFetcher(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建回源客户端失败: %v\n", err)
		return 1
	}

	tasks := background.NewGroup(logger)
	host := worker.NewHost(origin, tasks, logger)
	if _, err := worker.Start(ctx, host, workerOptions(cfg, store, origin, tasks, logger)); err != nil {
		// 无可用代时 Host 直接透传，服务照常启动。
		logger.WithFields(logrus.Fields{
			"action":     "startup",
			"generation": cfg.Site.Generation,
			"controller": worker.GenerationOf(host.Controller()),
		}).Warn(err.Error())
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      server.NewHandler(host, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	routes.RegisterStatusRoutes(app, routes.StatusOptions{Host: host, Store: store})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   cfg.Global.ListenPort,
	}).Info("Fiber 服务启动")

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.Global.ListenPort))
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	site := cfg.Site
	timeout := cfg.Global.ShutdownTimeout.DurationValue()
	for {
		select {
		case err := <-listenErr:
			shutdownHost(host, timeout, logger)
			if err != nil {
				fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
				return 1
			}
			return 0
		case <-reload:
			site = reloadSite(ctx, opts.configPath, site, host, store, logger)
		case <-ctx.Done():
			return shutdown(app, host, timeout, logger)
		}
	}
}

// workerOptions 把站点配置映射为一个 Worker 版本。
func workerOptions(cfg *config.Config, store cache.Store, origin fetch.Fetcher, tasks *background.Group, logger *logrus.Logger) worker.Options {
	return worker.Options{
		Store:       store,
		Fetcher:     origin,
		Tasks:       tasks,
		Generation:  cfg.Site.Generation,
		Manifest:    cfg.Site.Precache,
		AppShell:    cfg.Site.AppShell,
		Pinned:      cfg.Site.PinnedResource,
		Concurrency: cfg.Site.PrecacheConcurrency,
		Logger:      logger,
	}
}

// reloadSite 重新读取配置；站点部署参数变化时部署新的 Worker 版本，失败时保留当前控制者。
// 全局参数（端口、日志、存储）只在重启后生效。
func reloadSite(ctx context.Context, configPath string, current config.SiteConfig, host *worker.Host, store cache.Store, logger *logrus.Logger) config.SiteConfig {
	fields := logging.BaseFields("reload", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithFields(fields).Warn(err.Error())
		return current
	}
	if cfg.Site.SameDeployment(current) {
		fields["result"] = "unchanged"
		logger.WithFields(fields).Info("站点配置未变化")
		return current
	}

	origin, err := server.NewOriginFetcher(cfg)
	if err != nil {
		logger.WithFields(fields).Warn(err.Error())
		return current
	}
	next, err := worker.NewWorker(workerOptions(cfg, store, origin, host.Tasks(), logger))
	if err != nil {
		logger.WithFields(fields).Warn(err.Error())
		return current
	}
	fields["generation"] = cfg.Site.Generation
	if err := host.Deploy(ctx, next); err != nil {
		logger.WithFields(fields).Warn(err.Error())
		if worker.GenerationOf(host.Controller()) != cfg.Site.Generation {
			return current
		}
	}
	fields["result"] = "deployed"
	logger.WithFields(fields).Info("新版本已接管")
	return cfg.Site
}

// shutdown 先停止接收新请求，再排空后台任务，总耗时受 ShutdownTimeout 约束。
func shutdown(app *fiber.App, host *worker.Host, timeout time.Duration, logger *logrus.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	code := 0
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.WithField("action", "shutdown").Warnf("HTTP 服务关闭失败: %v", err)
		code = 1
	}
	if err := host.Shutdown(ctx); err != nil {
		logger.WithFields(logrus.Fields{
			"action":    "shutdown",
			"in_flight": host.Tasks().InFlight(),
		}).Warnf("后台任务未能按时完成: %v", err)
		code = 1
	}
	logger.WithField("action", "shutdown").Info("服务已退出")
	return code
}

func shutdownHost(host *worker.Host, timeout time.Duration, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := host.Shutdown(ctx); err != nil {
		logger.WithField("action", "shutdown").Warnf("后台任务未能按时完成: %v", err)
	}
}
