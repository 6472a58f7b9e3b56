package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/lifecycle"
	"github.com/any-hub/shellcache/internal/server"
)

// runGenerations 列出存储中的全部代；prune 时先按 activate 规则删除非当前代。
func runGenerations(cfg *config.Config, store cache.Store, logger *logrus.Logger, prune bool) int {
	ctx := context.Background()

	if prune {
		origin, err := server.NewOriginFetcher(cfg)
		if err != nil {
			fmt.Fprintf(stdErr, "构建回源客户端失败: %v\n", err)
			return 1
		}
		manager, err := lifecycle.NewManager(lifecycle.Options{
			Store:      store,
			Fetcher:    origin,
			Generation: cfg.Site.Generation,
			Manifest:   cfg.Site.Precache,
			Logger:     logger,
		})
		if err != nil {
			fmt.Fprintf(stdErr, "构建生命周期管理器失败: %v\n", err)
			return 1
		}
		if err := manager.Activate(ctx); err != nil {
			fmt.Fprintf(stdErr, "清理旧代失败: %v\n", err)
			return 1
		}
	}

	names, err := store.Generations(ctx)
	if err != nil {
		fmt.Fprintf(stdErr, "读取代列表失败: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(stdOut, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GENERATION\tENTRIES\tSIZE\tCURRENT")
	for _, name := range names {
		summary, err := cache.Inspect(ctx, store, name)
		if err != nil {
			fmt.Fprintf(stdErr, "读取代 %s 失败: %v\n", name, err)
			return 1
		}
		current := ""
		if name == cfg.Site.Generation {
			current = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", name, len(summary.Entries), humanize.IBytes(uint64(summary.TotalSize)), current)
	}
	if err := w.Flush(); err != nil {
		return 1
	}
	return 0
}
