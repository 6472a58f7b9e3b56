// Package background 跟踪脱离请求生命周期的后台任务（缓存写回、后台刷新），
// 请求返回后任务继续运行，进程退出前统一排空。
package background

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrClosed 表示 Group 已开始关闭，不再接受新任务。
var ErrClosed = errors.New("background group closed")

// Task 是一个后台任务；返回的错误只记录日志，不会传递给发起方。
type Task func(ctx context.Context) error

// Group 管理后台任务，Shutdown 时等待排空或在截止时间到达后取消剩余任务。
type Group struct {
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	inFlight atomic.Int64
	failed   atomic.Int64
}

// NewGroup 创建 Group；logger 可为空。
func NewGroup(logger *logrus.Logger) *Group {
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{logger: logger, ctx: ctx, cancel: cancel}
}

// Go 启动一个脱离 parent 取消信号的任务；parent 中的值仍可读取。
// Group 关闭后返回 ErrClosed，任务不会执行。
func (g *Group) Go(parent context.Context, name string, task Task) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.wg.Add(1)
	g.inFlight.Add(1)
	g.mu.Unlock()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := context.WithCancel(context.WithoutCancel(parent))
	release := context.AfterFunc(g.ctx, stop)

	go func() {
		defer func() {
			release()
			stop()
			g.inFlight.Add(-1)
			g.wg.Done()
		}()
		g.run(ctx, name, task)
	}()
	return nil
}

func (g *Group) run(ctx context.Context, name string, task Task) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			g.failed.Add(1)
			g.log(name, started).WithField("panic", r).Error("background task panic")
		}
	}()
	if err := task(ctx); err != nil {
		g.failed.Add(1)
		g.log(name, started).WithError(err).Warn("background task failed")
		return
	}
	if g.logger != nil && g.logger.IsLevelEnabled(logrus.DebugLevel) {
		g.log(name, started).Debug("background task done")
	}
}

func (g *Group) log(name string, started time.Time) *logrus.Entry {
	logger := g.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(logrus.Fields{
		"action":     name,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
}

// Wait 阻塞直到当前所有任务结束，测试中用于等待后台写回落盘。
func (g *Group) Wait() {
	g.wg.Wait()
}

// InFlight 返回仍在运行的任务数。
func (g *Group) InFlight() int64 {
	return g.inFlight.Load()
}

// Failed 返回累计失败（含 panic）的任务数。
func (g *Group) Failed() int64 {
	return g.failed.Load()
}

// Shutdown 拒绝新任务并等待已有任务完成；ctx 到期时取消剩余任务并返回 ctx.Err()。
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		<-done
		return ctx.Err()
	}
}
