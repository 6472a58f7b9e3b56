package background

import (
	"context"
	"errors"
	"testing"
	"time"
)

type ctxKey struct{}

func TestGroupTaskOutlivesParentContext(t *testing.T) {
	g := NewGroup(nil)
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))

	started := make(chan struct{})
	release := make(chan struct{})
	result := make(chan error, 1)
	if err := g.Go(parent, "write_back", func(ctx context.Context) error {
		close(started)
		<-release
		if ctx.Value(ctxKey{}) != "req-1" {
			result <- errors.New("context values should be preserved")
			return nil
		}
		result <- ctx.Err()
		return nil
	}); err != nil {
		t.Fatalf("go error: %v", err)
	}

	<-started
	cancel()
	close(release)
	g.Wait()

	if err := <-result; err != nil {
		t.Fatalf("task context must not follow parent cancellation: %v", err)
	}
	if g.InFlight() != 0 {
		t.Fatalf("expected no in-flight tasks, got %d", g.InFlight())
	}
}

func TestGroupCountsFailuresAndPanics(t *testing.T) {
	g := NewGroup(nil)
	_ = g.Go(context.Background(), "fail", func(context.Context) error { return errors.New("boom") })
	_ = g.Go(context.Background(), "panic", func(context.Context) error { panic("boom") })
	_ = g.Go(context.Background(), "ok", func(context.Context) error { return nil })
	g.Wait()

	if g.Failed() != 2 {
		t.Fatalf("expected 2 failed tasks, got %d", g.Failed())
	}
}

func TestGroupShutdownDrainsTasks(t *testing.T) {
	g := NewGroup(nil)
	finished := make(chan struct{})
	_ = g.Go(context.Background(), "slow", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		close(finished)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	select {
	case <-finished:
	default:
		t.Fatalf("shutdown returned before task finished")
	}

	if err := g.Go(context.Background(), "late", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestGroupShutdownCancelsAfterDeadline(t *testing.T) {
	g := NewGroup(nil)
	cancelled := make(chan struct{})
	_ = g.Go(context.Background(), "stuck", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	select {
	case <-cancelled:
	default:
		t.Fatalf("stuck task should have been cancelled")
	}
}
