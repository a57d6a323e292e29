// Package supervisor runs the bridge's long-lived background tasks. Every
// task is named, its panics are recovered and its errors are logged, so
// nothing is fired and forgotten.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zhubert/acp-bridge/logger"
)

// ErrPanic wraps a recovered panic.
var ErrPanic = errors.New("task panicked")

// Group supervises a set of goroutines sharing one context.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
	log    *slog.Logger

	mu     sync.Mutex
	active map[string]int
}

// New creates a Group whose context is derived from parent. The context is
// cancelled when a GoFatal task fails or Stop is called.
func New(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{
		ctx:    ctx,
		cancel: cancel,
		eg:     eg,
		log:    logger.WithComponent("supervisor"),
		active: make(map[string]int),
	}
}

// Context returns the group's context.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go runs fn. Its error or panic is logged and does not affect other tasks.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if err := g.run(name, fn); err != nil && !errors.Is(err, context.Canceled) {
			g.log.Error("task failed", "task", name, "error", err)
		}
		return nil
	})
}

// GoFatal runs fn. Its failure cancels the group and is returned by Wait.
func (g *Group) GoFatal(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		err := g.run(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.log.Error("fatal task failed", "task", name, "error", err)
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

func (g *Group) run(name string, fn func(ctx context.Context) error) (err error) {
	g.track(name, 1)
	defer g.track(name, -1)
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("task panicked", "task", name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(g.ctx)
}

func (g *Group) track(name string, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[name] += delta
	if g.active[name] <= 0 {
		delete(g.active, name)
	}
}

// Active returns the number of running tasks.
func (g *Group) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.active {
		n += c
	}
	return n
}

// Stop cancels the group's context.
func (g *Group) Stop() {
	g.cancel()
}

// Wait blocks until every task has returned and reports the first fatal error.
func (g *Group) Wait() error {
	err := g.eg.Wait()
	g.cancel()
	return err
}
