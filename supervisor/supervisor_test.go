package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroup_GoSurvivesErrorsAndPanics(t *testing.T) {
	g := New(context.Background())
	var ran atomic.Int32

	g.Go("fails", func(ctx context.Context) error {
		ran.Add(1)
		return errors.New("boom")
	})
	g.Go("panics", func(ctx context.Context) error {
		ran.Add(1)
		panic("bad")
	})
	g.Go("ok", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	if err := g.Wait(); err != nil {
		t.Fatalf("non-fatal tasks should not fail the group: %v", err)
	}
	if ran.Load() != 3 {
		t.Errorf("ran %d tasks", ran.Load())
	}
}

func TestGroup_GoFatalCancelsSiblings(t *testing.T) {
	g := New(context.Background())
	g.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.GoFatal("server", func(ctx context.Context) error {
		return errors.New("listen failed")
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "server: listen failed") {
			t.Errorf("Wait = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fatal failure did not cancel the group")
	}
}

func TestGroup_FatalPanic(t *testing.T) {
	g := New(context.Background())
	g.GoFatal("crash", func(ctx context.Context) error { panic("oops") })
	if err := g.Wait(); !errors.Is(err, ErrPanic) {
		t.Errorf("Wait = %v, want ErrPanic", err)
	}
}

func TestGroup_Stop(t *testing.T) {
	g := New(context.Background())
	started := make(chan struct{})
	g.GoFatal("loop", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	if g.Active() != 1 {
		t.Errorf("Active = %d", g.Active())
	}
	g.Stop()
	if err := g.Wait(); err != nil {
		t.Errorf("cancellation should not be reported as failure: %v", err)
	}
	if g.Active() != 0 {
		t.Errorf("Active after Wait = %d", g.Active())
	}
}
