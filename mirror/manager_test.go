package mirror

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/log/logtest"
)

func TestManagerRegisterAndShutdown(t *testing.T) {
	m := NewManager(logtest.Scoped(t))

	var runs atomic.Int32
	m.Register(context.Background(), "mirror", time.Minute, func(ctx context.Context, delay time.Duration) {
		runs.Add(1)
		<-ctx.Done()
	})
	m.Register(context.Background(), "integrity", time.Minute, func(ctx context.Context, delay time.Duration) {
		runs.Add(1)
		<-ctx.Done()
	})

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}
	if got := runs.Load(); got != 2 {
		t.Errorf("got %d runs, want 2", got)
	}
}

func TestManagerReRegisterCancelsPrevious(t *testing.T) {
	m := NewManager(logtest.Scoped(t))

	firstStopped := make(chan struct{})
	m.Register(context.Background(), "mirror", time.Minute, func(ctx context.Context, delay time.Duration) {
		<-ctx.Done()
		close(firstStopped)
	})
	m.Register(context.Background(), "mirror", time.Minute, func(ctx context.Context, delay time.Duration) {
		<-ctx.Done()
	})

	select {
	case <-firstStopped:
	case <-time.After(5 * time.Second):
		t.Fatal("re-registering did not cancel the earlier task")
	}
	m.Shutdown()
}

func TestManagerCancel(t *testing.T) {
	m := NewManager(logtest.Scoped(t))

	stopped := make(chan struct{})
	m.Register(context.Background(), "full-integrity", time.Minute, func(ctx context.Context, delay time.Duration) {
		<-ctx.Done()
		close(stopped)
	})

	if !m.Cancel("full-integrity") {
		t.Error("Cancel returned false for a registered name")
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled task did not stop")
	}

	if m.Cancel("unknown") {
		t.Error("Cancel returned true for an unknown name")
	}
}
