package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoller_Lifecycle(t *testing.T) {
	var runs atomic.Int32
	p := NewPoller("test", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !p.IsRunning() {
		t.Fatal("expected running")
	}
	if err := p.Start(ctx); err == nil {
		t.Fatal("expected error on double start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("task ran %d times", runs.Load())
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if p.IsRunning() {
		t.Fatal("expected stopped")
	}
	// stopping twice is a no-op
	if err := p.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
}

func TestPoller_DefaultInterval(t *testing.T) {
	p := NewPoller("x", 0, func(context.Context) error { return nil })
	if p.interval != 30*time.Second {
		t.Fatalf("interval = %v", p.interval)
	}
}
