package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunsAtLeastOneTick(t *testing.T) {
	var ticks int32
	var elapsed atomic.Int64
	loop := NewLoop(60, func(dt time.Duration) {
		atomic.AddInt32(&ticks, 1)
		elapsed.Add(int64(dt))
	})
	loop.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	loop.Stop()
	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatal("expected loop to tick at least once")
	}
	if elapsed.Load() <= 0 {
		t.Fatal("ticks should report positive elapsed time")
	}
}

func TestLoopStopWithoutCancelReturns(t *testing.T) {
	loop := NewLoop(240, nil)
	loop.Start(context.Background())
	finished := make(chan struct{})
	go func() {
		loop.Stop()
		loop.Stop()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
}

func TestLoopExitsOnContextCancel(t *testing.T) {
	var ticks int32
	loop := NewLoop(240, func(time.Duration) { atomic.AddInt32(&ticks, 1) })
	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	cancel()
	loop.Stop()
	before := atomic.LoadInt32(&ticks)
	time.Sleep(20 * time.Millisecond)
	if after := atomic.LoadInt32(&ticks); after != before {
		t.Fatalf("loop kept ticking after cancel: %d -> %d", before, after)
	}
}

func TestLoopStepDuration(t *testing.T) {
	loop := NewLoop(120, func(time.Duration) {})
	if step := loop.StepDuration(); step != time.Second/120 {
		t.Fatalf("unexpected step duration %v", step)
	}
	if fallback := NewLoop(0, nil).StepDuration(); fallback != time.Second/60 {
		t.Fatalf("unexpected fallback %v", fallback)
	}
}
