package simulation

import (
	"context"
	"sync"
	"time"
)

// StepFunc advances the simulation by the wall time elapsed since the previous tick.
type StepFunc func(elapsed time.Duration)

// Loop paces a variable timestep simulation at the configured target frequency. Each tick
// reports the monotonic time since the previous one; clamping is left to the world.
type Loop struct {
	interval time.Duration
	stepFunc StepFunc

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, step StepFunc) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &Loop{
		interval: interval,
		stepFunc: step,
	}
}

// Start begins ticking until the context is cancelled or Stop is invoked. Starting a running
// loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	l.stop, l.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		//1.- time.Now carries a monotonic reading so Sub is immune to wall clock jumps.
		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case now := <-ticker.C:
				elapsed := now.Sub(last)
				last = now
				l.stepFunc(elapsed)
			}
		}
	}()
}

// Stop halts the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()
	if done == nil {
		return
	}
	close(stop)
	<-done
}

// StepDuration exposes the configured tick interval.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
