package simulation

import (
	"sync"
	"time"

	"tunnelflight/engine/internal/input"
	"tunnelflight/engine/internal/logging"
)

// Sink receives every snapshot the runner produces. Publish runs on the loop goroutine and
// must not block.
type Sink interface {
	Publish(Snapshot)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Snapshot)

// Publish implements Sink.
func (f SinkFunc) Publish(snapshot Snapshot) {
	if f != nil {
		f(snapshot)
	}
}

// Runner glues the loop to the world: each tick drains the command queue, steps the world,
// records timings and fans the snapshot out to sinks.
type Runner struct {
	world   *World
	queue   *input.Queue
	monitor *TickMonitor
	logger  *logging.Logger

	sinksMu sync.RWMutex
	sinks   []Sink

	latestMu sync.RWMutex
	latest   Snapshot
}

// NewRunner wires world, queue and monitor together. A nil queue or monitor is replaced by
// an empty one.
func NewRunner(world *World, queue *input.Queue, monitor *TickMonitor, logger *logging.Logger) *Runner {
	if queue == nil {
		queue = input.NewQueue(0)
	}
	if monitor == nil {
		monitor = NewTickMonitor(DefaultStatsWindow)
	}
	if logger == nil {
		logger = logging.L()
	}
	runner := &Runner{world: world, queue: queue, monitor: monitor, logger: logger}
	if world != nil {
		runner.latest = world.Snapshot()
	}
	return runner
}

// AddSink registers a sink for subsequent ticks.
func (r *Runner) AddSink(sink Sink) {
	if r == nil || sink == nil {
		return
	}
	r.sinksMu.Lock()
	r.sinks = append(r.sinks, sink)
	r.sinksMu.Unlock()
}

// Tick is a StepFunc: it advances the world by elapsed and publishes the result.
func (r *Runner) Tick(elapsed time.Duration) {
	if r == nil || r.world == nil {
		return
	}
	//1.- Everything queued since the previous tick applies before this tick's motion.
	commands := r.queue.Drain()
	started := time.Now()
	snapshot := r.world.Step(elapsed.Seconds(), commands)
	r.monitor.Observe(elapsed, time.Since(started))

	r.latestMu.Lock()
	r.latest = snapshot
	r.latestMu.Unlock()

	//2.- Fan out; sinks are expected to copy or drop rather than block.
	r.sinksMu.RLock()
	sinks := r.sinks
	r.sinksMu.RUnlock()
	for _, sink := range sinks {
		sink.Publish(snapshot)
	}
	if len(snapshot.Events) > 0 {
		r.logger.Debug("tick events", logging.Uint64("tick", snapshot.Tick), logging.Int("events", len(snapshot.Events)))
	}
}

// Latest returns the most recently published snapshot.
func (r *Runner) Latest() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.latestMu.RLock()
	defer r.latestMu.RUnlock()
	return r.latest
}

// Queue exposes the command queue that network handlers push into.
func (r *Runner) Queue() *input.Queue {
	if r == nil {
		return nil
	}
	return r.queue
}

// Monitor exposes the frame timing monitor.
func (r *Runner) Monitor() *TickMonitor {
	if r == nil {
		return nil
	}
	return r.monitor
}
