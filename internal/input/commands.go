// Package input turns client control frames into simulation commands and guards the
// stream against replayed, stale, flooding or malformed traffic.
package input

import (
	"fmt"
	"sync"

	"tunnelflight/engine/internal/physics"
)

// CommandKind enumerates the discrete control signals the simulation understands.
type CommandKind string

const (
	// CommandSet switches one thruster to an explicit state, the way a held button does.
	CommandSet CommandKind = "set"
	// CommandToggle flips one thruster, the way a key press does.
	CommandToggle CommandKind = "toggle"
	// CommandStart is the one-shot trigger that leaves the idle phase.
	CommandStart CommandKind = "start"
	// CommandReset restores the canonical run from any phase.
	CommandReset CommandKind = "reset"
	// CommandCut switches every thruster off.
	CommandCut CommandKind = "cut"
)

// Command is one control signal applied before the next tick.
type Command struct {
	Kind   CommandKind    `json:"kind"`
	Engine physics.Engine `json:"engine"`
	On     bool           `json:"on"`
}

// Thrust reports whether the command targets a single thruster.
func (c Command) Thrust() bool {
	return c.Kind == CommandSet || c.Kind == CommandToggle
}

func (c Command) String() string {
	switch c.Kind {
	case CommandSet:
		return fmt.Sprintf("set %s=%t", c.Engine, c.On)
	case CommandToggle:
		return fmt.Sprintf("toggle %s", c.Engine)
	default:
		return string(c.Kind)
	}
}

// Set builds a command holding a thruster on or off.
func Set(engine physics.Engine, on bool) Command {
	return Command{Kind: CommandSet, Engine: engine, On: on}
}

// Toggle builds a command flipping a thruster.
func Toggle(engine physics.Engine) Command {
	return Command{Kind: CommandToggle, Engine: engine}
}

// Start builds the start trigger.
func Start() Command { return Command{Kind: CommandStart} }

// Reset builds the reset trigger.
func Reset() Command { return Command{Kind: CommandReset} }

// Cut builds the cut-all-thrust trigger.
func Cut() Command { return Command{Kind: CommandCut} }

// Queue collects commands from any goroutine until the simulation drains them.
type Queue struct {
	mu       sync.Mutex
	pending  []Command
	limit    int
	dropped  uint64
	received uint64
}

// NewQueue returns a queue holding at most limit commands between ticks. A non-positive
// limit disables the bound.
func NewQueue(limit int) *Queue {
	return &Queue{limit: limit}
}

// Push appends commands in order. Commands beyond the limit are dropped and counted.
func (q *Queue) Push(commands ...Command) int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	accepted := 0
	for _, command := range commands {
		q.received++
		if q.limit > 0 && len(q.pending) >= q.limit {
			q.dropped++
			continue
		}
		q.pending = append(q.pending, command)
		accepted++
	}
	return accepted
}

// Drain hands every pending command to the caller and empties the queue.
func (q *Queue) Drain() []Command {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	drained := q.pending
	q.pending = nil
	return drained
}

// QueueStats exposes intake counters for diagnostics.
type QueueStats struct {
	Pending  int    `json:"pending"`
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	if q == nil {
		return QueueStats{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Pending: len(q.pending), Received: q.received, Dropped: q.dropped}
}
