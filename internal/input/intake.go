package input

import (
	"strconv"
	"time"
)

// Sink receives commands that passed intake. Queue satisfies it.
type Sink interface {
	Push(commands ...Command) int
}

// Outcome reports what happened to one raw control payload.
type Outcome struct {
	Applied    bool
	Command    Command
	Reason     string
	Warn       bool
	Disconnect bool
	Cooldown   time.Duration
}

// Intake reasons that are not validator or gate reasons.
const (
	ReasonNoop      = "noop"
	ReasonQueueFull = "queue_full"
)

// Intake runs raw control payloads through validation and gating and pushes the
// surviving commands into a sink. Transports share one Intake so every client is judged
// the same way.
type Intake struct {
	validator *Validator
	gate      *Gate
	sink      Sink
}

// NewIntake wires the pipeline. A nil validator or gate skips that stage.
func NewIntake(validator *Validator, gate *Gate, sink Sink) *Intake {
	return &Intake{validator: validator, gate: gate, sink: sink}
}

// Submit judges raw on behalf of clientID.
func (i *Intake) Submit(clientID string, raw []byte) Outcome {
	decision := i.validator.Validate(clientID, raw)
	if !decision.Accepted {
		return Outcome{
			Reason:     string(decision.Reason),
			Warn:       decision.Warn,
			Disconnect: decision.Disconnect,
			Cooldown:   decision.Cooldown,
		}
	}
	frame := FrameOf(clientID, decision.Frame)
	frame.Key = throttleKey(decision)
	if verdict := i.gate.Evaluate(frame); !verdict.Accepted {
		return Outcome{Reason: string(verdict.Reason)}
	}
	if !decision.Apply {
		return Outcome{Reason: ReasonNoop}
	}
	if i.Push(decision.Command) == 0 {
		return Outcome{Reason: ReasonQueueFull}
	}
	return Outcome{Applied: true, Command: decision.Command}
}

// throttleKey names what an accepted frame would change. Toggles flip state, so each one is
// distinct; every other command is idempotent and only exact repeats share a key.
func throttleKey(decision ValidationDecision) string {
	switch {
	case !decision.Apply:
		return ReasonNoop
	case decision.Command.Kind == CommandToggle:
		return decision.Command.String() + "#" + strconv.FormatUint(decision.Frame.Sequence, 10)
	default:
		return decision.Command.String()
	}
}

// Push forwards commands that bypass validation, such as the thrust cut issued when a
// pilot disconnects.
func (i *Intake) Push(commands ...Command) int {
	if i == nil || i.sink == nil {
		return 0
	}
	return i.sink.Push(commands...)
}

// Forget drops per-client validator and gate state.
func (i *Intake) Forget(clientID string) {
	if i == nil {
		return
	}
	i.validator.Forget(clientID)
	i.gate.Forget(clientID)
}

// ValidatorMetrics exposes validator counters for diagnostics.
func (i *Intake) ValidatorMetrics() map[string]ValidationCounters {
	if i == nil {
		return nil
	}
	return i.validator.Metrics()
}

// GateMetrics exposes gate counters for diagnostics.
func (i *Intake) GateMetrics() map[string]DropCounters {
	if i == nil {
		return nil
	}
	return i.gate.Metrics()
}
