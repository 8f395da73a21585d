package match

import (
	"fmt"
	"time"

	"tunnelflight/engine/internal/gameplay"
)

// Phase enumerates the run lifecycle states.
type Phase int

const (
	// PhaseIdle waits for the first control input; no physics runs.
	PhaseIdle Phase = iota
	// PhaseFlying runs the full simulation.
	PhaseFlying
	// PhaseDead freezes the craft until an explicit reset.
	PhaseDead
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFlying:
		return "flying"
	case PhaseDead:
		return "dead"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Cause records why a run ended.
type Cause string

const (
	CauseNone     Cause = ""
	CauseWall     Cause = "wall"
	CauseSideways Cause = "sideways"
	CauseObstacle Cause = "obstacle"
)

// Probe carries the per-tick measurements the kill check consumes.
type Probe struct {
	Lateral     float64
	Alignment   float64
	ObstacleHit bool
}

// KillCause reports which kill condition, if any, the probe trips. Wall contact wins over
// a sideways heading so the more visible failure is reported.
func KillCause(probe Probe, tuning gameplay.Tuning) Cause {
	switch {
	case probe.Lateral >= tuning.KillRadius:
		return CauseWall
	case probe.Alignment < tuning.SidewaysThreshold:
		return CauseSideways
	case probe.ObstacleHit && tuning.ObstacleKills:
		return CauseObstacle
	default:
		return CauseNone
	}
}

// Option configures optional lifecycle parameters at construction time.
type Option func(*Lifecycle)

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Lifecycle) {
		if clock != nil {
			l.now = clock
		}
	}
}

// Lifecycle is the idle, flying, dead state machine of a single run.
type Lifecycle struct {
	phase     Phase
	cause     Cause
	startedAt time.Time
	diedAt    time.Time
	now       func() time.Time
}

// NewLifecycle returns a lifecycle waiting in the idle phase.
func NewLifecycle(opts ...Option) *Lifecycle {
	lifecycle := &Lifecycle{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(lifecycle)
		}
	}
	return lifecycle
}

// Phase returns the current state.
func (l *Lifecycle) Phase() Phase {
	if l == nil {
		return PhaseIdle
	}
	return l.phase
}

// Cause returns the recorded death cause; empty unless dead.
func (l *Lifecycle) Cause() Cause {
	if l == nil {
		return CauseNone
	}
	return l.cause
}

// Alive reports whether the craft has not been destroyed.
func (l *Lifecycle) Alive() bool {
	return l.Phase() != PhaseDead
}

// Started reports whether the run has left the idle phase.
func (l *Lifecycle) Started() bool {
	return l.Phase() != PhaseIdle
}

// Flying reports whether physics should run this tick.
func (l *Lifecycle) Flying() bool {
	return l.Phase() == PhaseFlying
}

// Start moves an idle run into flight. It returns false in every other phase so callers
// can tell whether the input was consumed as the start trigger.
func (l *Lifecycle) Start() bool {
	if l == nil || l.phase != PhaseIdle {
		return false
	}
	l.phase = PhaseFlying
	l.startedAt = l.now()
	return true
}

// Kill ends a flying run with the given cause. Idle and dead runs are unaffected.
func (l *Lifecycle) Kill(cause Cause) bool {
	if l == nil || l.phase != PhaseFlying || cause == CauseNone {
		return false
	}
	//1.- Record the terminal state; only Reset leaves it.
	l.phase = PhaseDead
	l.cause = cause
	l.diedAt = l.now()
	return true
}

// Evaluate runs the kill check for a flying craft and returns the cause when it fires.
func (l *Lifecycle) Evaluate(probe Probe, tuning gameplay.Tuning) Cause {
	if !l.Flying() {
		return CauseNone
	}
	cause := KillCause(probe, tuning)
	if !l.Kill(cause) {
		return CauseNone
	}
	return cause
}

// Reset returns the lifecycle to idle from any phase.
func (l *Lifecycle) Reset() {
	if l == nil {
		return
	}
	l.phase = PhaseIdle
	l.cause = CauseNone
	l.startedAt = time.Time{}
	l.diedAt = time.Time{}
}

// FlightTime reports how long the current or last run has been airborne.
func (l *Lifecycle) FlightTime() time.Duration {
	if l == nil || l.startedAt.IsZero() {
		return 0
	}
	if l.phase == PhaseDead {
		return l.diedAt.Sub(l.startedAt)
	}
	return l.now().Sub(l.startedAt)
}
