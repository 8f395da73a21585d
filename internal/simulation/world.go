// Package simulation owns the per-tick world of a tunnel run: it applies queued commands,
// integrates the craft, enforces the tunnel boundary, runs the lifecycle and detector, and
// returns a plain snapshot for presentation layers.
package simulation

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"tunnelflight/engine/internal/gameplay"
	"tunnelflight/engine/internal/input"
	"tunnelflight/engine/internal/logging"
	"tunnelflight/engine/internal/match"
	"tunnelflight/engine/internal/physics"
	"tunnelflight/engine/internal/targets"
	"tunnelflight/engine/internal/tunnel"
)

// ClampStep sanitises an elapsed time: NaN and negative values become zero and stalls are
// capped at maxStep.
func ClampStep(dt, maxStep float64) float64 {
	if math.IsNaN(dt) || dt <= 0 {
		return 0
	}
	if maxStep > 0 && dt > maxStep {
		return maxStep
	}
	return dt
}

// Option configures optional World collaborators.
type Option func(*World)

// WithLogger routes lifecycle logs to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *World) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSession records every finished run into session.
func WithSession(session *match.Session) Option {
	return func(w *World) {
		w.session = session
	}
}

// WithClock injects the wall clock used for flight times.
func WithClock(clock func() time.Time) Option {
	return func(w *World) {
		if clock != nil {
			w.now = clock
		}
	}
}

// World is the explicit simulation context. It is not safe for concurrent use; a single
// driver goroutine calls Step.
type World struct {
	tuning    gameplay.Tuning
	tube      tunnel.Tunnel
	craft     physics.Craft
	thrust    physics.ThrustState
	lifecycle *match.Lifecycle
	pool      *targets.Pool
	session   *match.Session
	logger    *logging.Logger
	now       func() time.Time

	tick      uint64
	score     int
	reading   tunnel.Reading
	alignment float64
}

// NewWorld validates tuning and builds an idle world with the pools spawned ahead of the
// origin. rng drives every placement; nil selects a fixed seed.
func NewWorld(tuning gameplay.Tuning, rng *rand.Rand, opts ...Option) (*World, error) {
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	world := &World{
		tuning: tuning,
		logger: logging.L(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(world)
		}
	}
	world.lifecycle = match.NewLifecycle(match.WithClock(world.now))
	world.pool = targets.NewPool(tuning, rng)
	world.restore()
	return world, nil
}

// Tuning returns the active tuning table.
func (w *World) Tuning() gameplay.Tuning {
	return w.tuning
}

// Step applies commands in order, advances the world by the clamped dt and reports the
// resulting state.
func (w *World) Step(dt float64, commands []input.Command) Snapshot {
	var events []Event
	for _, command := range commands {
		events = w.apply(command, events)
	}

	step := ClampStep(dt, w.tuning.MaxStep)
	w.tick++

	switch w.lifecycle.Phase() {
	case match.PhaseIdle:
		//1.- Waiting for input: objects bob gently, nothing moves.
		w.pool.Animate(step, w.tuning.IdleBobRate)
	case match.PhaseFlying:
		events = w.fly(step, events)
	case match.PhaseDead:
		//2.- Frozen craft; only the cosmetic bob continues.
		w.pool.Animate(step, w.tuning.BobRate)
	}

	snapshot := w.snapshot(step)
	snapshot.Events = events
	return snapshot
}

// Snapshot reports the current state without advancing.
func (w *World) Snapshot() Snapshot {
	return w.snapshot(0)
}

func (w *World) fly(step float64, events []Event) []Event {
	if step == 0 {
		return events
	}
	//1.- Integrate, then let the boundary push back and re-cap the speed.
	physics.Integrate(&w.craft, w.thrust, w.tube.Axis, w.tuning, step)
	w.reading = w.tube.ApplyBoundary(w.craft.Position, &w.craft.Velocity, w.tuning, step)
	w.craft.Velocity = w.craft.Velocity.ClampMagnitude(w.tuning.MaxSpeed)
	forward := w.craft.Forward()
	w.alignment = w.tube.Alignment(forward)

	//2.- Wall and sideways checks run before detection; a dead craft collects nothing.
	probe := match.Probe{Lateral: w.reading.Lateral, Alignment: w.alignment}
	if cause := w.lifecycle.Evaluate(probe, w.tuning); cause != match.CauseNone {
		return w.die(cause, events)
	}

	//3.- Bob, then pick up or recycle.
	w.pool.Animate(step, w.tuning.BobRate)
	result := w.pool.Detect(w.craft.Position, forward, w.tube)
	for i := range result.Events {
		detected := result.Events[i]
		kind := EventRecycled
		switch detected.Kind {
		case targets.EventCollected:
			w.score++
			kind = EventCollected
		case targets.EventObstacleHit:
			kind = EventObstacleHit
		}
		events = append(events, Event{Kind: kind, Tick: w.tick, Score: w.score, Target: &detected})
	}
	if result.ObstacleHit {
		probe.ObstacleHit = true
		if cause := w.lifecycle.Evaluate(probe, w.tuning); cause != match.CauseNone {
			return w.die(cause, events)
		}
	}
	return events
}

func (w *World) die(cause match.Cause, events []Event) []Event {
	//1.- Dead craft keep no thrust; the flags stay cleared until reset.
	w.thrust = physics.ThrustState{}
	w.logger.Info("craft destroyed",
		logging.String("cause", string(cause)),
		logging.Int("score", w.score),
		logging.Float64("lateral", w.reading.Lateral),
		logging.Float64("alignment", w.alignment),
		logging.Uint64("tick", w.tick),
	)
	w.recordRun(cause)
	return append(events, Event{Kind: EventDied, Tick: w.tick, Score: w.score, Cause: cause})
}

func (w *World) apply(command input.Command, events []Event) []Event {
	phase := w.lifecycle.Phase()
	switch command.Kind {
	case input.CommandStart:
		if w.lifecycle.Start() {
			events = w.started(events)
		}
	case input.CommandSet, input.CommandToggle:
		switch phase {
		case match.PhaseIdle:
			//1.- The first thrust input starts the run. A toggle is consumed by the start;
			// a held button keeps its state so the thruster fires while it stays pressed.
			if w.lifecycle.Start() {
				events = w.started(events)
				if command.Kind == input.CommandSet {
					w.thrust.Set(command.Engine, command.On)
				}
			}
		case match.PhaseFlying:
			if command.Kind == input.CommandToggle {
				w.thrust.Toggle(command.Engine)
			} else {
				w.thrust.Set(command.Engine, command.On)
			}
		}
	case input.CommandCut:
		w.thrust = physics.ThrustState{}
	case input.CommandReset:
		if phase == match.PhaseFlying {
			w.recordRun(match.CauseNone)
		}
		w.restore()
		w.logger.Info("run reset", logging.String("from", phase.String()), logging.Uint64("tick", w.tick))
		events = append(events, Event{Kind: EventReset, Tick: w.tick + 1})
	default:
		w.logger.Warn("unknown command ignored", logging.String("kind", string(command.Kind)))
	}
	return events
}

func (w *World) started(events []Event) []Event {
	w.logger.Info("run started", logging.Uint64("tick", w.tick))
	return append(events, Event{Kind: EventStarted, Tick: w.tick + 1})
}

// restore puts every piece of run state back to canonical values.
func (w *World) restore() {
	w.craft = physics.NewCraft()
	w.tube = tunnel.Canonical()
	w.thrust = physics.ThrustState{}
	w.score = 0
	w.reading = tunnel.Reading{}
	w.alignment = w.tube.Alignment(w.craft.Forward())
	w.lifecycle.Reset()
	w.pool.Respawn(w.tube, w.tube.Axial(w.craft.Position))
}

func (w *World) recordRun(cause match.Cause) {
	if w.session == nil {
		return
	}
	record := match.RunRecord{Score: w.score, Cause: cause, FlightTime: w.lifecycle.FlightTime(), EndedAt: w.now()}
	if _, err := w.session.RecordRun(record); err != nil {
		w.logger.Warn("record run failed", logging.Error(err))
	}
}

func (w *World) snapshot(step float64) Snapshot {
	return Snapshot{
		Tick:        w.tick,
		Step:        step,
		Phase:       w.lifecycle.Phase().String(),
		Alive:       w.lifecycle.Alive(),
		Started:     w.lifecycle.Started(),
		Position:    w.craft.Position,
		Velocity:    w.craft.Velocity,
		Forward:     w.craft.Forward(),
		Orientation: w.craft.Orientation,
		Thrust:      w.thrust,
		Speed:       w.craft.Speed(),
		Danger:      w.reading.Danger,
		Lateral:     w.reading.Lateral,
		Axial:       w.tube.Axial(w.craft.Position),
		Alignment:   w.alignment,
		Score:       w.score,
		Cause:       w.lifecycle.Cause(),
		FlightTime:  w.lifecycle.FlightTime(),
		Targets:     w.pool.Collectibles(),
		Obstacles:   w.pool.Obstacles(),
	}
}

// String summarises the world for debug logs.
func (w *World) String() string {
	return fmt.Sprintf("tick=%d phase=%s score=%d lateral=%.2f", w.tick, w.lifecycle.Phase(), w.score, w.reading.Lateral)
}
