// Package bots flies the craft without a human: an autopilot reads snapshots and answers
// with the same control frames a pilot's browser would send.
package bots

import (
	"time"

	"tunnelflight/engine/internal/input"
	"tunnelflight/engine/internal/match"
	"tunnelflight/engine/internal/physics"
	"tunnelflight/engine/internal/simulation"
	"tunnelflight/engine/internal/tunnel"
)

// AutopilotConfig tunes how eagerly the autopilot corrects its heading.
type AutopilotConfig struct {
	// Lookahead is how far down the axis the aim point sits.
	Lookahead float64
	// Deadband is the heading error, as a direction cosine, tolerated before steering.
	Deadband float64
	// Retry resets after a death so the autopilot keeps flying runs.
	Retry bool
}

// DefaultAutopilotConfig aims well ahead so corrections stay gentle.
var DefaultAutopilotConfig = AutopilotConfig{Lookahead: 40, Deadband: 0.03, Retry: true}

// Autopilot decides one control frame per snapshot. It keeps no thruster state of its own:
// the snapshot's thrust flags are authoritative, so a dropped frame is simply re-sent.
type Autopilot struct {
	cfg  AutopilotConfig
	tube tunnel.Tunnel
	now  func() time.Time
	seq  uint64
}

// NewAutopilot builds an autopilot for the canonical tunnel. Non-positive settings fall back
// to DefaultAutopilotConfig.
func NewAutopilot(cfg AutopilotConfig, clock func() time.Time) *Autopilot {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultAutopilotConfig.Lookahead
	}
	if cfg.Deadband <= 0 {
		cfg.Deadband = DefaultAutopilotConfig.Deadband
	}
	if clock == nil {
		clock = time.Now
	}
	return &Autopilot{cfg: cfg, tube: tunnel.Canonical(), now: clock}
}

// Decide returns the frame to send for snapshot, or false when nothing needs to change.
func (a *Autopilot) Decide(snapshot simulation.Snapshot) (input.ControlFrame, bool) {
	switch snapshot.Phase {
	case match.PhaseIdle.String():
		return a.frame(input.CommandStart, "", nil), true
	case match.PhaseDead.String():
		if !a.cfg.Retry {
			return input.ControlFrame{}, false
		}
		return a.frame(input.CommandReset, "", nil), true
	case match.PhaseFlying.String():
	default:
		return input.ControlFrame{}, false
	}

	//1.- Change at most one thruster per snapshot, in the fixed engine order.
	wanted := a.Steering(snapshot)
	for _, engine := range physics.Engines {
		on := wanted.Active(engine)
		if snapshot.Thrust.Active(engine) == on {
			continue
		}
		return a.frame(input.CommandSet, engine.String(), &on), true
	}
	return input.ControlFrame{}, false
}

// Steering returns the thrusters that turn the nose toward a point Lookahead ahead on the
// tunnel axis.
func (a *Autopilot) Steering(snapshot simulation.Snapshot) physics.ThrustState {
	//1.- Aim point: straight down the axis from the craft's axial position.
	onAxis := a.tube.Center.AddScaled(a.tube.Axis, snapshot.Axial+a.cfg.Lookahead)
	desired := onAxis.Sub(snapshot.Position).Normalize()

	//2.- Express the error in the craft's own right and up directions.
	orientation := snapshot.Orientation.Normalize()
	right := orientation.Rotate(physics.AxisX)
	up := orientation.Rotate(physics.AxisY)
	dx := desired.Dot(right)
	dy := desired.Dot(up)

	//3.- The left thruster yaws right and the bottom thruster pitches up.
	var thrust physics.ThrustState
	switch {
	case dx > a.cfg.Deadband:
		thrust.Left = true
	case dx < -a.cfg.Deadband:
		thrust.Right = true
	}
	switch {
	case dy > a.cfg.Deadband:
		thrust.Bottom = true
	case dy < -a.cfg.Deadband:
		thrust.Top = true
	}
	return thrust
}

func (a *Autopilot) frame(kind input.CommandKind, engine string, on *bool) input.ControlFrame {
	a.seq++
	return input.ControlFrame{
		Type:     input.FrameType,
		Sequence: a.seq,
		SentAtMs: a.now().UnixMilli(),
		Action:   string(kind),
		Engine:   engine,
		On:       on,
	}
}
