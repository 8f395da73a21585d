package match

import (
	"testing"
	"time"

	"tunnelflight/engine/internal/gameplay"
)

func TestLifecycleTransitions(t *testing.T) {
	//1.- Install a deterministic clock that advances manually between assertions.
	current := time.Unix(100, 0)
	lifecycle := NewLifecycle(WithClock(func() time.Time { return current }))
	if lifecycle.Phase() != PhaseIdle || lifecycle.Started() || !lifecycle.Alive() {
		t.Fatalf("fresh lifecycle should idle: %v", lifecycle.Phase())
	}
	if lifecycle.Kill(CauseWall) {
		t.Fatal("idle craft cannot die")
	}

	//2.- The first start is consumed, a repeat is not.
	if !lifecycle.Start() || lifecycle.Start() {
		t.Fatal("start should fire exactly once")
	}
	current = current.Add(2 * time.Second)
	if lifecycle.FlightTime() != 2*time.Second {
		t.Fatalf("unexpected flight time %v", lifecycle.FlightTime())
	}

	//3.- Death freezes the flight time and is terminal.
	if !lifecycle.Kill(CauseSideways) || lifecycle.Cause() != CauseSideways {
		t.Fatalf("expected sideways death, got %q", lifecycle.Cause())
	}
	current = current.Add(time.Minute)
	if lifecycle.FlightTime() != 2*time.Second {
		t.Fatalf("flight time should stop at death, got %v", lifecycle.FlightTime())
	}
	if lifecycle.Start() || lifecycle.Kill(CauseWall) || lifecycle.Cause() != CauseSideways {
		t.Fatal("dead lifecycle should ignore start and further kills")
	}

	lifecycle.Reset()
	if lifecycle.Phase() != PhaseIdle || lifecycle.Cause() != CauseNone || lifecycle.FlightTime() != 0 {
		t.Fatalf("reset should restore idle: %v %q", lifecycle.Phase(), lifecycle.Cause())
	}
}

func TestKillCauseConditions(t *testing.T) {
	tuning := gameplay.DefaultTuning()
	lethal := tuning
	lethal.ObstacleKills = true
	cases := []struct {
		name   string
		probe  Probe
		tuning gameplay.Tuning
		want   Cause
	}{
		{"centered", Probe{Lateral: 0, Alignment: 1}, tuning, CauseNone},
		{"hard edge survives", Probe{Lateral: tuning.HardRadius, Alignment: 1}, tuning, CauseNone},
		{"at kill radius", Probe{Lateral: tuning.KillRadius, Alignment: 1}, tuning, CauseWall},
		{"sideways", Probe{Lateral: 1, Alignment: tuning.SidewaysThreshold / 2}, tuning, CauseSideways},
		{"threshold alignment survives", Probe{Alignment: tuning.SidewaysThreshold}, tuning, CauseNone},
		{"wall wins", Probe{Lateral: tuning.KillRadius + 1, Alignment: 0}, tuning, CauseWall},
		{"harmless obstacle", Probe{Alignment: 1, ObstacleHit: true}, tuning, CauseNone},
		{"lethal obstacle", Probe{Alignment: 1, ObstacleHit: true}, lethal, CauseObstacle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KillCause(tc.probe, tc.tuning); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestEvaluateOnlyWhileFlying(t *testing.T) {
	tuning := gameplay.DefaultTuning()
	lifecycle := NewLifecycle()
	deadly := Probe{Lateral: tuning.KillRadius + 1, Alignment: 1}
	if cause := lifecycle.Evaluate(deadly, tuning); cause != CauseNone || !lifecycle.Alive() {
		t.Fatal("idle craft must not be killed")
	}
	lifecycle.Start()
	if cause := lifecycle.Evaluate(Probe{Alignment: 1}, tuning); cause != CauseNone {
		t.Fatalf("safe probe killed the craft: %q", cause)
	}
	if cause := lifecycle.Evaluate(deadly, tuning); cause != CauseWall || lifecycle.Alive() {
		t.Fatalf("expected wall death, got %q", cause)
	}
	if cause := lifecycle.Evaluate(deadly, tuning); cause != CauseNone {
		t.Fatal("death should be reported once")
	}
}
