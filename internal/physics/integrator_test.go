package physics

import (
	"math"
	"math/rand/v2"
	"testing"

	"tunnelflight/engine/internal/gameplay"
)

const epsilon = 1e-9

func TestApplyDragNeverIncreasesSpeed(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 500; i++ {
		//1.- Sample arbitrary velocities and step sizes, including zero.
		velocity := Vec3{X: rng.Float64()*80 - 40, Y: rng.Float64()*80 - 40, Z: rng.Float64()*80 - 40}
		step := rng.Float64() * 0.2
		if i%50 == 0 {
			step = 0
		}
		decayed := ApplyDrag(velocity, 0.5, step)
		if decayed.Length() > velocity.Length()+epsilon {
			t.Fatalf("drag increased speed: %v -> %v (step %v)", velocity.Length(), decayed.Length(), step)
		}
	}
	if got := ApplyDrag(Vec3{}, 0.5, 0.016); got != (Vec3{}) {
		t.Fatalf("zero velocity should stay zero, got %+v", got)
	}
}

func TestApplyDragIsFrameRateIndependent(t *testing.T) {
	velocity := Vec3{Z: -20}
	coarse := ApplyDrag(velocity, 0.5, 0.1)
	fine := velocity
	for i := 0; i < 10; i++ {
		fine = ApplyDrag(fine, 0.5, 0.01)
	}
	if math.Abs(coarse.Z-fine.Z) > 1e-9 {
		t.Fatalf("expected identical decay, coarse %v fine %v", coarse.Z, fine.Z)
	}
}

func TestIntegrateRespectsSpeedCap(t *testing.T) {
	tuning := gameplay.DefaultTuning()
	rng := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 300; i++ {
		craft := NewCraft()
		craft.Velocity = Vec3{X: rng.Float64()*200 - 100, Y: rng.Float64()*200 - 100, Z: rng.Float64()*200 - 100}
		craft.Orientation = FromAxisAngle(Vec3{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}, rng.Float64()*math.Pi)
		thrust := ThrustState{Left: rng.IntN(2) == 0, Top: rng.IntN(2) == 0, Right: rng.IntN(2) == 0, Bottom: rng.IntN(2) == 0}
		Integrate(&craft, thrust, Forward, tuning, rng.Float64()*tuning.MaxStep)
		if speed := craft.Speed(); speed > tuning.MaxSpeed+1e-6 {
			t.Fatalf("speed %v exceeds cap %v", speed, tuning.MaxSpeed)
		}
	}
}

func TestIntegrateConvergesToThrustDragEquilibrium(t *testing.T) {
	tuning := gameplay.DefaultTuning()
	craft := NewCraft()
	const step = 0.016

	//1.- One second of straight flight accelerates but stays below the equilibrium.
	for i := 0; i < 63; i++ {
		Integrate(&craft, ThrustState{}, Forward, tuning, step)
	}
	afterOne := craft.Speed()
	if afterOne <= tuning.MinForwardSpeed || afterOne >= tuning.ForwardThrust/tuning.Drag {
		t.Fatalf("unexpected speed after one second: %v", afterOne)
	}

	//2.- Long flight settles near thrust/drag = 24, inside the 35 cap.
	for i := 0; i < 2500; i++ {
		Integrate(&craft, ThrustState{}, Forward, tuning, step)
	}
	equilibrium := tuning.ForwardThrust / tuning.Drag
	if math.Abs(craft.Speed()-equilibrium) > 0.5 {
		t.Fatalf("expected speed near %v, got %v", equilibrium, craft.Speed())
	}
	if craft.Speed() > tuning.MaxSpeed {
		t.Fatalf("speed %v exceeds cap", craft.Speed())
	}
	if craft.Position.Z >= 0 {
		t.Fatalf("craft should travel down the -Z axis, got %+v", craft.Position)
	}
}

func TestIntegrateForwardFloorPreventsStall(t *testing.T) {
	tuning := gameplay.DefaultTuning()
	craft := NewCraft()
	//1.- Fly backwards along the axis; the floor must reverse the drift over time.
	craft.Velocity = Vec3{Z: 10}
	for i := 0; i < 200; i++ {
		Integrate(&craft, ThrustState{}, Forward, tuning, 0.016)
	}
	if along := craft.Velocity.Dot(Forward); along < tuning.MinForwardSpeed-0.5 {
		t.Fatalf("expected forward component near floor, got %v", along)
	}
}

func TestIntegrateIgnoresInvalidStep(t *testing.T) {
	tuning := gameplay.DefaultTuning()
	craft := NewCraft()
	craft.Velocity = Vec3{X: 1}
	before := craft
	Integrate(&craft, ThrustState{Left: true}, Forward, tuning, 0)
	Integrate(&craft, ThrustState{Left: true}, Forward, tuning, -1)
	Integrate(&craft, ThrustState{Left: true}, Forward, tuning, math.NaN())
	Integrate(nil, ThrustState{}, Forward, tuning, 0.016)
	if craft != before {
		t.Fatalf("invalid steps should be no-ops, got %+v", craft)
	}
}

func TestSteerSignConvention(t *testing.T) {
	const step = 0.1
	left := Steer(Identity(), ThrustState{Left: true}, 1, step).Forward()
	right := Steer(Identity(), ThrustState{Right: true}, 1, step).Forward()
	if math.Abs(left.X+right.X) > epsilon || left.X == 0 {
		t.Fatalf("left/right should mirror around the axis: %+v %+v", left, right)
	}
	top := Steer(Identity(), ThrustState{Top: true}, 1, step).Forward()
	bottom := Steer(Identity(), ThrustState{Bottom: true}, 1, step).Forward()
	if math.Abs(top.Y+bottom.Y) > epsilon || top.Y == 0 {
		t.Fatalf("top/bottom should mirror around the axis: %+v %+v", top, bottom)
	}
	both := Steer(Identity(), ThrustState{Left: true, Right: true}, 1, step).Forward()
	if math.Abs(both.X) > epsilon || math.Abs(both.Z+1) > epsilon {
		t.Fatalf("opposing thrusters should cancel, got %+v", both)
	}
}

func TestThrustStateHelpers(t *testing.T) {
	var state ThrustState
	if state.Any() {
		t.Fatal("zero state should be idle")
	}
	state.Toggle(EngineTop)
	state.Set(EngineRight, true)
	if !state.Top || !state.Right || state.Left || state.Bottom {
		t.Fatalf("unexpected state %+v", state)
	}
	state.Toggle(EngineTop)
	if state.Active(EngineTop) {
		t.Fatal("toggle should switch the engine off")
	}
	for _, engine := range Engines {
		parsed, err := ParseEngine(engine.String())
		if err != nil || parsed != engine {
			t.Fatalf("round trip failed for %v: %v", engine, err)
		}
	}
	if _, err := ParseEngine("sideways"); err == nil {
		t.Fatal("expected unknown engine error")
	}
}
