package physics

import (
	"fmt"
	"math"
	"strings"

	"tunnelflight/engine/internal/gameplay"
)

// Engine identifies one of the four steering thrusters.
type Engine int

const (
	EngineLeft Engine = iota
	EngineTop
	EngineRight
	EngineBottom
)

// Engines lists every thruster in a stable order.
var Engines = [...]Engine{EngineLeft, EngineTop, EngineRight, EngineBottom}

func (e Engine) String() string {
	switch e {
	case EngineLeft:
		return "left"
	case EngineTop:
		return "top"
	case EngineRight:
		return "right"
	case EngineBottom:
		return "bottom"
	default:
		return fmt.Sprintf("engine(%d)", int(e))
	}
}

// ParseEngine resolves a thruster name.
func ParseEngine(raw string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "left":
		return EngineLeft, nil
	case "top":
		return EngineTop, nil
	case "right":
		return EngineRight, nil
	case "bottom":
		return EngineBottom, nil
	default:
		return 0, fmt.Errorf("unknown engine %q", raw)
	}
}

// MarshalText renders the thruster by name.
func (e Engine) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (e *Engine) UnmarshalText(text []byte) error {
	parsed, err := ParseEngine(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ThrustState holds one flag per steering thruster.
type ThrustState struct {
	Left   bool `json:"left"`
	Top    bool `json:"top"`
	Right  bool `json:"right"`
	Bottom bool `json:"bottom"`
}

// Active reports whether the thruster is firing.
func (s ThrustState) Active(e Engine) bool {
	switch e {
	case EngineLeft:
		return s.Left
	case EngineTop:
		return s.Top
	case EngineRight:
		return s.Right
	case EngineBottom:
		return s.Bottom
	}
	return false
}

// Set switches a thruster on or off.
func (s *ThrustState) Set(e Engine, on bool) {
	switch e {
	case EngineLeft:
		s.Left = on
	case EngineTop:
		s.Top = on
	case EngineRight:
		s.Right = on
	case EngineBottom:
		s.Bottom = on
	}
}

// Toggle flips a thruster.
func (s *ThrustState) Toggle(e Engine) {
	s.Set(e, !s.Active(e))
}

// Any reports whether at least one thruster is firing.
func (s ThrustState) Any() bool {
	return s.Left || s.Top || s.Right || s.Bottom
}

// Craft is the player-controlled body.
type Craft struct {
	Position    Vec3
	Velocity    Vec3
	Orientation Quat
}

// NewCraft returns a craft at the origin, at rest, facing down the canonical axis.
func NewCraft() Craft {
	return Craft{Orientation: Identity()}
}

// Forward returns the craft heading in world space.
func (c Craft) Forward() Vec3 {
	return c.Orientation.Forward()
}

// Speed returns the velocity magnitude.
func (c Craft) Speed() float64 {
	return c.Velocity.Length()
}

// Steer rotates the orientation for every firing thruster. Left and top turn by a
// negative angle, right and bottom by a positive one.
func Steer(orientation Quat, thrust ThrustState, turnRate, step float64) Quat {
	angle := turnRate * step
	if thrust.Left {
		orientation = orientation.RotateLocal(AxisY, -angle)
	}
	if thrust.Right {
		orientation = orientation.RotateLocal(AxisY, angle)
	}
	if thrust.Top {
		orientation = orientation.RotateLocal(AxisX, -angle)
	}
	if thrust.Bottom {
		orientation = orientation.RotateLocal(AxisX, angle)
	}
	return orientation
}

// ApplyDrag decays velocity with the continuous-time factor exp(-drag*step).
func ApplyDrag(velocity Vec3, drag, step float64) Vec3 {
	if step <= 0 || drag <= 0 {
		return velocity
	}
	return velocity.Scale(math.Exp(-drag * step))
}

// ApplyForwardFloor nudges the component of velocity along axis toward floor when it falls
// below it, converging at rate response independent of the frame rate.
func ApplyForwardFloor(velocity, axis Vec3, floor, response, step float64) Vec3 {
	if step <= 0 || floor <= 0 {
		return velocity
	}
	along := velocity.Dot(axis)
	if along >= floor {
		return velocity
	}
	blend := 1 - math.Exp(-response*step)
	return velocity.AddScaled(axis, (floor-along)*blend)
}

// Integrate advances the craft by step seconds under the given thrust flags. The tunnel
// axis drives the forward-speed floor.
func Integrate(craft *Craft, thrust ThrustState, axis Vec3, tuning gameplay.Tuning, step float64) {
	//1.- Skip integration when inputs are missing or invalid.
	if craft == nil || !(step > 0) {
		return
	}
	//2.- Turn first so this tick's thrust follows the new heading.
	craft.Orientation = Steer(craft.Orientation, thrust, tuning.TurnRate, step)
	forward := craft.Orientation.Forward()

	//3.- Constant forward thrust, then exponential drag.
	velocity := craft.Velocity.AddScaled(forward, tuning.ForwardThrust*step)
	velocity = ApplyDrag(velocity, tuning.Drag, step)

	//4.- Cap, apply the forward floor, then cap again so the magnitude bound always holds.
	velocity = velocity.ClampMagnitude(tuning.MaxSpeed)
	velocity = ApplyForwardFloor(velocity, axis, tuning.MinForwardSpeed, tuning.FloorResponse, step)
	velocity = velocity.ClampMagnitude(tuning.MaxSpeed)
	craft.Velocity = velocity

	//5.- Advance the position with the standard Euler step.
	craft.Position = craft.Position.AddScaled(velocity, step)
}
