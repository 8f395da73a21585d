package tunnel

import (
	"math"

	"tunnelflight/engine/internal/physics"
)

// degenerateCrossSq is the squared length below which a cross product is treated as
// parallel to its reference vector.
const degenerateCrossSq = 0.01

// basisReferences are tried in order; two fallbacks guarantee a usable cross product for
// any unit axis.
var basisReferences = [...]physics.Vec3{physics.AxisY, physics.AxisX, physics.AxisZ}

// Basis returns two unit vectors perpendicular to axis and to each other.
func Basis(axis physics.Vec3) (physics.Vec3, physics.Vec3) {
	unit := axis.Normalize()
	if unit == (physics.Vec3{}) {
		unit = physics.Forward
	}
	var p1 physics.Vec3
	for _, reference := range basisReferences {
		p1 = unit.Cross(reference)
		if p1.LengthSquared() >= degenerateCrossSq {
			break
		}
	}
	p1 = p1.Normalize()
	p2 := unit.Cross(p1).Normalize()
	return p1, p2
}

// Basis returns the cross-section basis of the corridor.
func (t Tunnel) Basis() (physics.Vec3, physics.Vec3) {
	return Basis(t.Axis)
}

// RingPoint returns the point at the given axial distance, angle and radius from the axis.
func (t Tunnel) RingPoint(axial, angle, radius float64) physics.Vec3 {
	p1, p2 := t.Basis()
	sin, cos := math.Sincos(angle)
	return t.PointAt(axial).AddScaled(p1, cos*radius).AddScaled(p2, sin*radius)
}
