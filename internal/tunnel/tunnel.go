// Package tunnel models the infinite cylindrical corridor the craft flies through and the
// soft boundary that pushes it back toward the axis.
package tunnel

import (
	"math"

	"tunnelflight/engine/internal/gameplay"
	"tunnelflight/engine/internal/physics"
)

// maxEdgeFactor bounds the push factor so the restoring force keeps growing past the hard
// radius without exploding before the kill check fires.
const maxEdgeFactor = 2.0

// Tunnel is a straight corridor defined by a center point and a unit axis direction.
type Tunnel struct {
	Center physics.Vec3 `json:"center"`
	Axis   physics.Vec3 `json:"axis"`
}

// Canonical returns the corridor every run starts in: through the origin, down -Z.
func Canonical() Tunnel {
	return Tunnel{Axis: physics.Forward}
}

// New builds a tunnel and normalizes the axis. A zero axis falls back to the canonical one.
func New(center, axis physics.Vec3) Tunnel {
	unit := axis.Normalize()
	if unit == (physics.Vec3{}) {
		unit = physics.Forward
	}
	return Tunnel{Center: center, Axis: unit}
}

// Reading describes where a point sits relative to the corridor.
type Reading struct {
	// Axial is the signed distance along the axis from the center.
	Axial float64
	// Lateral is the perpendicular distance from the axis.
	Lateral float64
	// LateralDir points from the axis toward the point; zero on the axis.
	LateralDir physics.Vec3
	// Edge is the push factor in [0,2]; zero inside the soft edge.
	Edge float64
	// Danger is the warning level in [0,1].
	Danger float64
}

// Axial projects a point onto the axis.
func (t Tunnel) Axial(point physics.Vec3) float64 {
	return point.Sub(t.Center).Dot(t.Axis)
}

// PointAt returns the point on the axis at the given axial distance.
func (t Tunnel) PointAt(axial float64) physics.Vec3 {
	return t.Center.AddScaled(t.Axis, axial)
}

// Measure computes the axial and lateral offsets of point and the resulting edge and
// danger factors.
func (t Tunnel) Measure(point physics.Vec3, tuning gameplay.Tuning) Reading {
	//1.- Project onto the axis to find the closest centerline point.
	axial := t.Axial(point)
	lateralVec := point.Sub(t.PointAt(axial))
	lateral := lateralVec.Length()
	reading := Reading{Axial: axial, Lateral: lateral, LateralDir: lateralVec.Normalize()}

	//2.- Beyond the soft edge the push factor may exceed 1 while danger saturates.
	if lateral > tuning.SoftEdgeRadius {
		normalized := (lateral - tuning.SoftEdgeRadius) / tuning.EdgeSpan()
		reading.Edge = math.Min(normalized, maxEdgeFactor)
		reading.Danger = math.Min(normalized, 1)
	}
	return reading
}

// ApplyBoundary measures position and adds the quadratic restoring impulse to velocity.
func (t Tunnel) ApplyBoundary(position physics.Vec3, velocity *physics.Vec3, tuning gameplay.Tuning, step float64) Reading {
	reading := t.Measure(position, tuning)
	if velocity == nil || !(step > 0) || reading.Edge == 0 {
		return reading
	}
	//1.- Gentle near the soft edge, sharply stronger toward the hard radius.
	impulse := -tuning.PushStrength * reading.Edge * reading.Edge * step
	*velocity = velocity.AddScaled(reading.LateralDir, impulse)
	return reading
}

// Alignment returns |forward·axis|, how parallel a heading is to the corridor.
func (t Tunnel) Alignment(forward physics.Vec3) float64 {
	return math.Abs(forward.Normalize().Dot(t.Axis))
}
