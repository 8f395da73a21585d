package physics

import "math"

// Quat is a rotation quaternion. The zero value is not a valid rotation; use Identity.
type Quat struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity returns the rotation that leaves vectors unchanged.
func Identity() Quat {
	return Quat{W: 1}
}

// FromAxisAngle builds the rotation of angle radians around axis.
func FromAxisAngle(axis Vec3, angle float64) Quat {
	unit := axis.Normalize()
	if unit == (Vec3{}) {
		return Identity()
	}
	half := angle * 0.5
	s := math.Sin(half)
	return Quat{W: math.Cos(half), X: unit.X * s, Y: unit.Y * s, Z: unit.Z * s}
}

// Mul composes two rotations; the result applies other first, then q.
func (q Quat) Mul(other Quat) Quat {
	return Quat{
		W: q.W*other.W - q.X*other.X - q.Y*other.Y - q.Z*other.Z,
		X: q.W*other.X + q.X*other.W + q.Y*other.Z - q.Z*other.Y,
		Y: q.W*other.Y - q.X*other.Z + q.Y*other.W + q.Z*other.X,
		Z: q.W*other.Z + q.X*other.Y - q.Y*other.X + q.Z*other.W,
	}
}

// RotateLocal rotates q around one of its own body axes.
func (q Quat) RotateLocal(axis Vec3, angle float64) Quat {
	return q.Mul(FromAxisAngle(axis, angle)).Normalize()
}

// Length returns the quaternion norm.
func (q Quat) Length() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize rescales q to unit length, falling back to Identity for degenerate input.
func (q Quat) Normalize() Quat {
	length := q.Length()
	if length == 0 || math.IsNaN(length) {
		return Identity()
	}
	inv := 1.0 / length
	return Quat{W: q.W * inv, X: q.X * inv, Y: q.Y * inv, Z: q.Z * inv}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	//1.- Expand v' = v + 2w(u×v) + 2u×(u×v) to avoid building a matrix.
	u := Vec3{X: q.X, Y: q.Y, Z: q.Z}
	t := u.Cross(v).Scale(2)
	return v.AddScaled(t, q.W).Add(u.Cross(t))
}

// Forward returns the body forward axis (0,0,-1) expressed in world space.
func (q Quat) Forward() Vec3 {
	return q.Rotate(Forward)
}
